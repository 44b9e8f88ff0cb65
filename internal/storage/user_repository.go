package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carbon-marketplace/internal/models"
)

// UserRepository handles user data persistence
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, first_name, last_name, password_hash, kyc, is_admin, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&u.KYC,
		&u.IsAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create creates a new user. A duplicate email wraps ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		user.ID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.KYC,
		user.IsAdmin,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return mapPgError(err, "failed to create user")
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapPgError(err, fmt.Sprintf("user %s", id))
	}
	return user, nil
}

// GetByEmail retrieves a user by email, case-insensitively
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`

	user, err := scanUser(r.db.Pool().QueryRow(ctx, query, strings.TrimSpace(email)))
	if err != nil {
		return nil, mapPgError(err, fmt.Sprintf("user %s", email))
	}
	return user, nil
}

// List returns every user, newest first
func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// ToggleKYC flips the kyc flag (null becomes true) and returns the new value
func (r *UserRepository) ToggleKYC(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE users
		SET kyc = NOT COALESCE(kyc, FALSE), updated_at = $2
		WHERE id = $1
		RETURNING kyc
	`

	var kyc bool
	if err := r.db.Pool().QueryRow(ctx, query, id, time.Now().UTC()).Scan(&kyc); err != nil {
		return false, mapPgError(err, fmt.Sprintf("user %s", id))
	}
	return kyc, nil
}

// SetKYCWithTx sets the kyc flag inside an open transaction
func (r *UserRepository) SetKYCWithTx(ctx context.Context, tx pgx.Tx, id string, kyc bool) error {
	result, err := tx.Exec(ctx,
		`UPDATE users SET kyc = $2, updated_at = $3 WHERE id = $1`,
		id, kyc, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update kyc flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete deletes a user by ID; dependent rows cascade
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err, "failed to delete user")
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// IsAdmin returns the admin flag of a user
func (r *UserRepository) IsAdmin(ctx context.Context, id string) (bool, error) {
	var admin bool
	err := r.db.Pool().QueryRow(ctx, `SELECT is_admin FROM users WHERE id = $1`, id).Scan(&admin)
	if err != nil {
		return false, mapPgError(err, fmt.Sprintf("user %s", id))
	}
	return admin, nil
}
