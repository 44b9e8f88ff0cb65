package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carbon-marketplace/internal/models"
)

// OwnershipRepository handles owners persistence
type OwnershipRepository struct {
	db *PostgresDB
}

// NewOwnershipRepository creates a new ownership repository
func NewOwnershipRepository(db *PostgresDB) *OwnershipRepository {
	return &OwnershipRepository{db: db}
}

const ownershipColumns = `id, user_id, property_id, credits, created_at, updated_at`

func scanOwnership(row pgx.Row) (*models.Ownership, error) {
	var o models.Ownership
	if err := row.Scan(&o.ID, &o.UserID, &o.PropertyID, &o.Credits, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// Create inserts an ownership row
func (r *OwnershipRepository) Create(ctx context.Context, o *models.Ownership) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now

	_, err := r.db.Pool().Exec(ctx,
		`INSERT INTO owners (`+ownershipColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.UserID, o.PropertyID, o.Credits, o.CreatedAt, o.UpdatedAt)
	return mapPgError(err, "failed to create ownership")
}

// GetByID returns one ownership row
func (r *OwnershipRepository) GetByID(ctx context.Context, id string) (*models.Ownership, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("ownership %s: %w", id, ErrNotFound)
	}
	o, err := scanOwnership(r.db.Pool().QueryRow(ctx, `SELECT `+ownershipColumns+` FROM owners WHERE id = $1`, id))
	if err != nil {
		return nil, mapPgError(err, fmt.Sprintf("ownership %s", id))
	}
	return o, nil
}

// ListByUser returns the user's ownership rows, oldest first
func (r *OwnershipRepository) ListByUser(ctx context.Context, userID string) ([]models.Ownership, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+ownershipColumns+` FROM owners WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ownership: %w", err)
	}
	defer rows.Close()

	out := []models.Ownership{}
	for rows.Next() {
		o, err := scanOwnership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ownership: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ListHoldings returns the user's ownership rows joined with their projects.
// Rows whose project no longer exists keep an empty project name.
func (r *OwnershipRepository) ListHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	query := `
		SELECT o.id, o.user_id, o.property_id, o.credits, o.created_at, o.updated_at,
		       COALESCE(p.name, ''), COALESCE(p.type, ''), COALESCE(p.location, ''),
		       COALESCE(p.price::text, '0'), COALESCE(p.image, '')
		FROM owners o
		LEFT JOIN property_data p ON p.id = o.property_id
		WHERE o.user_id = $1
		ORDER BY o.created_at, o.id
	`
	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	out := []models.Holding{}
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(
			&h.ID, &h.UserID, &h.PropertyID, &h.Credits, &h.CreatedAt, &h.UpdatedAt,
			&h.ProjectName, &h.Type, &h.Location, &h.Price, &h.Image,
		); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// decrementWithTx subtracts credits from an ownership row and deletes it when it
// reaches exactly zero. It returns ErrConflict when the row holds fewer credits.
func (r *OwnershipRepository) decrementWithTx(ctx context.Context, tx pgx.Tx, id string, credits int64) (remaining int64, err error) {
	err = tx.QueryRow(ctx, `SELECT credits FROM owners WHERE id = $1 FOR UPDATE`, id).Scan(&remaining)
	if err != nil {
		return 0, mapPgError(err, fmt.Sprintf("ownership %s", id))
	}
	if remaining < credits {
		return remaining, fmt.Errorf("ownership %s holds %d credits, %d requested: %w", id, remaining, credits, ErrConflict)
	}

	remaining -= credits
	if remaining == 0 {
		_, err = tx.Exec(ctx, `DELETE FROM owners WHERE id = $1`, id)
	} else {
		_, err = tx.Exec(ctx, `UPDATE owners SET credits = $2, updated_at = $3 WHERE id = $1`, id, remaining, time.Now().UTC())
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update ownership: %w", err)
	}
	return remaining, nil
}
