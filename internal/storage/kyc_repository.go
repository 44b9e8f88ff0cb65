package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carbon-marketplace/internal/models"
)

// KYCRepository handles user_kyc persistence
type KYCRepository struct {
	db    *PostgresDB
	users *UserRepository
}

// NewKYCRepository creates a new KYC repository
func NewKYCRepository(db *PostgresDB, users *UserRepository) *KYCRepository {
	return &KYCRepository{db: db, users: users}
}

// GetByUserID returns the submission of a user
func (r *KYCRepository) GetByUserID(ctx context.Context, userID string) (*models.KYCSubmission, error) {
	query := `
		SELECT id, user_id, full_name, phone_number, username, document_type, document_number, document_image, created_at
		FROM user_kyc
		WHERE user_id = $1
	`

	var s models.KYCSubmission
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&s.ID,
		&s.UserID,
		&s.FullName,
		&s.PhoneNumber,
		&s.Username,
		&s.DocumentType,
		&s.DocumentNumber,
		&s.DocumentImage,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, mapPgError(err, fmt.Sprintf("kyc submission for %s", userID))
	}
	return &s, nil
}

// Exists reports whether the user has a submission
func (r *KYCRepository) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM user_kyc WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check kyc submission: %w", err)
	}
	return exists, nil
}

// Submit inserts the submission and, when approve is set, flips users.kyc to true
// in the same transaction. A second submission for the user wraps ErrConflict.
func (r *KYCRepository) Submit(ctx context.Context, s *models.KYCSubmission, approve bool) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.CreatedAt = time.Now().UTC()

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_kyc (id, user_id, full_name, phone_number, username, document_type, document_number, document_image, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, s.ID, s.UserID, s.FullName, s.PhoneNumber, s.Username, s.DocumentType, s.DocumentNumber, s.DocumentImage, s.CreatedAt)
		if err != nil {
			return mapPgError(err, "failed to insert kyc submission")
		}
		if approve {
			return r.users.SetKYCWithTx(ctx, tx, s.UserID, true)
		}
		return nil
	})
}
