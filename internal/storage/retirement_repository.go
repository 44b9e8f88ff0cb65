package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/types"
)

// ErrInvalidTransition is returned when a retirement is not in a state that allows the change
var ErrInvalidTransition = errors.New("invalid retirement status transition")

// RetirementRepository handles the offset table
type RetirementRepository struct {
	db     *PostgresDB
	owners *OwnershipRepository
}

// NewRetirementRepository creates a new retirement repository
func NewRetirementRepository(db *PostgresDB, owners *OwnershipRepository) *RetirementRepository {
	return &RetirementRepository{db: db, owners: owners}
}

const retirementColumns = `id, user_id, property_id, owner_id, project_name, credits, beneficiary_address,
	beneficiary_name, description, tx_hash, status, error, created_at, updated_at`

func scanRetirement(row pgx.Row) (*models.Retirement, error) {
	var (
		r      models.Retirement
		status string
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.PropertyID, &r.OwnerID, &r.ProjectName, &r.Credits, &r.BeneficiaryAddress,
		&r.BeneficiaryName, &r.Description, &r.TxHash, &status, &r.Error, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = types.RetirementStatus(status)
	return &r, nil
}

// CreatePending records the intent to retire before the chain call
func (r *RetirementRepository) CreatePending(ctx context.Context, ret *models.Retirement) error {
	if ret.ID == "" {
		ret.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	ret.CreatedAt, ret.UpdatedAt = now, now
	ret.Status = types.RetirementPending

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO "offset" (`+retirementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		ret.ID, ret.UserID, ret.PropertyID, ret.OwnerID, ret.ProjectName, ret.Credits, ret.BeneficiaryAddress,
		ret.BeneficiaryName, ret.Description, ret.TxHash, string(ret.Status), ret.Error, ret.CreatedAt, ret.UpdatedAt,
	)
	return mapPgError(err, "failed to record retirement")
}

// GetByID returns one retirement
func (r *RetirementRepository) GetByID(ctx context.Context, id string) (*models.Retirement, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("retirement %s: %w", id, ErrNotFound)
	}
	ret, err := scanRetirement(r.db.Pool().QueryRow(ctx, `SELECT `+retirementColumns+` FROM "offset" WHERE id = $1`, id))
	if err != nil {
		return nil, mapPgError(err, fmt.Sprintf("retirement %s", id))
	}
	return ret, nil
}

// ListByUser returns a user's retirements, newest first
func (r *RetirementRepository) ListByUser(ctx context.Context, userID string) ([]models.Retirement, error) {
	return r.list(ctx, `SELECT `+retirementColumns+` FROM "offset" WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListByStatus returns up to limit retirements in status last touched before olderThan, oldest first
func (r *RetirementRepository) ListByStatus(ctx context.Context, status types.RetirementStatus, olderThan time.Time, limit int) ([]models.Retirement, error) {
	return r.list(ctx, `
		SELECT `+retirementColumns+` FROM "offset"
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, string(status), olderThan, limit)
}

func (r *RetirementRepository) list(ctx context.Context, query string, args ...any) ([]models.Retirement, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list retirements: %w", err)
	}
	defer rows.Close()

	out := []models.Retirement{}
	for rows.Next() {
		ret, err := scanRetirement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retirement: %w", err)
		}
		out = append(out, *ret)
	}
	return out, rows.Err()
}

// ReservedCredits sums the credits of a holding's pending and submitted
// retirements. They are not yet deducted from the holding.
func (r *RetirementRepository) ReservedCredits(ctx context.Context, ownerID string) (int64, error) {
	var reserved int64
	err := r.db.Pool().QueryRow(ctx, `
		SELECT COALESCE(SUM(credits), 0)::BIGINT FROM "offset"
		WHERE owner_id = $1 AND status IN ($2, $3)
	`, ownerID, string(types.RetirementPending), string(types.RetirementSubmitted)).Scan(&reserved)
	if err != nil {
		return 0, fmt.Errorf("failed to sum reserved credits: %w", err)
	}
	return reserved, nil
}

// MarkSubmitted stores the transaction hash of a pending retirement
func (r *RetirementRepository) MarkSubmitted(ctx context.Context, id, txHash string) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE "offset" SET status = $2, tx_hash = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`, id, string(types.RetirementSubmitted), txHash, time.Now().UTC(), string(types.RetirementPending))
	if err != nil {
		return fmt.Errorf("failed to record transaction hash: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("retirement %s is not pending: %w", id, ErrInvalidTransition)
	}
	return nil
}

// MarkFailed moves a pending or submitted retirement to failed. Ownership is untouched.
func (r *RetirementRepository) MarkFailed(ctx context.Context, id, reason string) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE "offset" SET status = $2, error = $3, updated_at = $4
		WHERE id = $1 AND status IN ($5, $6)
	`, id, string(types.RetirementFailed), reason, time.Now().UTC(),
		string(types.RetirementPending), string(types.RetirementSubmitted))
	if err != nil {
		return fmt.Errorf("failed to mark retirement failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("retirement %s is final: %w", id, ErrInvalidTransition)
	}
	return nil
}

// Confirm decrements the ownership and marks the retirement confirmed in one
// transaction. Confirming an already confirmed retirement is a no-op. When the
// ownership no longer covers the credits the retirement is marked failed and
// the returned error wraps ErrConflict.
func (r *RetirementRepository) Confirm(ctx context.Context, id string) (*models.Retirement, error) {
	var confirmed *models.Retirement
	var conflict error

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		ret, err := scanRetirement(tx.QueryRow(ctx, `SELECT `+retirementColumns+` FROM "offset" WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return mapPgError(err, fmt.Sprintf("retirement %s", id))
		}
		if ret.Status == types.RetirementConfirmed {
			confirmed = ret
			return nil
		}
		if ret.Status != types.RetirementSubmitted {
			return fmt.Errorf("retirement %s is %s: %w", id, ret.Status, ErrInvalidTransition)
		}

		now := time.Now().UTC()
		if _, err := r.owners.decrementWithTx(ctx, tx, ret.OwnerID, ret.Credits); err != nil {
			if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrNotFound) {
				return err
			}
			conflict = err
			reason := err.Error()
			_, uerr := tx.Exec(ctx, `UPDATE "offset" SET status = $2, error = $3, updated_at = $4 WHERE id = $1`,
				id, string(types.RetirementFailed), reason, now)
			if uerr != nil {
				return fmt.Errorf("failed to mark retirement failed: %w", uerr)
			}
			return nil
		}

		if _, err := tx.Exec(ctx, `UPDATE "offset" SET status = $2, error = NULL, updated_at = $3 WHERE id = $1`,
			id, string(types.RetirementConfirmed), now); err != nil {
			return fmt.Errorf("failed to confirm retirement: %w", err)
		}
		ret.Status = types.RetirementConfirmed
		ret.Error = nil
		ret.UpdatedAt = now
		confirmed = ret
		return nil
	})
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return nil, fmt.Errorf("%v: %w", conflict, ErrConflict)
	}
	return confirmed, nil
}
