package storage

import (
	"context"
	"fmt"

	"github.com/carbon-marketplace/internal/models"
)

// ActivityRepository appends to and reads from the ClickHouse activity ledger
type ActivityRepository struct {
	db *ClickHouseDB
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db *ClickHouseDB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append writes events in one batch
func (r *ActivityRepository) Append(ctx context.Context, events ...models.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `INSERT INTO activity_events (user_id, property_id, kind, quantity, reference, occurred_at)`)
	if err != nil {
		return fmt.Errorf("failed to prepare activity batch: %w", err)
	}
	for _, e := range events {
		if err := batch.Append(e.UserID, e.PropertyID, string(e.Kind), e.Quantity, e.Reference, e.OccurredAt.UTC()); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append activity event: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send activity batch: %w", err)
	}
	return nil
}

// Recent returns the user's latest events, newest first
func (r *ActivityRepository) Recent(ctx context.Context, userID string, limit int) ([]models.ActivityEvent, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT user_id, property_id, kind, quantity, reference, occurred_at
		FROM activity_events
		WHERE user_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	out := []models.ActivityEvent{}
	for rows.Next() {
		var (
			e    models.ActivityEvent
			kind string
		)
		if err := rows.Scan(&e.UserID, &e.PropertyID, &kind, &e.Quantity, &e.Reference, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		e.Kind = models.ActivityKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
