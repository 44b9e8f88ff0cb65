// Package service implements the marketplace workflows on top of the
// storage, chain, order and event collaborators.
package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/carbon-marketplace/internal/adapter"
	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/storage"
	"github.com/carbon-marketplace/internal/types"
)

// Repository interfaces for dependency injection

// UserRepository interface for user data operations
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	ToggleKYC(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	IsAdmin(ctx context.Context, id string) (bool, error)
}

// PropertyRepository interface for property data operations
type PropertyRepository interface {
	Create(ctx context.Context, p *models.Property) error
	Update(ctx context.Context, p *models.Property) error
	GetByID(ctx context.Context, id string) (*models.Property, error)
	List(ctx context.Context, newestFirst bool) ([]models.Property, error)
	NamesByIDs(ctx context.Context, ids []string) (map[string]string, error)
}

// KYCRepository interface for identity submissions
type KYCRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.KYCSubmission, error)
	Exists(ctx context.Context, userID string) (bool, error)
	Submit(ctx context.Context, s *models.KYCSubmission, approve bool) error
}

// OwnershipRepository interface for credit holdings
type OwnershipRepository interface {
	GetByID(ctx context.Context, id string) (*models.Ownership, error)
	ListByUser(ctx context.Context, userID string) ([]models.Ownership, error)
	ListHoldings(ctx context.Context, userID string) ([]models.Holding, error)
}

// RetirementRepository interface for the offset table
type RetirementRepository interface {
	CreatePending(ctx context.Context, r *models.Retirement) error
	GetByID(ctx context.Context, id string) (*models.Retirement, error)
	ListByUser(ctx context.Context, userID string) ([]models.Retirement, error)
	ListByStatus(ctx context.Context, status types.RetirementStatus, olderThan time.Time, limit int) ([]models.Retirement, error)
	ReservedCredits(ctx context.Context, ownerID string) (int64, error)
	MarkSubmitted(ctx context.Context, id, txHash string) error
	MarkFailed(ctx context.Context, id, reason string) error
	Confirm(ctx context.Context, id string) (*models.Retirement, error)
}

// ActivityLedger interface for the append-only activity ledger
type ActivityLedger interface {
	Append(ctx context.Context, events ...models.ActivityEvent) error
	Recent(ctx context.Context, userID string, limit int) ([]models.ActivityEvent, error)
}

// ObjectStore interface for uploaded files
type ObjectStore interface {
	Put(ctx context.Context, bucket, prefix, name string, r io.Reader) (*storage.StoredObject, error)
	Delete(bucket, key string) error
}

// StatusCache interface for short-lived cached lookups
type StatusCache interface {
	KYCStatusKey(userID string) string
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Locker interface for per-user busy locks
type Locker interface {
	Acquire(ctx context.Context, scope, owner string) (func(), error)
}

// OrderGateway interface for the backend order API
type OrderGateway interface {
	CreateOrder(ctx context.Context, req adapter.CreateOrderRequest) (*adapter.Order, error)
	VerifyPayment(ctx context.Context, req adapter.VerifyPaymentRequest) error
}

// ChainRetirer interface for the retirement contract
type ChainRetirer interface {
	Retire(ctx context.Context, call adapter.RetireCall, record func(txHash string) error) (string, error)
	ReceiptStatus(ctx context.Context, txHash string) (adapter.ReceiptStatus, error)
}

// Error helpers

func invalidInput(field, message string) *types.ServiceError {
	return &types.ServiceError{
		Code:    types.CodeInvalidInput,
		Message: message,
		Details: map[string]interface{}{"field": field},
	}
}

func loginRequired() *types.ServiceError {
	return &types.ServiceError{
		Code:    types.CodeLoginRequired,
		Message: "please login to continue",
		Details: map[string]interface{}{"loginPath": "/login"},
	}
}

func operationInProgress() *types.ServiceError {
	return types.NewServiceError(types.CodeOperationInProgress, "an identical request is already being processed")
}

// notFoundAs converts storage.ErrNotFound into a service error with code; other errors pass through
func notFoundAs(err error, code, message string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewServiceError(code, message)
	}
	return err
}

func hasCode(err error, code string) bool {
	var se *types.ServiceError
	return errors.As(err, &se) && se.Code == code
}

// acquire takes the busy lock for (scope, owner), mapping a held lock to OPERATION_IN_PROGRESS
func acquire(ctx context.Context, locks Locker, scope, owner string) (func(), error) {
	if locks == nil {
		return func() {}, nil
	}
	release, err := locks.Acquire(ctx, scope, owner)
	if err != nil {
		if errors.Is(err, storage.ErrLockHeld) {
			return nil, operationInProgress()
		}
		return nil, err
	}
	return release, nil
}

// NopLedger is used when the activity ledger is disabled
type NopLedger struct{}

func (NopLedger) Append(context.Context, ...models.ActivityEvent) error { return nil }
func (NopLedger) Recent(context.Context, string, int) ([]models.ActivityEvent, error) {
	return []models.ActivityEvent{}, nil
}
