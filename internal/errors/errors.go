package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carbon-marketplace/internal/circuitbreaker"
	"github.com/carbon-marketplace/internal/storage"
	"github.com/carbon-marketplace/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryProvider represents failures of remote collaborators (order API, chain)
	CategoryProvider ErrorCategory = "provider"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization represents authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// NewNotFoundError creates a not found error
func NewNotFoundError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    "resource not found",
		Cause:      cause,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(sqlState string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    "database error",
		Cause:      cause,
		Details: map[string]interface{}{
			"sqlState": sqlState,
		},
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       types.CodeServiceUnavailable,
		Message:    "a required service is temporarily unavailable",
		Cause:      cause,
	}
}

// NewProviderTimeoutError creates a provider timeout error
func NewProviderTimeoutError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "PROVIDER_TIMEOUT",
		Message:    "a remote call timed out",
		Cause:      cause,
	}
}

// Categorize categorizes an existing error. Service errors keep their code;
// repository, breaker and deadline errors get a category of their own and
// anything else is internal.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return NewNotFoundError(err)
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return NewServiceUnavailableError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderTimeoutError(err)
	case errors.As(err, &pgErr):
		return NewDatabaseError(pgErr.Code, err)
	}

	return NewInternalError("unexpected error", err)
}

// serviceErrorCategories maps service error codes to their category and status
var serviceErrorCategories = map[string]struct {
	category ErrorCategory
	status   int
}{
	types.CodeInvalidInput:        {CategoryValidation, http.StatusBadRequest},
	types.CodeInsufficientCredits: {CategoryValidation, http.StatusBadRequest},
	types.CodeLoginRequired:       {CategoryAuthorization, http.StatusUnauthorized},
	types.CodeAdminLoginRequired:  {CategoryAuthorization, http.StatusUnauthorized},
	types.CodeInvalidCredentials:  {CategoryAuthorization, http.StatusUnauthorized},
	types.CodeForbidden:           {CategoryAuthorization, http.StatusForbidden},
	types.CodeKYCRequired:         {CategoryAuthorization, http.StatusForbidden},
	types.CodePermissionPending:   {CategoryAuthorization, http.StatusServiceUnavailable},
	types.CodeUserNotFound:        {CategoryNotFound, http.StatusNotFound},
	types.CodePropertyNotFound:    {CategoryNotFound, http.StatusNotFound},
	types.CodeOwnershipNotFound:   {CategoryNotFound, http.StatusNotFound},
	types.CodeRetirementNotFound:  {CategoryNotFound, http.StatusNotFound},
	types.CodeEmailTaken:          {CategoryConflict, http.StatusConflict},
	types.CodeKYCAlreadySubmitted: {CategoryConflict, http.StatusConflict},
	types.CodeOperationInProgress: {CategoryConflict, http.StatusConflict},
	types.CodeRetirementNotReady:  {CategoryConflict, http.StatusConflict},
	types.CodeOrderCreateFailed:   {CategoryProvider, http.StatusBadGateway},
	types.CodePaymentVerifyFailed: {CategoryProvider, http.StatusBadGateway},
	types.CodeChainCallFailed:     {CategoryProvider, http.StatusBadGateway},
	types.CodeServiceUnavailable:  {CategorySystem, http.StatusServiceUnavailable},
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	entry, ok := serviceErrorCategories[err.Code]
	if !ok {
		entry.category, entry.status = CategorySystem, http.StatusInternalServerError
	}
	return &CategorizedError{
		Category:   entry.category,
		StatusCode: entry.status,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
	}
}
