package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/carbon-marketplace/internal/circuitbreaker"
	"github.com/carbon-marketplace/internal/storage"
	"github.com/carbon-marketplace/internal/types"
)

func TestCategorize_ServiceErrors(t *testing.T) {
	tests := []struct {
		code     string
		status   int
		category ErrorCategory
	}{
		{types.CodeInvalidInput, http.StatusBadRequest, CategoryValidation},
		{types.CodeLoginRequired, http.StatusUnauthorized, CategoryAuthorization},
		{types.CodeForbidden, http.StatusForbidden, CategoryAuthorization},
		{types.CodePropertyNotFound, http.StatusNotFound, CategoryNotFound},
		{types.CodeKYCAlreadySubmitted, http.StatusConflict, CategoryConflict},
		{types.CodeChainCallFailed, http.StatusBadGateway, CategoryProvider},
		{"SOMETHING_ELSE", http.StatusInternalServerError, CategorySystem},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got := Categorize(types.NewServiceError(tt.code, "msg"))
			assert.Equal(t, tt.status, got.StatusCode)
			assert.Equal(t, tt.category, got.Category)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestCategorize_WrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("create order: %w", types.NewServiceError(types.CodeOrderCreateFailed, "backend down"))
	got := Categorize(wrapped)
	assert.Equal(t, http.StatusBadGateway, got.StatusCode)
	assert.Equal(t, types.CodeOrderCreateFailed, got.Code)
}

func TestCategorize_InfrastructureErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		category ErrorCategory
		code     string
	}{
		{"missing row", fmt.Errorf("property 42: %w", storage.ErrNotFound), http.StatusNotFound, CategoryNotFound, "NOT_FOUND"},
		{"breaker open", fmt.Errorf("chain: %w", circuitbreaker.ErrCircuitOpen), http.StatusServiceUnavailable, CategorySystem, types.CodeServiceUnavailable},
		{"deadline", fmt.Errorf("receipt: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, CategoryProvider, "PROVIDER_TIMEOUT"},
		{"postgres", fmt.Errorf("list: %w", &pgconn.PgError{Code: "57P01", Message: "terminating connection"}), http.StatusInternalServerError, CategoryDatabase, "DATABASE_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.err)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.Equal(t, tt.category, got.Category)
			assert.Equal(t, tt.code, got.Code)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	db := Categorize(fmt.Errorf("list: %w", &pgconn.PgError{Code: "57P01"}))
	assert.Equal(t, "57P01", db.Details["sqlState"])
}

func TestCategorize_PlainErrorIsInternal(t *testing.T) {
	got := Categorize(fmt.Errorf("boom"))
	assert.Equal(t, "INTERNAL_ERROR", got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
	assert.Nil(t, Categorize(nil))
}
