package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/carbon-marketplace/internal/circuitbreaker"
	"github.com/carbon-marketplace/internal/config"
	"github.com/carbon-marketplace/internal/logging"
)

// ErrNotConfigured is returned when a collaborator's endpoint or key is unset
var ErrNotConfigured = errors.New("collaborator not configured")

// ErrRejected is returned when the backend answered but refused the request
var ErrRejected = errors.New("request rejected by backend")

// CreateOrderRequest is the payload of POST /api/orders/create
type CreateOrderRequest struct {
	UserID     string `json:"userId"`
	PropertyID string `json:"propertyId"`
	Shares     int64  `json:"shares"`
}

// Order is the payment order created by the backend
type Order struct {
	ID       string      `json:"id"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

// VerifyPaymentRequest is the payload of POST /api/orders/verify
type VerifyPaymentRequest struct {
	OrderID           string `json:"orderId"`
	UserID            string `json:"userId"`
	PropertyID        string `json:"propertyId"`
	Shares            int64  `json:"shares"`
	PaymentID         string `json:"paymentId"`
	RazorpaySignature string `json:"razorpaySignature"`
}

// OrdersClient talks to the backend order API. The base URL is read from
// cfg on every call so a late configuration is picked up without restart.
type OrdersClient struct {
	cfg     *config.OrdersConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewOrdersClient creates a new order API client
func NewOrdersClient(cfg *config.OrdersConfig) *OrdersClient {
	return &OrdersClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("orders")),
	}
}

// Breaker exposes the client's circuit breaker for health reporting
func (c *OrdersClient) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// envelope is the backend's wrapped response shape
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// CreateOrder asks the backend to create a payment order
func (c *OrdersClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	body, err := c.post(ctx, "/api/orders/create", req)
	if err != nil {
		return nil, err
	}

	payload := body
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Success != nil {
		if !*env.Success {
			return nil, fmt.Errorf("%w: %s", ErrRejected, env.Message)
		}
		payload = env.Data
	}

	var order Order
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&order); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: order id missing", ErrRejected)
	}
	return &order, nil
}

// VerifyPayment forwards a completed checkout to the backend; only an
// explicit success counts as verified
func (c *OrdersClient) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) error {
	body, err := c.post(ctx, "/api/orders/verify", req)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to decode verification: %w", err)
	}
	if env.Success == nil || !*env.Success {
		return fmt.Errorf("%w: %s", ErrRejected, env.Message)
	}
	return nil
}

// post sends a JSON request. Transport errors and 5xx responses count
// against the circuit breaker; 4xx responses are rejections.
func (c *OrdersClient) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("%w: orders base url", ErrNotConfigured)
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	logger := logging.FromContext(ctx).WithField("endpoint", path)

	var (
		respBody []byte
		status   int
	)
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		respBody, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if status >= 500 {
			return fmt.Errorf("backend returned status %d", status)
		}
		return nil
	})
	if err != nil {
		logger.WithError(err).Warn("order backend call failed")
		return nil, err
	}
	if status >= 400 {
		logger.WithField("status", status).Warn("order backend rejected request")
		return nil, fmt.Errorf("%w: status %d", ErrRejected, status)
	}
	return respBody, nil
}
