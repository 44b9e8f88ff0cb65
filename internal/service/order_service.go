package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/carbon-marketplace/internal/adapter"
	"github.com/carbon-marketplace/internal/config"
	"github.com/carbon-marketplace/internal/events"
	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/metrics"
	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/types"
)

// RawShares is a share quantity exactly as entered; JSON numbers and strings are both accepted
type RawShares string

// UnmarshalJSON accepts "12", 12 and null
func (r *RawShares) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = RawShares(s)
		return nil
	}
	*r = RawShares(b)
	return nil
}

// ParseShares reads a leading integer the way a free-text numeric field is
// read: leading spaces and sign allowed, parsing stops at the first non-digit.
// Input with no leading digits is rejected. No range check is applied.
func ParseShares(raw string) (int64, error) {
	s := strings.TrimLeftFunc(raw, unicode.IsSpace)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, invalidInput("shares", "enter the number of shares to buy")
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, invalidInput("shares", "share quantity is out of range")
	}
	return n, nil
}

// Checkout holds the parameters the client needs to open the hosted checkout
type Checkout struct {
	Key         string `json:"key"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	OrderID     string `json:"orderId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Shares      int64  `json:"shares"`
}

// VerifyPaymentInput is the checkout completion posted by the client
type VerifyPaymentInput struct {
	OrderID           string    `json:"orderId"`
	PropertyID        string    `json:"propertyId"`
	Shares            RawShares `json:"shares"`
	PaymentID         string    `json:"paymentId"`
	RazorpaySignature string    `json:"razorpaySignature"`
}

// OrderService runs the invest flow against the backend order API.
// It never changes local share counts; the backend is the source of truth.
type OrderService struct {
	gateway   OrderGateway
	kyc       KYCStatusResolver
	ledger    ActivityLedger
	publisher events.Publisher
	cfg       *config.OrdersConfig
}

// NewOrderService creates a new order service. cfg is read on every call.
func NewOrderService(gateway OrderGateway, kyc KYCStatusResolver, ledger ActivityLedger, publisher events.Publisher, cfg *config.OrdersConfig) *OrderService {
	if ledger == nil {
		ledger = NopLedger{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &OrderService{gateway: gateway, kyc: kyc, ledger: ledger, publisher: publisher, cfg: cfg}
}

// CreateOrder asks the backend for a payment order for the entered quantity
func (s *OrderService) CreateOrder(ctx context.Context, user *models.User, propertyID string, raw RawShares) (*Checkout, error) {
	if user == nil {
		return nil, loginRequired()
	}
	if status := s.kyc.Status(ctx, user); status != types.KYCVerified {
		action := types.InvestActionFor(true, status)
		return nil, &types.ServiceError{
			Code:    types.CodeKYCRequired,
			Message: action.Label(),
			Details: map[string]interface{}{"action": action, "kycStatus": status},
		}
	}
	if strings.TrimSpace(propertyID) == "" {
		return nil, invalidInput("propertyId", "property id is required")
	}
	shares, err := ParseShares(string(raw))
	if err != nil {
		return nil, err
	}

	key := s.cfg.PaymentKey
	if key == "" {
		return nil, types.NewServiceError(types.CodeServiceUnavailable, "payments are not configured")
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"userId":     user.ID,
		"propertyId": propertyID,
		"shares":     shares,
	})

	order, err := s.gateway.CreateOrder(ctx, adapter.CreateOrderRequest{UserID: user.ID, PropertyID: propertyID, Shares: shares})
	if err != nil {
		metrics.RecordOrder(false)
		logger.WithError(err).Warn("order creation failed")
		if errors.Is(err, adapter.ErrNotConfigured) {
			return nil, types.NewServiceError(types.CodeServiceUnavailable, "order service is not configured")
		}
		return nil, types.NewServiceError(types.CodeOrderCreateFailed, "failed to create order")
	}

	metrics.RecordOrder(true)
	s.publisher.Publish(ctx, events.OrderCreated, map[string]interface{}{
		"orderId":    order.ID,
		"userId":     user.ID,
		"propertyId": propertyID,
		"shares":     shares,
	})
	logger.WithField("orderId", order.ID).Info("order created")

	return &Checkout{
		Key:         key,
		Amount:      order.Amount.String(),
		Currency:    order.Currency,
		OrderID:     order.ID,
		Name:        s.cfg.MerchantName,
		Description: "Payment for buying property shares",
		Shares:      shares,
	}, nil
}

// VerifyPayment forwards the checkout result to the backend. Only an explicit
// success is reported as verified.
func (s *OrderService) VerifyPayment(ctx context.Context, user *models.User, in VerifyPaymentInput) error {
	if user == nil {
		return loginRequired()
	}
	switch {
	case strings.TrimSpace(in.OrderID) == "":
		return invalidInput("orderId", "order id is required")
	case strings.TrimSpace(in.PaymentID) == "":
		return invalidInput("paymentId", "payment id is required")
	case strings.TrimSpace(in.RazorpaySignature) == "":
		return invalidInput("razorpaySignature", "payment signature is required")
	}
	shares, err := ParseShares(string(in.Shares))
	if err != nil {
		return err
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"userId":  user.ID,
		"orderId": in.OrderID,
	})

	err = s.gateway.VerifyPayment(ctx, adapter.VerifyPaymentRequest{
		OrderID:           in.OrderID,
		UserID:            user.ID,
		PropertyID:        in.PropertyID,
		Shares:            shares,
		PaymentID:         in.PaymentID,
		RazorpaySignature: in.RazorpaySignature,
	})
	if err != nil {
		metrics.RecordPayment(false)
		logger.WithError(err).Warn("payment verification failed")
		if errors.Is(err, adapter.ErrNotConfigured) {
			return types.NewServiceError(types.CodeServiceUnavailable, "order service is not configured")
		}
		return types.NewServiceError(types.CodePaymentVerifyFailed, "payment verification failed")
	}

	metrics.RecordPayment(true)
	event := models.ActivityEvent{
		UserID:     user.ID,
		PropertyID: in.PropertyID,
		Kind:       models.ActivityInvestment,
		Quantity:   shares,
		Reference:  in.OrderID,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.ledger.Append(ctx, event); err != nil {
		logger.WithError(err).Warn("failed to record investment activity")
	}
	s.publisher.Publish(ctx, events.PaymentVerified, map[string]interface{}{
		"orderId":    in.OrderID,
		"paymentId":  in.PaymentID,
		"userId":     user.ID,
		"propertyId": in.PropertyID,
		"shares":     shares,
	})
	logger.Info("payment verified")
	return nil
}
