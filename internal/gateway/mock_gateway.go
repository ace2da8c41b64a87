package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// alphanumericChars for generating Stripe-compatible IDs
const alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumericChars[rand.Intn(len(alphanumericChars))]
	}
	return string(b)
}

// Mock charge statuses
const (
	MockStatusRequiresPayment = "requires_payment_method"
	MockStatusSucceeded       = ChargeStatusSucceeded
	MockStatusRefunded        = ChargeStatusRefunded
)

// MockGateway implements PaymentGateway in memory for local runs and tests
type MockGateway struct {
	config  *MockGatewayConfig
	charges sync.Map // chargeID -> *ChargeInfo

	mu          sync.RWMutex
	refunds     []RefundRequest
	cancelAtEnd map[string]bool
}

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	// Delay is the simulated processing delay
	Delay time.Duration

	// RefundErr, when set, fails every refund
	RefundErr error

	// SubscriptionErr, when set, fails every subscription update
	SubscriptionErr error
}

// DefaultMockGatewayConfig returns default configuration
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{}
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}
	return &MockGateway{config: config}
}

func (g *MockGateway) wait(ctx context.Context) error {
	if g.config.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.config.Delay):
		return nil
	}
}

// CreateCharge creates a mock PaymentIntent
func (g *MockGateway) CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	chargeID := fmt.Sprintf("pi_mock_%s", randomAlphanumeric(24))
	clientSecret := fmt.Sprintf("%s_secret_%s", chargeID, randomAlphanumeric(24))

	g.charges.Store(chargeID, &ChargeInfo{
		ChargeID:  chargeID,
		Status:    MockStatusRequiresPayment,
		Amount:    req.Amount,
		Currency:  req.Currency,
		BookingID: req.BookingID,
		Metadata:  req.metadata(),
	})

	return &ChargeResponse{
		ChargeID:     chargeID,
		ClientSecret: clientSecret,
		Status:       MockStatusRequiresPayment,
		Amount:       req.Amount,
		Currency:     req.Currency,
	}, nil
}

// Succeed marks a mock charge as paid, as a client completing checkout would
func (g *MockGateway) Succeed(chargeID string) error {
	v, ok := g.charges.Load(chargeID)
	if !ok {
		return ErrChargeNotFound
	}
	info := *v.(*ChargeInfo)
	info.Status = MockStatusSucceeded
	g.charges.Store(chargeID, &info)
	return nil
}

// Refund marks a mock charge refunded
func (g *MockGateway) Refund(ctx context.Context, req *RefundRequest) error {
	if req == nil || req.ChargeID == "" {
		return fmt.Errorf("charge ID is required")
	}
	if err := g.wait(ctx); err != nil {
		return err
	}
	if g.config.RefundErr != nil {
		return g.config.RefundErr
	}

	v, ok := g.charges.Load(req.ChargeID)
	if !ok {
		return ErrChargeNotFound
	}
	info := *v.(*ChargeInfo)
	if info.Status == MockStatusRefunded {
		return ErrAlreadyRefunded
	}
	info.Status = MockStatusRefunded
	g.charges.Store(req.ChargeID, &info)

	g.mu.Lock()
	g.refunds = append(g.refunds, *req)
	g.mu.Unlock()
	return nil
}

// GetCharge retrieves a mock charge
func (g *MockGateway) GetCharge(ctx context.Context, chargeID string) (*ChargeInfo, error) {
	if chargeID == "" {
		return nil, fmt.Errorf("charge ID is required")
	}
	v, ok := g.charges.Load(chargeID)
	if !ok {
		return nil, ErrChargeNotFound
	}
	info := *v.(*ChargeInfo)
	return &info, nil
}

// Refunds returns the refunds accepted so far
func (g *MockGateway) Refunds() []RefundRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]RefundRequest, len(g.refunds))
	copy(out, g.refunds)
	return out
}

// SetCancelAtPeriodEnd records the renewal flag of a subscription
func (g *MockGateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	if subscriptionID == "" {
		return ErrInvalidRequest
	}
	if err := g.wait(ctx); err != nil {
		return err
	}
	if g.config.SubscriptionErr != nil {
		return g.config.SubscriptionErr
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelAtEnd == nil {
		g.cancelAtEnd = make(map[string]bool)
	}
	g.cancelAtEnd[subscriptionID] = cancel
	return nil
}

// CancelAtPeriodEnd reports the last flag set for a subscription and
// whether one was set at all
func (g *MockGateway) CancelAtPeriodEnd(subscriptionID string) (cancel, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cancel, ok = g.cancelAtEnd[subscriptionID]
	return cancel, ok
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return "mock"
}
