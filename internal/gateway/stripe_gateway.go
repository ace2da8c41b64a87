package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/subscription"
)

// StripeGateway implements PaymentGateway using Stripe PaymentIntents
type StripeGateway struct {
	config *StripeGatewayConfig
}

// StripeGatewayConfig holds configuration for Stripe gateway
type StripeGatewayConfig struct {
	SecretKey     string
	WebhookSecret string
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	stripe.Key = config.SecretKey

	return &StripeGateway{
		config: config,
	}, nil
}

// CreateCharge creates a PaymentIntent and returns its client secret.
// Amounts are passed through unchanged since they are already in the
// smallest currency unit.
func (g *StripeGateway) CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.metadata() {
		params.AddMetadata(k, v)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &ChargeResponse{
		ChargeID:     pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

// Refund refunds a PaymentIntent in full or in part
func (g *StripeGateway) Refund(ctx context.Context, req *RefundRequest) error {
	if req == nil || req.ChargeID == "" {
		return fmt.Errorf("charge ID is required")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ChargeID),
	}
	params.Context = ctx
	if req.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount)
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	if _, err := refund.New(params); err != nil {
		return mapRefundError(err)
	}
	return nil
}

// mapRefundError turns Stripe errors that retrying cannot fix into gateway
// sentinels
func mapRefundError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	switch {
	case stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded:
		return ErrAlreadyRefunded
	case stripeErr.Code == stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%w: %s", ErrChargeNotFound, stripeErr.Msg)
	case stripeErr.Type == stripe.ErrorTypeIdempotency,
		stripeErr.Type == stripe.ErrorTypeInvalidRequest:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, stripeErr.Msg)
	}
	return fmt.Errorf("failed to create refund: %w", err)
}

// GetCharge retrieves a PaymentIntent
func (g *StripeGateway) GetCharge(ctx context.Context, chargeID string) (*ChargeInfo, error) {
	if chargeID == "" {
		return nil, fmt.Errorf("charge ID is required")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(chargeID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && (stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == 404) {
			return nil, ErrChargeNotFound
		}
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}

	return &ChargeInfo{
		ChargeID:  pi.ID,
		Status:    string(pi.Status),
		Amount:    pi.Amount,
		Currency:  string(pi.Currency),
		BookingID: pi.Metadata["booking_id"],
		Metadata:  pi.Metadata,
	}, nil
}

// SetCancelAtPeriodEnd updates cancel_at_period_end on a Stripe subscription
func (g *StripeGateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	if subscriptionID == "" {
		return ErrInvalidRequest
	}

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx

	if _, err := subscription.Update(subscriptionID, params); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
		}
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return "stripe"
}
