package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func TestMockGateway_ChargeLifecycle(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway(nil)

	resp, err := g.CreateCharge(ctx, &ChargeRequest{
		Amount:    200000,
		Currency:  "vnd",
		BookingID: "booking-1",
		UserID:    "user-1",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.ChargeID, "pi_mock_"))
	assert.True(t, strings.HasPrefix(resp.ClientSecret, resp.ChargeID+"_secret_"))
	assert.Equal(t, MockStatusRequiresPayment, resp.Status)

	info, err := g.GetCharge(ctx, resp.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, "booking-1", info.BookingID)
	assert.Equal(t, "user-1", info.Metadata["user_id"])

	require.NoError(t, g.Succeed(resp.ChargeID))
	require.NoError(t, g.Refund(ctx, &RefundRequest{ChargeID: resp.ChargeID, Reason: "booking_cancelled"}))

	info, err = g.GetCharge(ctx, resp.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, MockStatusRefunded, info.Status)
	assert.Len(t, g.Refunds(), 1)

	err = g.Refund(ctx, &RefundRequest{ChargeID: resp.ChargeID})
	assert.ErrorIs(t, err, ErrAlreadyRefunded)
}

func TestMockGateway_Errors(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway(&MockGatewayConfig{RefundErr: errors.New("gateway down")})

	_, err := g.CreateCharge(ctx, &ChargeRequest{Amount: 0, Currency: "vnd", BookingID: "b"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = g.CreateCharge(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = g.GetCharge(ctx, "pi_unknown")
	assert.ErrorIs(t, err, ErrChargeNotFound)

	err = g.Refund(ctx, &RefundRequest{ChargeID: "pi_unknown"})
	assert.EqualError(t, err, "gateway down")
}

func TestMockGateway_HonorsContext(t *testing.T) {
	g := NewMockGateway(&MockGatewayConfig{Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.CreateCharge(ctx, &ChargeRequest{Amount: 1, Currency: "vnd", BookingID: "b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewStripeGateway_RequiresKey(t *testing.T) {
	_, err := NewStripeGateway(nil)
	assert.Error(t, err)

	_, err = NewStripeGateway(&StripeGatewayConfig{})
	assert.Error(t, err)
}

func TestStripeGateway_RejectsInvalidCharge(t *testing.T) {
	g, err := NewStripeGateway(&StripeGatewayConfig{SecretKey: "sk_test_dummy"})
	require.NoError(t, err)
	assert.Equal(t, "stripe", g.Name())

	_, err = g.CreateCharge(context.Background(), &ChargeRequest{Currency: "vnd", BookingID: "b"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Error(t, g.Refund(context.Background(), &RefundRequest{}))
	assert.ErrorIs(t, g.SetCancelAtPeriodEnd(context.Background(), "", true), ErrInvalidRequest)
}

func TestMapRefundError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"already refunded", &stripe.Error{Code: stripe.ErrorCodeChargeAlreadyRefunded}, ErrAlreadyRefunded},
		{"missing intent", &stripe.Error{Code: stripe.ErrorCodeResourceMissing, Type: stripe.ErrorTypeInvalidRequest}, ErrChargeNotFound},
		{"idempotency conflict", &stripe.Error{Type: stripe.ErrorTypeIdempotency}, ErrInvalidRequest},
		{"invalid params", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapRefundError(tt.err), tt.want)
		})
	}

	transient := mapRefundError(&stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 500})
	assert.NotErrorIs(t, transient, ErrInvalidRequest)
	assert.NotErrorIs(t, transient, ErrChargeNotFound)

	network := mapRefundError(errors.New("connection reset"))
	assert.Contains(t, network.Error(), "connection reset")
}

func TestChargeInfo_Refundable(t *testing.T) {
	assert.True(t, (&ChargeInfo{Status: ChargeStatusSucceeded}).Refundable())
	assert.True(t, (&ChargeInfo{Status: ChargeStatusRefunded}).Refundable())
	assert.False(t, (&ChargeInfo{Status: MockStatusRequiresPayment}).Refundable())
	assert.False(t, (&ChargeInfo{Status: "canceled"}).Refundable())
}

var (
	_ SubscriptionGateway = (*StripeGateway)(nil)
	_ SubscriptionGateway = (*MockGateway)(nil)
)

func TestMockGateway_CancelAtPeriodEnd(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway(nil)

	_, ok := g.CancelAtPeriodEnd("sub_1")
	assert.False(t, ok)

	require.NoError(t, g.SetCancelAtPeriodEnd(ctx, "sub_1", true))
	cancel, ok := g.CancelAtPeriodEnd("sub_1")
	assert.True(t, ok)
	assert.True(t, cancel)

	require.NoError(t, g.SetCancelAtPeriodEnd(ctx, "sub_1", false))
	cancel, _ = g.CancelAtPeriodEnd("sub_1")
	assert.False(t, cancel)

	assert.ErrorIs(t, g.SetCancelAtPeriodEnd(ctx, "", true), ErrInvalidRequest)

	failing := NewMockGateway(&MockGatewayConfig{SubscriptionErr: errors.New("down")})
	assert.Error(t, failing.SetCancelAtPeriodEnd(ctx, "sub_1", true))
}
