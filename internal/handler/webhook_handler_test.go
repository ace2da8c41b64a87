package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/gateway"
	"github.com/Loafy-club/Booking/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

func postWebhook(router *gin.Engine, payload, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(payload))
	req.Header.Set("Stripe-Signature", signature)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func setupWebhookRouter(parser WebhookParser, bookings *MockBookingService, billing *MockBillingService) *gin.Engine {
	h := NewWebhookHandler(parser, bookings, billing)
	router := gin.New()
	router.POST("/webhooks/stripe", h.HandleStripe)
	return router
}

func TestWebhookHandler_PaymentSucceeded_SignedPayload(t *testing.T) {
	const secret = "whsec_handler_test"
	payload := `{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_123",
			"object": "payment_intent",
			"amount": 90000,
			"currency": "vnd",
			"metadata": {"booking_id": "booking-1"}
		}}
	}`
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})

	var confirmed []string
	bookings := &MockBookingService{
		ConfirmPaymentFunc: func(ctx context.Context, bookingID, chargeID string) (*domain.Booking, error) {
			confirmed = append(confirmed, bookingID+"/"+chargeID)
			return &domain.Booking{ID: bookingID}, nil
		},
	}
	router := setupWebhookRouter(gateway.NewWebhookParser(secret), bookings, &MockBillingService{})

	w := postWebhook(router, payload, signed.Header)
	assert.Equal(t, http.StatusOK, w.Code)

	// duplicate delivery reaches the idempotent confirm again
	w = postWebhook(router, payload, signed.Header)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"booking-1/pi_123", "booking-1/pi_123"}, confirmed)

	w = postWebhook(router, payload, "t=1,v1=bad")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, confirmed, 2)
}

func TestWebhookHandler_Dispatch(t *testing.T) {
	invoice := &gateway.InvoiceEvent{InvoiceID: "in_1", SubscriptionID: "sub_1"}
	subscription := &gateway.SubscriptionEvent{SubscriptionID: "sub_1", Status: "active"}

	tests := []struct {
		name  string
		event *gateway.WebhookEvent
		want  string
	}{
		{"invoice paid", &gateway.WebhookEvent{Type: gateway.EventInvoicePaid, Invoice: invoice}, "paid"},
		{"invoice failed", &gateway.WebhookEvent{Type: gateway.EventInvoicePaymentFailed, Invoice: invoice}, "failed"},
		{"subscription updated", &gateway.WebhookEvent{Type: gateway.EventSubscriptionUpdated, Subscription: subscription}, "updated"},
		{"subscription deleted", &gateway.WebhookEvent{Type: gateway.EventSubscriptionDeleted, Subscription: subscription}, "deleted"},
		{"payment failed", &gateway.WebhookEvent{Type: gateway.EventPaymentFailed, Payment: &gateway.PaymentEvent{BookingID: "b1"}}, ""},
		{"unhandled type", &gateway.WebhookEvent{Type: "charge.dispute.created"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called string
			billing := &MockBillingService{
				InvoicePaidFunc: func(ctx context.Context, inv *gateway.InvoiceEvent) error {
					called = "paid"
					return nil
				},
				InvoiceFailedFunc: func(ctx context.Context, inv *gateway.InvoiceEvent) error {
					called = "failed"
					return nil
				},
				SubscriptionUpdatedFunc: func(ctx context.Context, ev *gateway.SubscriptionEvent) error {
					called = "updated"
					return nil
				},
				SubscriptionDeletedFunc: func(ctx context.Context, ev *gateway.SubscriptionEvent) error {
					called = "deleted"
					return nil
				},
			}
			router := setupWebhookRouter(&MockWebhookParser{Event: tt.event}, &MockBookingService{}, billing)

			w := postWebhook(router, "{}", "sig")

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, called)
		})
	}
}

func TestWebhookHandler_FailureStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"unknown booking is acknowledged", domain.ErrBookingNotFound, http.StatusOK},
		{"unknown subscriber is acknowledged", fmt.Errorf("%w: invoice in_1", service.ErrUnknownSubscriber), http.StatusOK},
		{"storage failure asks for redelivery", errors.New("deadlock detected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bookings := &MockBookingService{
				ConfirmPaymentFunc: func(ctx context.Context, bookingID, chargeID string) (*domain.Booking, error) {
					return nil, tt.err
				},
			}
			billing := &MockBillingService{
				InvoicePaidFunc: func(ctx context.Context, inv *gateway.InvoiceEvent) error {
					return tt.err
				},
			}
			payment := &MockWebhookParser{Event: &gateway.WebhookEvent{
				Type:    gateway.EventPaymentSucceeded,
				Payment: &gateway.PaymentEvent{BookingID: "b1", ChargeID: "pi_1"},
			}}
			invoice := &MockWebhookParser{Event: &gateway.WebhookEvent{
				Type:    gateway.EventInvoicePaid,
				Invoice: &gateway.InvoiceEvent{InvoiceID: "in_1"},
			}}

			w := postWebhook(setupWebhookRouter(payment, bookings, billing), "{}", "sig")
			assert.Equal(t, tt.wantStatus, w.Code)

			w = postWebhook(setupWebhookRouter(invoice, bookings, billing), "{}", "sig")
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestWebhookHandler_PaymentWithoutBooking(t *testing.T) {
	bookings := &MockBookingService{
		ConfirmPaymentFunc: func(ctx context.Context, bookingID, chargeID string) (*domain.Booking, error) {
			t.Fatal("confirm must not be called without a booking reference")
			return nil, nil
		},
	}
	parser := &MockWebhookParser{Event: &gateway.WebhookEvent{
		Type:    gateway.EventPaymentSucceeded,
		Payment: &gateway.PaymentEvent{ChargeID: "pi_1"},
	}}

	w := postWebhook(setupWebhookRouter(parser, bookings, &MockBillingService{}), "{}", "sig")
	require.Equal(t, http.StatusOK, w.Code)
}
