package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/gateway"
	"github.com/Loafy-club/Booking/internal/service"
	"github.com/Loafy-club/Booking/pkg/logger"
	"github.com/Loafy-club/Booking/pkg/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBodyBytes matches the largest payload Stripe documents
const maxWebhookBodyBytes = 64 << 10

// WebhookParser verifies and decodes a provider payload
type WebhookParser interface {
	Parse(payload []byte, signature string) (*gateway.WebhookEvent, error)
}

// WebhookHandler receives Stripe webhooks. A 2xx tells Stripe to stop
// redelivering, so only transient failures return 5xx.
type WebhookHandler struct {
	parser         WebhookParser
	bookingService service.BookingService
	billingService service.BillingService
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(parser WebhookParser, bookingService service.BookingService, billingService service.BillingService) *WebhookHandler {
	return &WebhookHandler{
		parser:         parser,
		bookingService: bookingService,
		billingService: billingService,
	}
}

// HandleStripe handles POST /webhooks/stripe
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}

	event, err := h.parser.Parse(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		logger.Get().Warn("Rejected webhook", zap.Error(err))
		response.BadRequest(c, "invalid webhook")
		return
	}

	ctx := c.Request.Context()
	log := logger.Get().With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

	if err := h.dispatch(ctx, event); err != nil {
		if isPermanentWebhookError(err) {
			log.Warn("Webhook ignored", zap.Error(err))
			response.Success(c, gin.H{"received": true})
			return
		}
		log.ErrorContext(ctx, "Webhook processing failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "WEBHOOK_FAILED", "webhook processing failed", nil)
		return
	}

	response.Success(c, gin.H{"received": true})
}

func (h *WebhookHandler) dispatch(ctx context.Context, event *gateway.WebhookEvent) error {
	log := logger.Get()

	switch event.Type {
	case gateway.EventPaymentSucceeded:
		if event.Payment == nil || event.Payment.BookingID == "" {
			log.Warn(fmt.Sprintf("Payment %s has no booking reference", event.ID))
			return nil
		}
		_, err := h.bookingService.ConfirmPayment(ctx, event.Payment.BookingID, event.Payment.ChargeID)
		return err

	case gateway.EventPaymentFailed, gateway.EventPaymentCanceled:
		// unpaid bookings are reclaimed by the expiry worker
		if event.Payment != nil {
			log.Info(fmt.Sprintf("Payment for booking %s did not complete", event.Payment.BookingID),
				zap.String("charge_id", event.Payment.ChargeID),
				zap.String("failure_code", event.Payment.FailureCode),
			)
		}
		return nil

	case gateway.EventInvoicePaid:
		if event.Invoice == nil {
			return nil
		}
		return h.billingService.HandleInvoicePaid(ctx, event.Invoice)

	case gateway.EventInvoicePaymentFailed:
		if event.Invoice == nil {
			return nil
		}
		return h.billingService.HandleInvoicePaymentFailed(ctx, event.Invoice)

	case gateway.EventSubscriptionUpdated:
		if event.Subscription == nil {
			return nil
		}
		return h.billingService.HandleSubscriptionUpdated(ctx, event.Subscription)

	case gateway.EventSubscriptionDeleted:
		if event.Subscription == nil {
			return nil
		}
		return h.billingService.HandleSubscriptionDeleted(ctx, event.Subscription)

	default:
		log.Debug(fmt.Sprintf("Unhandled webhook type %s", event.Type))
		return nil
	}
}

// isPermanentWebhookError reports errors redelivery cannot fix
func isPermanentWebhookError(err error) bool {
	if errors.Is(err, service.ErrUnknownSubscriber) {
		return true
	}
	switch domain.KindOf(err) {
	case domain.KindNotFound, domain.KindBadRequest, domain.KindForbidden:
		return true
	}
	return false
}
