package handler

import (
	"context"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/service"
	"github.com/Loafy-club/Booking/pkg/response"
	"github.com/Loafy-club/Booking/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SubscriptionHandler lets a subscriber view their subscription and
// control its renewal
type SubscriptionHandler struct {
	billingService service.BillingService
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(billingService service.BillingService) *SubscriptionHandler {
	return &SubscriptionHandler{billingService: billingService}
}

// GetCurrent handles GET /subscriptions/current
func (h *SubscriptionHandler) GetCurrent(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	sub, err := h.billingService.GetCurrentSubscription(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, sub)
}

// CancelAutoRenew handles POST /subscriptions/current/cancel
func (h *SubscriptionHandler) CancelAutoRenew(c *gin.Context) {
	h.setAutoRenew(c, "handler.subscription.cancel", h.billingService.CancelAutoRenew)
}

// ResumeAutoRenew handles POST /subscriptions/current/resume
func (h *SubscriptionHandler) ResumeAutoRenew(c *gin.Context) {
	h.setAutoRenew(c, "handler.subscription.resume", h.billingService.ResumeAutoRenew)
}

type autoRenewFunc func(ctx context.Context, userID string) (*domain.Subscription, error)

func (h *SubscriptionHandler) setAutoRenew(c *gin.Context, spanName string, apply autoRenewFunc) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), spanName)
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}
	span.SetAttributes(attribute.String("user_id", userID))

	sub, err := apply(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Bool("auto_renew", sub.AutoRenew))
	span.SetStatus(codes.Ok, "")
	response.Success(c, sub)
}
