package handler

import (
	"github.com/Loafy-club/Booking/internal/dto"
	"github.com/Loafy-club/Booking/internal/service"
	"github.com/Loafy-club/Booking/pkg/response"
	"github.com/Loafy-club/Booking/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// BookingHandler handles reservation HTTP requests
type BookingHandler struct {
	bookingService service.BookingService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookingService service.BookingService) *BookingHandler {
	return &BookingHandler{bookingService: bookingService}
}

// CreateBooking handles POST /bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		response.BadRequest(c, "invalid request body")
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("session_id", req.SessionID),
		attribute.Int("guest_count", req.GuestCount),
		attribute.String("payment_method", string(req.PaymentMethod)),
	)

	booking, err := h.bookingService.CreateReservation(ctx, userID, req.ToServiceRequest())
	if err != nil {
		telemetry.RecordError(span, err)
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("booking_id", booking.ID))
	span.SetStatus(codes.Ok, "")
	response.Created(c, booking)
}

// CancelBooking handles POST /bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c)
	if !ok {
		return
	}
	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("user_id", userID),
	)

	booking, err := h.bookingService.CancelReservation(ctx, bookingID, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, booking)
}

// CreatePaymentIntent handles POST /bookings/:id/payment-intent
func (h *BookingHandler) CreatePaymentIntent(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.payment_intent")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("booking_id", bookingID))

	intent, err := h.bookingService.CreatePaymentIntent(ctx, bookingID, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Created(c, intent)
}

// GetBooking handles GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c)
	if !ok {
		return
	}

	booking, err := h.bookingService.GetBooking(c.Request.Context(), bookingID, userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, booking)
}

// ListBookings handles GET /bookings
func (h *BookingHandler) ListBookings(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	page := pageFromQuery(c)
	bookings, err := h.bookingService.ListUserBookings(c.Request.Context(), userID, page)
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, bookings, page.Limit, page.Offset, len(bookings))
}
