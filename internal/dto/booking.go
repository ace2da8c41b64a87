package dto

import (
	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/service"
)

// IDParam binds the :id path parameter
type IDParam struct {
	ID string `uri:"id" binding:"required,uuid"`
}

// CreateBookingRequest represents request to reserve slots in a session
type CreateBookingRequest struct {
	SessionID     string `json:"session_id" binding:"required,uuid"`
	GuestCount    int    `json:"guest_count" binding:"min=0"`
	PaymentMethod string `json:"payment_method,omitempty" binding:"omitempty,oneof=stripe cash ticket"`
}

// ToServiceRequest converts to the reservation input
func (r *CreateBookingRequest) ToServiceRequest() *service.CreateReservationRequest {
	return &service.CreateReservationRequest{
		SessionID:     r.SessionID,
		GuestCount:    r.GuestCount,
		PaymentMethod: domain.PaymentMethod(r.PaymentMethod),
	}
}
