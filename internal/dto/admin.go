package dto

import (
	"time"

	"github.com/Loafy-club/Booking/internal/service"
)

// TicketAdjustmentRequest is the body of a manual grant or revoke
type TicketAdjustmentRequest struct {
	Amount int    `json:"amount" binding:"required,min=1"`
	Notes  string `json:"notes"`
}

// CreateSessionRequest represents request to schedule a session
type CreateSessionRequest struct {
	Title                       string    `json:"title" binding:"required"`
	Location                    string    `json:"location"`
	StartsAt                    time.Time `json:"starts_at" binding:"required"`
	Courts                      int       `json:"courts" binding:"required,min=1"`
	MaxPlayersPerCourt          int       `json:"max_players_per_court" binding:"required,min=1"`
	Price                       *int64    `json:"price,omitempty" binding:"omitempty,min=0"`
	SubscriberCancellationHours *int      `json:"subscriber_cancellation_hours,omitempty" binding:"omitempty,min=0"`
	DropInCancellationHours     *int      `json:"drop_in_cancellation_hours,omitempty" binding:"omitempty,min=0"`
}

// ToServiceRequest converts to the session service input
func (r *CreateSessionRequest) ToServiceRequest() *service.CreateSessionRequest {
	return &service.CreateSessionRequest{
		Title:                       r.Title,
		Location:                    r.Location,
		StartsAt:                    r.StartsAt,
		Courts:                      r.Courts,
		MaxPlayersPerCourt:          r.MaxPlayersPerCourt,
		Price:                       r.Price,
		SubscriberCancellationHours: r.SubscriberCancellationHours,
		DropInCancellationHours:     r.DropInCancellationHours,
	}
}
