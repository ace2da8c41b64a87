package domain

import (
	"time"
)

// BookingEventType represents the type of booking event
type BookingEventType string

const (
	BookingEventCreated   BookingEventType = "booking.created"
	BookingEventConfirmed BookingEventType = "booking.confirmed"
	BookingEventCancelled BookingEventType = "booking.cancelled"
	BookingEventExpired   BookingEventType = "booking.expired"
	BookingEventRefunded  BookingEventType = "booking.refunded"
	TicketEventChanged    BookingEventType = "ticket.changed"
)

// BookingEventData is the booking snapshot carried by an event
type BookingEventData struct {
	BookingID       string        `json:"booking_id"`
	BookingCode     string        `json:"booking_code"`
	UserID          string        `json:"user_id"`
	SessionID       string        `json:"session_id"`
	GuestCount      int           `json:"guest_count"`
	SlotsConsumed   int           `json:"slots_consumed"`
	TicketsUsed     int           `json:"tickets_used"`
	DiscountApplied DiscountKind  `json:"discount_applied"`
	TotalOwed       int64         `json:"total_owed"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	PaymentDeadline *time.Time    `json:"payment_deadline,omitempty"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
}

// BookingEvent is published after a booking state transition commits
type BookingEvent struct {
	EventID    string             `json:"event_id"`
	EventType  BookingEventType   `json:"event_type"`
	OccurredAt time.Time          `json:"occurred_at"`
	Booking    *BookingEventData  `json:"booking,omitempty"`
	Ticket     *TicketTransaction `json:"ticket,omitempty"`
}

// NewBookingEvent creates an event from a booking
func NewBookingEvent(eventType BookingEventType, b *Booking, eventID string) *BookingEvent {
	return &BookingEvent{
		EventID:    eventID,
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Booking: &BookingEventData{
			BookingID:       b.ID,
			BookingCode:     b.BookingCode,
			UserID:          b.UserID,
			SessionID:       b.SessionID,
			GuestCount:      b.GuestCount,
			SlotsConsumed:   b.SlotsConsumed(),
			TicketsUsed:     b.TicketsUsed,
			DiscountApplied: b.DiscountApplied,
			TotalOwed:       b.TotalOwed(),
			PaymentStatus:   b.PaymentStatus,
			PaymentDeadline: b.PaymentDeadline,
			CancelledAt:     b.CancelledAt,
		},
	}
}

// NewTicketEvent creates an event from a ledger entry
func NewTicketEvent(tx *TicketTransaction, eventID string) *BookingEvent {
	return &BookingEvent{
		EventID:    eventID,
		EventType:  TicketEventChanged,
		OccurredAt: time.Now().UTC(),
		Ticket:     tx,
	}
}

// Key returns the partition key; events of one user stay ordered
func (e *BookingEvent) Key() string {
	if e.Booking != nil {
		return e.Booking.UserID
	}
	if e.Ticket != nil {
		return e.Ticket.UserID
	}
	return e.EventID
}
