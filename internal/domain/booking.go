package domain

import (
	"time"
)

// PaymentStatus represents the payment state of a booking
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// IsValid checks if the payment status is valid
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusConfirmed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCancelled || s == PaymentStatusRefunded
}

// String returns the string representation of the status
func (s PaymentStatus) String() string {
	return string(s)
}

// DiscountKind describes how the owner's slot was priced
type DiscountKind string

const (
	DiscountNone        DiscountKind = "none"
	DiscountTicket      DiscountKind = "ticket"
	DiscountOutOfTicket DiscountKind = "out_of_ticket"
)

// PaymentMethod is how the user intends to settle the amount owed
type PaymentMethod string

const (
	PaymentMethodStripe PaymentMethod = "stripe"
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodTicket PaymentMethod = "ticket"
)

// IsValid checks if the payment method is supported
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodStripe, PaymentMethodCash, PaymentMethodTicket:
		return true
	}
	return false
}

// Booking is a user's reservation of 1 + GuestCount slots in a session
type Booking struct {
	ID              string        `json:"id"`
	BookingCode     string        `json:"booking_code"`
	UserID          string        `json:"user_id"`
	SessionID       string        `json:"session_id"`
	GuestCount      int           `json:"guest_count"`
	TicketsUsed     int           `json:"tickets_used"`
	DiscountApplied DiscountKind  `json:"discount_applied"`
	PricePaid       int64         `json:"price_paid"`
	GuestPricePaid  int64         `json:"guest_price_paid"`
	PaymentMethod   PaymentMethod `json:"payment_method"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	StripePaymentID *string       `json:"stripe_payment_id,omitempty"`
	RefundChargeID  *string       `json:"refund_charge_id,omitempty"`
	PaymentDeadline *time.Time    `json:"payment_deadline,omitempty"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// SlotsNeeded returns the slots a booking with guestCount guests occupies
func SlotsNeeded(guestCount int) int {
	return 1 + guestCount
}

// SlotsConsumed returns the number of session slots this booking holds
func (b *Booking) SlotsConsumed() int {
	return SlotsNeeded(b.GuestCount)
}

// TotalOwed returns the full amount charged for the booking
func (b *Booking) TotalOwed() int64 {
	return b.PricePaid + b.GuestPricePaid
}

// IsActive reports whether the booking still holds its slots
func (b *Booking) IsActive() bool {
	return b.CancelledAt == nil
}

// IsConfirmed checks if the booking is paid or free
func (b *Booking) IsConfirmed() bool {
	return b.PaymentStatus == PaymentStatusConfirmed
}

// IsPaymentExpired reports whether an unpaid booking passed its deadline
func (b *Booking) IsPaymentExpired(now time.Time) bool {
	return b.IsActive() &&
		b.PaymentStatus == PaymentStatusPending &&
		b.PaymentDeadline != nil &&
		b.PaymentDeadline.Before(now)
}

// HasCapturedPayment reports whether money was collected through the gateway
func (b *Booking) HasCapturedPayment() bool {
	return b.PaymentStatus == PaymentStatusConfirmed &&
		b.StripePaymentID != nil && *b.StripePaymentID != "" &&
		b.TotalOwed() > 0
}

// RefundRequestedFor reports whether a refund of chargeID was already requested
func (b *Booking) RefundRequestedFor(chargeID string) bool {
	return b.RefundChargeID != nil && *b.RefundChargeID == chargeID
}

// BelongsToUser checks if the booking belongs to the specified user
func (b *Booking) BelongsToUser(userID string) bool {
	return b.UserID == userID
}

// MarkCancelled moves the booking to the cancelled state
func (b *Booking) MarkCancelled(now time.Time) {
	b.PaymentStatus = PaymentStatusCancelled
	b.CancelledAt = &now
	b.UpdatedAt = now
}
