// Package pricing turns a session price and a user's subscription state into
// an itemised charge. It performs no I/O.
package pricing

import (
	"fmt"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
)

// RoundingMode decides how a discounted price is brought to a whole minor unit
type RoundingMode string

const (
	RoundFloor   RoundingMode = "floor"
	RoundHalfUp  RoundingMode = "round"
	RoundCeiling RoundingMode = "ceil"
)

// ParseRoundingMode validates a configured rounding mode
func ParseRoundingMode(s string) (RoundingMode, error) {
	switch RoundingMode(s) {
	case RoundFloor, RoundHalfUp, RoundCeiling:
		return RoundingMode(s), nil
	case "":
		return RoundFloor, nil
	}
	return "", fmt.Errorf("unknown rounding mode %q", s)
}

// Rounding is the rounding policy applied to discounted prices
type Rounding struct {
	Mode RoundingMode
	// MinorUnit is the smallest chargeable amount, e.g. 1 for VND or 1000 to
	// round to thousands
	MinorUnit int64
}

// DefaultRounding rounds down to a whole currency unit
func DefaultRounding() Rounding {
	return Rounding{Mode: RoundFloor, MinorUnit: 1}
}

// Input describes what is known about a reservation when it is priced
type Input struct {
	BasePrice             int64
	GuestCount            int
	HasActiveSubscription bool
	TicketsRemaining      int
	DiscountPercent       int
}

// Quote is the itemised result of pricing a reservation
type Quote struct {
	TicketsToConsume int                 `json:"tickets_to_consume"`
	Discount         domain.DiscountKind `json:"discount"`
	OwnerPrice       int64               `json:"owner_price"`
	GuestPrice       int64               `json:"guest_price"`
	TotalOwed        int64               `json:"total_owed"`
}

// RequiresPayment reports whether anything is owed
func (q Quote) RequiresPayment() bool {
	return q.TotalOwed > 0
}

// PaymentDeadline returns now+window when payment is owed, nil otherwise
func (q Quote) PaymentDeadline(now time.Time, window time.Duration) *time.Time {
	if !q.RequiresPayment() {
		return nil
	}
	deadline := now.Add(window)
	return &deadline
}

// InitialStatus is confirmed for free reservations and pending otherwise
func (q Quote) InitialStatus() domain.PaymentStatus {
	if q.RequiresPayment() {
		return domain.PaymentStatusPending
	}
	return domain.PaymentStatusConfirmed
}

// Calculate prices a reservation. Subscription benefits apply to the owner's
// slot only; guests always pay the base price.
func Calculate(in Input, rounding Rounding) Quote {
	q := Quote{Discount: domain.DiscountNone, OwnerPrice: in.BasePrice}

	switch {
	case !in.HasActiveSubscription:
	case in.TicketsRemaining > 0:
		q.TicketsToConsume = 1
		q.OwnerPrice = 0
		q.Discount = domain.DiscountTicket
	default:
		q.OwnerPrice = ApplyDiscount(in.BasePrice, in.DiscountPercent, rounding)
		q.Discount = domain.DiscountOutOfTicket
	}

	q.GuestPrice = int64(in.GuestCount) * in.BasePrice
	q.TotalOwed = q.OwnerPrice + q.GuestPrice
	return q
}

// ApplyDiscount returns base*(100-percent)/100 rounded with the given policy.
// Percent is clamped to [0, 100].
func ApplyDiscount(base int64, percent int, rounding Rounding) int64 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	unit := rounding.MinorUnit
	if unit <= 0 {
		unit = 1
	}

	numerator := base * int64(100-percent)
	denominator := 100 * unit

	var units int64
	switch rounding.Mode {
	case RoundHalfUp:
		units = (numerator + denominator/2) / denominator
	case RoundCeiling:
		units = (numerator + denominator - 1) / denominator
	default:
		units = numerator / denominator
	}
	return units * unit
}
