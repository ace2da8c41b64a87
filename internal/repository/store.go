package repository

import (
	"context"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
)

// Page bounds a list query
type Page struct {
	Limit  int
	Offset int
}

// ExpiredCursor marks the last booking returned by FindExpiredUnpaid
type ExpiredCursor struct {
	Deadline time.Time
	ID       string
}

// CursorAfter returns the cursor positioned on b
func CursorAfter(b *domain.Booking) *ExpiredCursor {
	c := &ExpiredCursor{ID: b.ID}
	if b.PaymentDeadline != nil {
		c.Deadline = *b.PaymentDeadline
	}
	return c
}

// before reports whether b sorts at or before the cursor
func (c *ExpiredCursor) before(b *domain.Booking) bool {
	if c == nil {
		return false
	}
	var deadline time.Time
	if b.PaymentDeadline != nil {
		deadline = *b.PaymentDeadline
	}
	if !deadline.Equal(c.Deadline) {
		return deadline.Before(c.Deadline)
	}
	return b.ID <= c.ID
}

// normalize applies the default and maximum page size
func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Queries are plain reads that take no row locks
type Queries interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	ListUpcomingSessions(ctx context.Context, from time.Time, page Page) ([]*domain.Session, error)

	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	GetBookingByCode(ctx context.Context, code string) (*domain.Booking, error)
	ListUserBookings(ctx context.Context, userID string, page Page) ([]*domain.Booking, error)
	ListSessionBookings(ctx context.Context, sessionID string) ([]*domain.Booking, error)
	// FindExpiredUnpaid returns pending bookings whose payment deadline is
	// before now and which are not cancelled, ordered by (deadline, id) and
	// starting after the cursor when one is given
	FindExpiredUnpaid(ctx context.Context, now time.Time, after *ExpiredCursor, limit int) ([]*domain.Booking, error)

	GetSubscriptionByUser(ctx context.Context, userID string) (*domain.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error)
	GetSubscriptionByCustomerID(ctx context.Context, stripeCustomerID string) (*domain.Subscription, error)

	// ListUserTransactions returns a user's ledger newest first
	ListUserTransactions(ctx context.Context, userID string, page Page) ([]*domain.TicketTransaction, error)
	// ListSubscriptionLedger returns a subscription's ledger in append order
	ListSubscriptionLedger(ctx context.Context, subscriptionID string) ([]*domain.TicketTransaction, error)
	HasBonus(ctx context.Context, userID string, bonusType domain.TransactionType, year int) (bool, error)

	GetUser(ctx context.Context, id string) (*domain.User, error)
	// ListBirthdayUsers returns users born on month/day whose account was
	// created at or before createdBefore
	ListBirthdayUsers(ctx context.Context, month time.Month, day int, createdBefore time.Time) ([]*domain.User, error)

	// GetSetting returns a runtime setting; ok is false when it is not set
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
}

// Tx is a unit of work. Lock* methods take an exclusive row lock held until
// the transaction ends. Callers lock in the order session, booking,
// subscription.
type Tx interface {
	Queries

	LockSession(ctx context.Context, id string) (*domain.Session, error)
	InsertSession(ctx context.Context, s *domain.Session) error
	MarkSessionCancelled(ctx context.Context, id string, at time.Time) error
	// ReserveSlots decrements available slots, failing with
	// ErrInsufficientSlots when fewer than count remain
	ReserveSlots(ctx context.Context, sessionID string, count int) (remaining int, err error)
	// ReleaseSlots returns count slots to the session
	ReleaseSlots(ctx context.Context, sessionID string, count int) (remaining int, err error)

	LockBooking(ctx context.Context, id string) (*domain.Booking, error)
	LockActiveSessionBookings(ctx context.Context, sessionID string) ([]*domain.Booking, error)
	HasActiveBooking(ctx context.Context, userID, sessionID string) (bool, error)
	InsertBooking(ctx context.Context, b *domain.Booking) error
	// UpdateBookingState persists the mutable payment fields of a booking
	UpdateBookingState(ctx context.Context, b *domain.Booking) error

	// LockSubscriptionByUser locks the user's subscription in any status
	LockSubscriptionByUser(ctx context.Context, userID string) (*domain.Subscription, error)
	LockSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	InsertSubscription(ctx context.Context, sub *domain.Subscription) error
	// UpdateSubscription persists status, billing period, auto-renew and
	// billing ids; the ticket balance is only changed by AdjustTickets
	UpdateSubscription(ctx context.Context, sub *domain.Subscription) error
	// AdjustTickets adds delta to the ticket balance, failing with
	// ErrNoTicketsAvailable if the balance would drop below zero
	AdjustTickets(ctx context.Context, subscriptionID string, delta int) (balance int, err error)

	AppendTransaction(ctx context.Context, entry *domain.TicketTransaction) error
	InsertBonus(ctx context.Context, bonus *domain.BonusTicket) error
}

// Store runs units of work and serves lock-free reads
type Store interface {
	Queries

	// WithTx runs fn in a transaction; it commits when fn returns nil and
	// rolls back every change otherwise
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}
