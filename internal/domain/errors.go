package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a domain error for callers that must render it
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindConflict
	KindBadRequest
	KindForbidden
)

// String returns the string representation of the kind
func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Error is a classified domain error with a stable machine-readable code
type Error struct {
	kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any domain error with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of e carrying cause
func (e *Error) Wrap(cause error) *Error {
	return &Error{kind: e.kind, Code: e.Code, Message: e.Message, Err: cause}
}

// Kind returns the error classification
func (e *Error) Kind() ErrorKind {
	return e.kind
}

// Domain errors
var (
	// Session errors
	ErrSessionNotFound  = newError(KindNotFound, "SESSION_NOT_FOUND", "session not found")
	ErrSessionCancelled = newError(KindBadRequest, "SESSION_CANCELLED", "session is cancelled")
	ErrSessionInPast    = newError(KindBadRequest, "SESSION_IN_PAST", "session has already started")
	ErrInvalidSession   = newError(KindBadRequest, "INVALID_SESSION", "invalid session")

	// Booking errors
	ErrBookingNotFound    = newError(KindNotFound, "BOOKING_NOT_FOUND", "booking not found")
	ErrAlreadyBooked      = newError(KindConflict, "ALREADY_BOOKED", "you already have a booking for this session")
	ErrInsufficientSlots  = newError(KindConflict, "INSUFFICIENT_SLOTS", "not enough slots available")
	ErrAlreadyCancelled   = newError(KindBadRequest, "ALREADY_CANCELLED", "booking already cancelled")
	ErrAlreadyPaid        = newError(KindBadRequest, "ALREADY_PAID", "booking is already paid")
	ErrNothingOwed        = newError(KindBadRequest, "NOTHING_OWED", "booking has nothing to pay")
	ErrNotOwner           = newError(KindForbidden, "FORBIDDEN", "booking belongs to another user")
	ErrBookingCodeTaken   = newError(KindConflict, "BOOKING_CODE_TAKEN", "booking code already in use")
	ErrInvalidGuestCount  = newError(KindBadRequest, "INVALID_GUEST_COUNT", "invalid guest count")
	ErrInvalidPayMethod   = newError(KindBadRequest, "INVALID_PAYMENT_METHOD", "invalid payment method")
	ErrInvalidBookingID   = newError(KindBadRequest, "INVALID_BOOKING_ID", "invalid booking id")
	ErrInvalidUserID      = newError(KindBadRequest, "INVALID_USER_ID", "invalid user id")
	ErrInvalidSessionID   = newError(KindBadRequest, "INVALID_SESSION_ID", "invalid session id")
	ErrPaymentUnavailable = newError(KindInternal, "PAYMENT_UNAVAILABLE", "payment gateway unavailable")

	// ErrMalformedID is returned when an identifier is not a UUID
	ErrMalformedID = newError(KindBadRequest, "INVALID_ID", "malformed identifier")

	// Subscription and ticket errors
	ErrSubscriptionNotFound = newError(KindNotFound, "SUBSCRIPTION_NOT_FOUND", "subscription not found")
	ErrSubscriptionExists   = newError(KindConflict, "SUBSCRIPTION_EXISTS", "user already has a subscription")
	ErrSubscriptionInactive = newError(KindBadRequest, "SUBSCRIPTION_INACTIVE", "subscription is not active")
	ErrNoTicketsAvailable   = newError(KindConflict, "NO_TICKETS_AVAILABLE", "no tickets available")
	ErrInvalidTicketAmount  = newError(KindBadRequest, "INVALID_TICKET_AMOUNT", "ticket amount must be greater than zero")
	ErrLedgerMismatch       = newError(KindInternal, "LEDGER_MISMATCH", "ticket ledger does not match balance")
	ErrBonusAlreadyGranted  = newError(KindConflict, "BONUS_ALREADY_GRANTED", "bonus already granted for this period")

	// User errors
	ErrUserNotFound = newError(KindNotFound, "USER_NOT_FOUND", "user not found")
)

// CancellationWindowError reports a cancellation attempted after the deadline
type CancellationWindowError struct {
	HoursUntilSession int
	RequiredHours     int
	Subscriber        bool
}

func (e *CancellationWindowError) Error() string {
	who := "Drop-in players"
	if e.Subscriber {
		who = "Subscribers"
	}
	return fmt.Sprintf(
		"Cancellation deadline has passed. %s must cancel at least %d hours before the session. Session starts in %d hours.",
		who, e.RequiredHours, e.HoursUntilSession,
	)
}

// Kind returns the error classification
func (e *CancellationWindowError) Kind() ErrorKind {
	return KindBadRequest
}

// Window names the policy that applied
func (e *CancellationWindowError) Window() string {
	if e.Subscriber {
		return "subscriber"
	}
	return "drop_in"
}

type kinded interface {
	Kind() ErrorKind
}

// KindOf returns the classification of err; unclassified errors are internal
func KindOf(err error) ErrorKind {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// CodeOf returns the machine-readable code of err
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	var cw *CancellationWindowError
	if errors.As(err, &cw) {
		return "CANCELLATION_WINDOW_PASSED"
	}
	return "INTERNAL_ERROR"
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return KindOf(err) == KindBadRequest
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return KindOf(err) == KindConflict
}

// IsForbiddenError checks if the error is an ownership error
func IsForbiddenError(err error) bool {
	return KindOf(err) == KindForbidden
}
