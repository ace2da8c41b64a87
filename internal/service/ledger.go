package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/metrics"
	"github.com/Loafy-club/Booking/internal/repository"
	"github.com/Loafy-club/Booking/pkg/logger"
	"github.com/Loafy-club/Booking/pkg/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const bookingCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateBookingCode returns a code of the form LB-XXXXX
func generateBookingCode() string {
	b := make([]byte, 5)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = bookingCodeChars[int(b[i])%len(bookingCodeChars)]
	}
	return "LB-" + string(b)
}

// finishSpan ends span, marking it failed only for internal errors
func finishSpan(span trace.Span, err error) {
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			telemetry.RecordError(span, err)
		} else {
			span.SetAttributes(attribute.String("error.code", domain.CodeOf(err)))
		}
	}
	span.End()
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// changeTickets applies delta to a locked subscription and appends the
// matching ledger entry in the same transaction
func changeTickets(ctx context.Context, tx repository.Tx, sub *domain.Subscription, txType domain.TransactionType, delta int, bookingID, adminID, notes string, now time.Time) (*domain.TicketTransaction, error) {
	balance, err := tx.AdjustTickets(ctx, sub.ID, delta)
	if err != nil {
		return nil, err
	}
	sub.TicketsRemaining = balance

	entry := &domain.TicketTransaction{
		ID:             uuid.New().String(),
		UserID:         sub.UserID,
		SubscriptionID: &sub.ID,
		BookingID:      strPtr(bookingID),
		Type:           txType,
		Amount:         delta,
		BalanceAfter:   balance,
		Notes:          strPtr(notes),
		AdminID:        strPtr(adminID),
		CreatedAt:      now,
	}
	if err := tx.AppendTransaction(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append ticket transaction: %w", err)
	}
	return entry, nil
}

// lockSubscription locks the user's subscription, returning nil when the
// user has none
func lockSubscription(ctx context.Context, tx repository.Tx, userID string) (*domain.Subscription, error) {
	sub, err := tx.LockSubscriptionByUser(ctx, userID)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock subscription: %w", err)
	}
	return sub, nil
}

// reverseBooking is the shared reversal used by cancellation, expiry and
// session cancellation: it restores a consumed ticket, marks the booking
// cancelled and releases its slots. The caller holds the session and
// booking locks and passes the user's locked subscription, if any.
func reverseBooking(ctx context.Context, tx repository.Tx, b *domain.Booking, sub *domain.Subscription, note string, now time.Time) (*domain.TicketTransaction, error) {
	var restored *domain.TicketTransaction
	if b.TicketsUsed > 0 {
		if sub == nil {
			logger.Get().WarnContext(ctx, "No subscription to restore ticket to",
				zap.String("booking_id", b.ID), zap.String("user_id", b.UserID))
		} else {
			entry, err := changeTickets(ctx, tx, sub, domain.TxRestored, b.TicketsUsed, b.ID, "", note, now)
			if err != nil {
				return nil, fmt.Errorf("failed to restore ticket: %w", err)
			}
			restored = entry
		}
	}

	b.MarkCancelled(now)
	if err := tx.UpdateBookingState(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	if _, err := tx.ReleaseSlots(ctx, b.SessionID, b.SlotsConsumed()); err != nil {
		return nil, fmt.Errorf("failed to release slots: %w", err)
	}
	return restored, nil
}

// publishTicketEntries publishes committed ledger entries, logging failures
func publishTicketEntries(ctx context.Context, events EventPublisher, entries ...*domain.TicketTransaction) {
	for _, e := range entries {
		if e == nil {
			continue
		}
		metrics.RecordTicketChange(string(e.Type))
		if err := events.PublishTicketChanged(ctx, e); err != nil {
			logger.Get().WarnContext(ctx, "Failed to publish ticket event",
				zap.String("transaction_id", e.ID), zap.Error(err))
		}
	}
}

// logPublishError logs a failed booking event publish
func logPublishError(ctx context.Context, event string, b *domain.Booking, err error) {
	if err != nil {
		logger.Get().WarnContext(ctx, fmt.Sprintf("Failed to publish %s event", event),
			zap.String("booking_id", b.ID), zap.Error(err))
	}
}
