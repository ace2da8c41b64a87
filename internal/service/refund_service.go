package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/gateway"
	"github.com/Loafy-club/Booking/internal/metrics"
	"github.com/Loafy-club/Booking/internal/repository"
	"github.com/Loafy-club/Booking/pkg/logger"
	"github.com/Loafy-club/Booking/pkg/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RefundJob is one refund owed to a user
type RefundJob struct {
	BookingID string `json:"booking_id"`
	ChargeID  string `json:"charge_id"`
	// Amount of zero refunds the charge in full
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// RefundRequester accepts refunds to be issued after a cancellation commits
type RefundRequester interface {
	RequestRefund(ctx context.Context, job *RefundJob)
}

// RefundService issues refunds in the background with retries. Jobs that
// exhaust their retries are parked on the refunds DLQ for manual handling.
type RefundService struct {
	store   repository.Store
	gateway gateway.PaymentGateway
	handler *retry.DLQHandler
	events  EventPublisher
	topic   string
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRefundService creates a refund service. dlqTopic only labels the DLQ
// messages; the DLQ publisher decides where they go.
func NewRefundService(store repository.Store, paymentGateway gateway.PaymentGateway, dlq retry.DLQPublisher, retryConfig *retry.Config, events EventPublisher, dlqTopic string) *RefundService {
	if events == nil {
		events = NewNoOpEventPublisher()
	}
	s := &RefundService{
		store:   store,
		gateway: paymentGateway,
		events:  events,
		topic:   dlqTopic,
		now:     time.Now,
	}
	s.handler = retry.NewDLQHandler(dlq, retryConfig, "refund-service", func(attempt int, err error, next time.Duration) {
		logger.Warn("Refund attempt failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("next_retry", next), zap.Error(err))
	})
	return s
}

// RequestRefund schedules job and returns immediately
func (s *RefundService) RequestRefund(ctx context.Context, job *RefundJob) {
	if job == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		logger.Get().ErrorContext(ctx, "Refund requested after shutdown",
			zap.String("booking_id", job.BookingID), zap.String("charge_id", job.ChargeID))
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	// detach from the request so the refund outlives it
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer s.wg.Done()
		_ = s.Process(ctx, job)
	}()
}

// Process issues the refund synchronously and records the outcome on the booking
func (s *RefundService) Process(ctx context.Context, job *RefundJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal refund job: %w", err)
	}
	msg := &retry.DLQMessage{
		ID:      uuid.New().String(),
		Topic:   s.topic,
		Key:     job.BookingID,
		Payload: payload,
		Metadata: map[string]string{
			"charge_id": job.ChargeID,
			"reason":    job.Reason,
		},
	}

	idempotencyKey := fmt.Sprintf("refund-%s-%s", job.BookingID, job.ChargeID)
	_, err = s.handler.Process(ctx, msg, func(ctx context.Context) error {
		charge, err := s.gateway.GetCharge(ctx, job.ChargeID)
		switch {
		case errors.Is(err, gateway.ErrChargeNotFound):
			return retry.Permanent(err)
		case err != nil:
			return err
		case !charge.Refundable():
			return retry.Permanent(fmt.Errorf("%w: status %s", gateway.ErrChargeNotCaptured, charge.Status))
		}

		err = s.gateway.Refund(ctx, &gateway.RefundRequest{
			ChargeID:       job.ChargeID,
			Amount:         job.Amount,
			Reason:         job.Reason,
			IdempotencyKey: idempotencyKey,
		})
		switch {
		case errors.Is(err, gateway.ErrAlreadyRefunded):
			return nil
		case errors.Is(err, gateway.ErrChargeNotFound), errors.Is(err, gateway.ErrInvalidRequest):
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		result := "failed"
		if errors.Is(err, retry.ErrMaxRetriesExceeded) {
			result = "dlq"
		}
		metrics.RecordRefund(result)
		logger.Get().ErrorContext(ctx, "Refund failed",
			zap.String("booking_id", job.BookingID),
			zap.String("charge_id", job.ChargeID),
			zap.String("result", result),
			zap.Error(err),
		)
		return err
	}

	metrics.RecordRefund("ok")
	logger.Get().InfoContext(ctx, "Refund issued",
		zap.String("booking_id", job.BookingID),
		zap.String("charge_id", job.ChargeID),
		zap.Int64("amount", job.Amount),
	)
	return s.markRefunded(ctx, job.BookingID)
}

func (s *RefundService) markRefunded(ctx context.Context, bookingID string) error {
	var booking *domain.Booking
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.PaymentStatus != domain.PaymentStatusCancelled {
			return nil
		}
		b.PaymentStatus = domain.PaymentStatusRefunded
		b.UpdatedAt = s.now()
		if err := tx.UpdateBookingState(ctx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		logger.Get().ErrorContext(ctx, "Failed to mark booking refunded",
			zap.String("booking_id", bookingID), zap.Error(err))
		return err
	}
	if booking != nil {
		logPublishError(ctx, "booking.refunded", booking, s.events.PublishBookingRefunded(ctx, booking))
	}
	return nil
}

// Close stops accepting refunds and waits for in-flight ones until ctx is done
func (s *RefundService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
