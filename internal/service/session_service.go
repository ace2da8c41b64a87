package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/metrics"
	"github.com/Loafy-club/Booking/internal/repository"
	"github.com/Loafy-club/Booking/pkg/logger"
	"github.com/Loafy-club/Booking/pkg/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CreateSessionRequest describes a new session
type CreateSessionRequest struct {
	Title                       string    `json:"title"`
	Location                    string    `json:"location"`
	StartsAt                    time.Time `json:"starts_at"`
	Courts                      int       `json:"courts"`
	MaxPlayersPerCourt          int       `json:"max_players_per_court"`
	Price                       *int64    `json:"price,omitempty"`
	SubscriberCancellationHours *int      `json:"subscriber_cancellation_hours,omitempty"`
	DropInCancellationHours     *int      `json:"drop_in_cancellation_hours,omitempty"`
}

// SessionCancellation summarizes a cancelled session
type SessionCancellation struct {
	Session           *domain.Session   `json:"session"`
	CancelledBookings []*domain.Booking `json:"cancelled_bookings"`
	TicketsRestored   int               `json:"tickets_restored"`
	RefundsRequested  int               `json:"refunds_requested"`
}

// SessionService manages the sessions bookings are made against
type SessionService interface {
	Create(ctx context.Context, organizerID string, req *CreateSessionRequest) (*domain.Session, error)
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	ListUpcoming(ctx context.Context, page repository.Page) ([]*domain.Session, error)

	// Cancel cancels the session and every active booking on it in one
	// transaction. The cancellation window does not apply.
	Cancel(ctx context.Context, sessionID string) (*SessionCancellation, error)
}

type sessionService struct {
	store   repository.Store
	refunds RefundRequester
	events  EventPublisher
	now     func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(store repository.Store, refunds RefundRequester, events EventPublisher) SessionService {
	if events == nil {
		events = NewNoOpEventPublisher()
	}
	return &sessionService{store: store, refunds: refunds, events: events, now: time.Now}
}

func (s *sessionService) Create(ctx context.Context, organizerID string, req *CreateSessionRequest) (session *domain.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.session.create")
	defer func() { finishSpan(span, err) }()

	if req == nil {
		return nil, domain.ErrInvalidSession
	}
	now := s.now()
	if !req.StartsAt.After(now) {
		return nil, domain.ErrSessionInPast
	}
	for _, h := range []*int{req.SubscriberCancellationHours, req.DropInCancellationHours} {
		if h != nil && *h < 0 {
			return nil, domain.ErrInvalidSession
		}
	}

	slots := domain.NewSessionSlots(req.Courts, req.MaxPlayersPerCourt)
	session = &domain.Session{
		ID:                          uuid.New().String(),
		OrganizerID:                 organizerID,
		Title:                       strings.TrimSpace(req.Title),
		Location:                    strings.TrimSpace(req.Location),
		StartsAt:                    req.StartsAt.UTC(),
		Courts:                      req.Courts,
		MaxPlayersPerCourt:          req.MaxPlayersPerCourt,
		TotalSlots:                  slots,
		AvailableSlots:              slots,
		Price:                       req.Price,
		SubscriberCancellationHours: req.SubscriberCancellationHours,
		DropInCancellationHours:     req.DropInCancellationHours,
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.InsertSession(ctx, session)
	}); err != nil {
		return nil, err
	}

	logger.Get().InfoContext(ctx, "Session created",
		zap.String("session_id", session.ID), zap.Int("total_slots", session.TotalSlots))
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.session.get")
	defer span.End()

	if sessionID == "" {
		return nil, domain.ErrInvalidSessionID
	}
	return s.store.GetSession(ctx, sessionID)
}

func (s *sessionService) ListUpcoming(ctx context.Context, page repository.Page) ([]*domain.Session, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.session.list")
	defer span.End()

	return s.store.ListUpcomingSessions(ctx, s.now(), page)
}

func (s *sessionService) Cancel(ctx context.Context, sessionID string) (result *SessionCancellation, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.session.cancel")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("session_id", sessionID))

	if sessionID == "" {
		return nil, domain.ErrInvalidSessionID
	}

	var (
		restored []*domain.TicketTransaction
		refunds  []*RefundJob
	)
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		now := s.now()
		restored, refunds = nil, nil

		session, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Cancelled {
			return domain.ErrSessionCancelled
		}

		bookings, err := tx.LockActiveSessionBookings(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to lock session bookings: %w", err)
		}
		// subscriptions are locked in user order so two session
		// cancellations sharing players cannot deadlock
		slices.SortFunc(bookings, func(a, b *domain.Booking) int { return strings.Compare(a.UserID, b.UserID) })

		for _, b := range bookings {
			var sub *domain.Subscription
			if b.TicketsUsed > 0 {
				if sub, err = lockSubscription(ctx, tx, b.UserID); err != nil {
					return err
				}
			}
			if job := refundFor(b, "session_cancelled"); job != nil {
				refunds = append(refunds, job)
			}
			entry, err := reverseBooking(ctx, tx, b, sub, "Restored from cancelled session", now)
			if err != nil {
				return err
			}
			if entry != nil {
				restored = append(restored, entry)
			}
		}

		if err := tx.MarkSessionCancelled(ctx, sessionID, now); err != nil {
			return fmt.Errorf("failed to cancel session: %w", err)
		}
		session.Cancelled = true
		session.AvailableSlots = session.TotalSlots
		session.UpdatedAt = now

		result = &SessionCancellation{
			Session:           session,
			CancelledBookings: bookings,
			TicketsRestored:   len(restored),
			RefundsRequested:  len(refunds),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Get().InfoContext(ctx, "Session cancelled",
		zap.String("session_id", sessionID),
		zap.Int("bookings_cancelled", len(result.CancelledBookings)),
		zap.Int("refunds", len(refunds)),
	)

	for _, b := range result.CancelledBookings {
		metrics.RecordCancellation("session_cancelled")
		logPublishError(ctx, "booking.cancelled", b, s.events.PublishBookingCancelled(ctx, b))
	}
	publishTicketEntries(ctx, s.events, restored...)
	for _, job := range refunds {
		if s.refunds == nil {
			logger.Get().ErrorContext(ctx, "Refund owed but no refund processor configured",
				zap.String("booking_id", job.BookingID))
			continue
		}
		s.refunds.RequestRefund(ctx, job)
	}
	return result, nil
}
