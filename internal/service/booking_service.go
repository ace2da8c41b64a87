package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/gateway"
	"github.com/Loafy-club/Booking/internal/metrics"
	"github.com/Loafy-club/Booking/internal/pricing"
	"github.com/Loafy-club/Booking/internal/repository"
	"github.com/Loafy-club/Booking/pkg/logger"
	"github.com/Loafy-club/Booking/pkg/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxBookingCodeAttempts bounds retries after a booking code collision
const maxBookingCodeAttempts = 5

// CreateReservationRequest is the input of a reservation
type CreateReservationRequest struct {
	SessionID     string               `json:"session_id"`
	GuestCount    int                  `json:"guest_count"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
}

// PaymentIntent is what a client needs to pay for a booking
type PaymentIntent struct {
	BookingID    string `json:"booking_id"`
	ChargeID     string `json:"payment_intent_id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// BookingService defines the interface for reservation business logic
type BookingService interface {
	// CreateReservation reserves 1+guests slots for userID
	CreateReservation(ctx context.Context, userID string, req *CreateReservationRequest) (*domain.Booking, error)

	// CancelReservation cancels a booking owned by userID within the cancellation window
	CancelReservation(ctx context.Context, bookingID, userID string) (*domain.Booking, error)

	// ConfirmPayment marks a booking paid; repeated confirmations are no-ops
	ConfirmPayment(ctx context.Context, bookingID, chargeID string) (*domain.Booking, error)

	// CreatePaymentIntent opens a gateway charge for the amount owed
	CreatePaymentIntent(ctx context.Context, bookingID, userID string) (*PaymentIntent, error)

	// GetBooking retrieves a booking owned by userID
	GetBooking(ctx context.Context, bookingID, userID string) (*domain.Booking, error)

	// ListUserBookings lists a user's bookings, newest first
	ListUserBookings(ctx context.Context, userID string, page repository.Page) ([]*domain.Booking, error)

	// FindExpiredBookings returns unpaid bookings past their deadline,
	// starting after the cursor when one is given
	FindExpiredBookings(ctx context.Context, after *repository.ExpiredCursor, limit int) ([]*domain.Booking, error)

	// ExpireBooking cancels one unpaid booking past its deadline. It returns
	// false when the booking no longer qualifies.
	ExpireBooking(ctx context.Context, bookingID string) (bool, error)
}

// BookingServiceConfig contains configuration for booking service
type BookingServiceConfig struct {
	DefaultBasePrice            int64
	PaymentWindow               time.Duration
	Rounding                    pricing.Rounding
	SubscriberCancellationHours int
	DropInCancellationHours     int
	MaxGuests                   int
	Currency                    string

	// Now and CodeGenerator are overridable in tests
	Now           func() time.Time
	CodeGenerator func() string
}

// bookingService implements BookingService
type bookingService struct {
	store    repository.Store
	settings SettingsProvider
	gateway  gateway.PaymentGateway
	refunds  RefundRequester
	events   EventPublisher
	cfg      BookingServiceConfig
}

// NewBookingService creates a new booking service
func NewBookingService(
	store repository.Store,
	settings SettingsProvider,
	paymentGateway gateway.PaymentGateway,
	refunds RefundRequester,
	events EventPublisher,
	cfg *BookingServiceConfig,
) BookingService {
	c := BookingServiceConfig{
		DefaultBasePrice:            100000,
		PaymentWindow:               30 * time.Minute,
		Rounding:                    pricing.DefaultRounding(),
		SubscriberCancellationHours: domain.DefaultSubscriberCancellationHours,
		DropInCancellationHours:     domain.DefaultDropInCancellationHours,
		MaxGuests:                   10,
		Currency:                    "vnd",
	}
	if cfg != nil {
		if cfg.DefaultBasePrice > 0 {
			c.DefaultBasePrice = cfg.DefaultBasePrice
		}
		if cfg.PaymentWindow > 0 {
			c.PaymentWindow = cfg.PaymentWindow
		}
		if cfg.Rounding.Mode != "" {
			c.Rounding = cfg.Rounding
		}
		if cfg.SubscriberCancellationHours > 0 {
			c.SubscriberCancellationHours = cfg.SubscriberCancellationHours
		}
		if cfg.DropInCancellationHours > 0 {
			c.DropInCancellationHours = cfg.DropInCancellationHours
		}
		if cfg.MaxGuests > 0 {
			c.MaxGuests = cfg.MaxGuests
		}
		if cfg.Currency != "" {
			c.Currency = cfg.Currency
		}
		c.Now = cfg.Now
		c.CodeGenerator = cfg.CodeGenerator
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.CodeGenerator == nil {
		c.CodeGenerator = generateBookingCode
	}
	if events == nil {
		events = NewNoOpEventPublisher()
	}
	return &bookingService{
		store:    store,
		settings: settings,
		gateway:  paymentGateway,
		refunds:  refunds,
		events:   events,
		cfg:      c,
	}
}

func (s *bookingService) validateReservation(userID string, req *CreateReservationRequest) error {
	if userID == "" {
		return domain.ErrInvalidUserID
	}
	if req == nil || req.SessionID == "" {
		return domain.ErrInvalidSessionID
	}
	if req.GuestCount < 0 || req.GuestCount > s.cfg.MaxGuests {
		return domain.ErrInvalidGuestCount
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodStripe
	}
	if !req.PaymentMethod.IsValid() {
		return domain.ErrInvalidPayMethod
	}
	return nil
}

// CreateReservation runs the reservation transaction. The session row lock
// serializes it against every other capacity change on the session and the
// subscription row lock against every other ticket change of the user.
func (s *bookingService) CreateReservation(ctx context.Context, userID string, req *CreateReservationRequest) (booking *domain.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.create")
	defer func() { finishSpan(span, err) }()

	start := time.Now()
	defer func() { metrics.RecordReservation(reservationOutcome(err), time.Since(start)) }()

	if err := s.validateReservation(userID, req); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("session_id", req.SessionID),
		attribute.Int("guest_count", req.GuestCount),
	)

	// Read before taking any lock; the store may change between calls
	discount := 0
	if s.settings != nil {
		discount = s.settings.DiscountPercent(ctx)
	}

	var used *domain.TicketTransaction
	for attempt := 0; attempt < maxBookingCodeAttempts; attempt++ {
		booking, used, err = s.reserve(ctx, userID, req, discount, s.cfg.CodeGenerator())
		if !errors.Is(err, domain.ErrBookingCodeTaken) {
			break
		}
		logger.Get().InfoContext(ctx, "Booking code collision, retrying", zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return nil, err
	}

	logger.Get().InfoContext(ctx, "Reservation created",
		zap.String("booking_id", booking.ID),
		zap.String("booking_code", booking.BookingCode),
		zap.String("discount", string(booking.DiscountApplied)),
		zap.Int64("total_owed", booking.TotalOwed()),
	)

	logPublishError(ctx, "booking.created", booking, s.events.PublishBookingCreated(ctx, booking))
	publishTicketEntries(ctx, s.events, used)
	return booking, nil
}

func (s *bookingService) reserve(ctx context.Context, userID string, req *CreateReservationRequest, discount int, code string) (*domain.Booking, *domain.TicketTransaction, error) {
	var (
		booking *domain.Booking
		used    *domain.TicketTransaction
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		now := s.cfg.Now()

		session, err := tx.LockSession(ctx, req.SessionID)
		if err != nil {
			return err
		}
		if session.Cancelled {
			return domain.ErrSessionCancelled
		}
		if session.HasStarted(now) {
			return domain.ErrSessionInPast
		}

		booked, err := tx.HasActiveBooking(ctx, userID, session.ID)
		if err != nil {
			return fmt.Errorf("failed to check existing booking: %w", err)
		}
		if booked {
			return domain.ErrAlreadyBooked
		}

		slots := domain.SlotsNeeded(req.GuestCount)
		if session.AvailableSlots < slots {
			return domain.ErrInsufficientSlots
		}

		sub, err := lockSubscription(ctx, tx, userID)
		if err != nil {
			return err
		}
		quote := pricing.Calculate(pricing.Input{
			BasePrice:             session.BasePrice(s.cfg.DefaultBasePrice),
			GuestCount:            req.GuestCount,
			HasActiveSubscription: sub.IsActive(),
			TicketsRemaining:      ticketsOf(sub),
			DiscountPercent:       discount,
		}, s.cfg.Rounding)

		booking = &domain.Booking{
			ID:              uuid.New().String(),
			BookingCode:     code,
			UserID:          userID,
			SessionID:       session.ID,
			GuestCount:      req.GuestCount,
			TicketsUsed:     quote.TicketsToConsume,
			DiscountApplied: quote.Discount,
			PricePaid:       quote.OwnerPrice,
			GuestPricePaid:  quote.GuestPrice,
			PaymentMethod:   req.PaymentMethod,
			PaymentStatus:   quote.InitialStatus(),
			PaymentDeadline: quote.PaymentDeadline(now, s.cfg.PaymentWindow),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertBooking(ctx, booking); err != nil {
			return err
		}

		if quote.TicketsToConsume > 0 {
			used, err = changeTickets(ctx, tx, sub, domain.TxUsed, -quote.TicketsToConsume, booking.ID, "", "Used for booking", now)
			if err != nil {
				return err
			}
		}

		if _, err := tx.ReserveSlots(ctx, session.ID, slots); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return booking, used, nil
}

func ticketsOf(sub *domain.Subscription) int {
	if sub == nil {
		return 0
	}
	return sub.TicketsRemaining
}

func reservationOutcome(err error) string {
	switch domain.KindOf(err) {
	case domain.KindConflict:
		return "conflict"
	case domain.KindBadRequest, domain.KindNotFound, domain.KindForbidden:
		return "rejected"
	}
	if err != nil {
		return "error"
	}
	return "ok"
}

// CancelReservation runs the cancellation transaction. The refund, if any,
// is requested only after the cancellation commits.
func (s *bookingService) CancelReservation(ctx context.Context, bookingID, userID string) (booking *domain.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.cancel")
	defer func() { finishSpan(span, err) }()

	if bookingID == "" {
		return nil, domain.ErrInvalidBookingID
	}
	span.SetAttributes(attribute.String("booking_id", bookingID), attribute.String("user_id", userID))

	current, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !current.BelongsToUser(userID) {
		return nil, domain.ErrNotOwner
	}
	if !current.IsActive() {
		return nil, domain.ErrAlreadyCancelled
	}

	var (
		restored *domain.TicketTransaction
		refund   *RefundJob
	)
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		now := s.cfg.Now()

		session, err := tx.LockSession(ctx, current.SessionID)
		if err != nil {
			return err
		}
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !b.IsActive() {
			return domain.ErrAlreadyCancelled
		}

		// Subscriber status is taken at cancellation time
		sub, err := lockSubscription(ctx, tx, userID)
		if err != nil {
			return err
		}
		subscriber := sub.IsActive()
		hours := session.CancellationHours(subscriber, s.cfg.SubscriberCancellationHours, s.cfg.DropInCancellationHours)
		deadline := session.StartsAt.Add(-time.Duration(hours) * time.Hour)
		if now.After(deadline) {
			until := int(session.StartsAt.Sub(now).Hours())
			if until < 0 {
				until = 0
			}
			return &domain.CancellationWindowError{
				HoursUntilSession: until,
				RequiredHours:     hours,
				Subscriber:        subscriber,
			}
		}

		refund = refundFor(b, "booking_cancelled")
		restored, err = reverseBooking(ctx, tx, b, sub, "Restored from cancelled booking", now)
		if err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordCancellation("user")
	logger.Get().InfoContext(ctx, "Booking cancelled",
		zap.String("booking_id", booking.ID), zap.Bool("ticket_restored", restored != nil))

	logPublishError(ctx, "booking.cancelled", booking, s.events.PublishBookingCancelled(ctx, booking))
	publishTicketEntries(ctx, s.events, restored)
	s.requestRefund(ctx, refund)
	return booking, nil
}

// refundFor returns the refund owed when b is cancelled in its current state
// and marks the charge on b, so a redelivered confirmation does not refund it
// again. The caller persists b.
func refundFor(b *domain.Booking, reason string) *RefundJob {
	if !b.HasCapturedPayment() {
		return nil
	}
	chargeID := *b.StripePaymentID
	b.RefundChargeID = &chargeID
	return &RefundJob{
		BookingID: b.ID,
		ChargeID:  chargeID,
		Amount:    b.TotalOwed(),
		Reason:    reason,
	}
}

func (s *bookingService) requestRefund(ctx context.Context, job *RefundJob) {
	if job == nil {
		return
	}
	if s.refunds == nil {
		logger.Get().ErrorContext(ctx, "Refund owed but no refund processor configured",
			zap.String("booking_id", job.BookingID), zap.String("charge_id", job.ChargeID))
		return
	}
	s.refunds.RequestRefund(ctx, job)
}

// ConfirmPayment applies a payment confirmation. A confirmation for a booking
// that was cancelled in the meantime triggers a refund of that charge.
func (s *bookingService) ConfirmPayment(ctx context.Context, bookingID, chargeID string) (booking *domain.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.confirm_payment")
	defer func() { finishSpan(span, err) }()

	if bookingID == "" {
		return nil, domain.ErrInvalidBookingID
	}
	span.SetAttributes(attribute.String("booking_id", bookingID), attribute.String("charge_id", chargeID))

	var (
		confirmed bool
		refund    *RefundJob
	)
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		booking = b

		switch b.PaymentStatus {
		case domain.PaymentStatusConfirmed, domain.PaymentStatusRefunded:
			return nil
		case domain.PaymentStatusCancelled:
			if chargeID == "" || b.RefundRequestedFor(chargeID) {
				return nil
			}
			refund = &RefundJob{
				BookingID: b.ID,
				ChargeID:  chargeID,
				Reason:    "paid_after_cancellation",
			}
			b.RefundChargeID = &chargeID
			b.UpdatedAt = s.cfg.Now()
			if err := tx.UpdateBookingState(ctx, b); err != nil {
				return fmt.Errorf("failed to record refund: %w", err)
			}
			return nil
		}

		now := s.cfg.Now()
		b.PaymentStatus = domain.PaymentStatusConfirmed
		if chargeID != "" {
			b.StripePaymentID = &chargeID
		}
		b.UpdatedAt = now
		if err := tx.UpdateBookingState(ctx, b); err != nil {
			return fmt.Errorf("failed to confirm booking: %w", err)
		}
		confirmed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if confirmed {
		metrics.RecordConfirmation()
		logger.Get().InfoContext(ctx, "Payment confirmed", zap.String("booking_id", booking.ID), zap.String("charge_id", chargeID))
		logPublishError(ctx, "booking.confirmed", booking, s.events.PublishBookingConfirmed(ctx, booking))
	}
	if refund != nil {
		logger.Get().WarnContext(ctx, "Payment received for cancelled booking, refunding",
			zap.String("booking_id", booking.ID), zap.String("charge_id", chargeID))
		s.requestRefund(ctx, refund)
	}
	return booking, nil
}

// CreatePaymentIntent opens a charge for what the booking owes and records
// the charge id on the booking
func (s *bookingService) CreatePaymentIntent(ctx context.Context, bookingID, userID string) (intent *PaymentIntent, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.create_payment_intent")
	defer func() { finishSpan(span, err) }()

	b, err := s.GetBooking(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	if err := payable(b); err != nil {
		return nil, err
	}
	if s.gateway == nil {
		return nil, domain.ErrPaymentUnavailable
	}

	charge, err := s.gateway.CreateCharge(ctx, &gateway.ChargeRequest{
		Amount:      b.TotalOwed(),
		Currency:    s.cfg.Currency,
		BookingID:   b.ID,
		UserID:      b.UserID,
		Description: fmt.Sprintf("Booking %s", b.BookingCode),
	})
	if err != nil {
		return nil, domain.ErrPaymentUnavailable.Wrap(err)
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		if err := payable(locked); err != nil {
			return err
		}
		locked.StripePaymentID = &charge.ChargeID
		locked.UpdatedAt = s.cfg.Now()
		return tx.UpdateBookingState(ctx, locked)
	})
	if err != nil {
		return nil, err
	}

	return &PaymentIntent{
		BookingID:    b.ID,
		ChargeID:     charge.ChargeID,
		ClientSecret: charge.ClientSecret,
		Amount:       b.TotalOwed(),
		Currency:     s.cfg.Currency,
	}, nil
}

func payable(b *domain.Booking) error {
	switch {
	case !b.IsActive():
		return domain.ErrAlreadyCancelled
	case b.PaymentStatus != domain.PaymentStatusPending:
		return domain.ErrAlreadyPaid
	case b.TotalOwed() == 0:
		return domain.ErrNothingOwed
	}
	return nil
}

// GetBooking retrieves a booking owned by userID
func (s *bookingService) GetBooking(ctx context.Context, bookingID, userID string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.get")
	defer span.End()

	if bookingID == "" {
		return nil, domain.ErrInvalidBookingID
	}
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.BelongsToUser(userID) {
		return nil, domain.ErrNotOwner
	}
	return b, nil
}

// ListUserBookings lists a user's bookings, newest first
func (s *bookingService) ListUserBookings(ctx context.Context, userID string, page repository.Page) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.list")
	defer span.End()

	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	return s.store.ListUserBookings(ctx, userID, page)
}

// FindExpiredBookings returns unpaid bookings past their deadline
func (s *bookingService) FindExpiredBookings(ctx context.Context, after *repository.ExpiredCursor, limit int) ([]*domain.Booking, error) {
	return s.store.FindExpiredUnpaid(ctx, s.cfg.Now(), after, limit)
}

// ExpireBooking reverses an unpaid booking whose payment window elapsed. The
// cancellation window does not apply. The state check is repeated under the
// locks so a concurrent cancellation, confirmation or second sweep turns this
// into a no-op.
func (s *bookingService) ExpireBooking(ctx context.Context, bookingID string) (expired bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.expire")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("booking_id", bookingID))

	current, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return false, err
	}
	if !current.IsPaymentExpired(s.cfg.Now()) {
		return false, nil
	}

	var (
		booking  *domain.Booking
		restored *domain.TicketTransaction
	)
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		now := s.cfg.Now()

		if _, err := tx.LockSession(ctx, current.SessionID); err != nil {
			return err
		}
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !b.IsPaymentExpired(now) {
			return nil
		}

		var sub *domain.Subscription
		if b.TicketsUsed > 0 {
			if sub, err = lockSubscription(ctx, tx, b.UserID); err != nil {
				return err
			}
		}
		restored, err = reverseBooking(ctx, tx, b, sub, "Restored from expired booking", now)
		if err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil || booking == nil {
		return false, err
	}

	metrics.RecordCancellation("expired")
	logger.Get().InfoContext(ctx, "Unpaid booking expired",
		zap.String("booking_id", booking.ID), zap.Int("slots_released", booking.SlotsConsumed()))

	logPublishError(ctx, "booking.expired", booking, s.events.PublishBookingExpired(ctx, booking))
	publishTicketEntries(ctx, s.events, restored)
	return true, nil
}
