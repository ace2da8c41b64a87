package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/pkg/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Constraint names from the schema migrations
const (
	constraintOneActiveBooking = "bookings_one_active_per_user"
	constraintBookingCode      = "bookings_booking_code_key"
	constraintBirthdayBonus    = "bonus_tickets_birthday_once_per_year"
	constraintOneSubscription  = "subscriptions_user_id_key"
	constraintSlotBounds       = "sessions_slots_bounds"
	constraintTicketsFloor     = "subscriptions_tickets_remaining_check"
)

// PostgreSQL error codes
const (
	pgUniqueViolation    = "23505"
	pgCheckViolation     = "23514"
	pgInvalidTextForType = "22P02"
)

const (
	sessionColumns = `id, organizer_id, title, COALESCE(location, ''), starts_at, courts,
		max_players_per_court, total_slots, available_slots, price,
		subscriber_cancellation_hours, drop_in_cancellation_hours, cancelled,
		created_at, updated_at`

	bookingColumns = `id, booking_code, user_id, session_id, guest_count, tickets_used,
		discount_applied, price_paid, guest_price_paid, payment_method, payment_status,
		stripe_payment_id, refund_charge_id, payment_deadline, cancelled_at,
		created_at, updated_at`

	subscriptionColumns = `id, user_id, status, tickets_remaining, current_period_start,
		current_period_end, stripe_subscription_id, stripe_customer_id, auto_renew,
		created_at, updated_at`

	transactionColumns = `id, user_id, subscription_id, booking_id, transaction_type,
		amount, balance_after, notes, admin_id, created_at`

	userColumns = `id, email, COALESCE(display_name, ''), role, birthday, created_at`
)

// dbtx is the query surface shared by the pool and an open transaction
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL with pgxpool
type PostgresStore struct {
	pgQueries
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{db: pool}, pool: pool}
}

// WithTx runs fn inside a READ COMMITTED transaction
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.tx")
	defer func() { endSpan(span, err) }()

	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// no-op once committed
		_ = pgTx.Rollback(context.WithoutCancel(ctx))
	}()

	if err = fn(&postgresTx{pgQueries: pgQueries{db: pgTx}}); err != nil {
		return err
	}
	if err = pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapWriteError(err))
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// pgQueries implements Queries against either the pool or a transaction
type pgQueries struct {
	db dbtx
}

// postgresTx implements Tx on top of pgx.Tx
type postgresTx struct {
	pgQueries
}

func endSpan(span trace.Span, err error) {
	if err != nil && !domain.IsNotFoundError(err) {
		telemetry.RecordError(span, err)
	}
	span.End()
}

// mapWriteError translates constraint violations and malformed UUID input
// into domain errors
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgInvalidTextForType:
		return domain.ErrMalformedID
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case constraintOneActiveBooking:
			return domain.ErrAlreadyBooked
		case constraintBookingCode:
			return domain.ErrBookingCodeTaken
		case constraintBirthdayBonus:
			return domain.ErrBonusAlreadyGranted
		case constraintOneSubscription:
			return domain.ErrSubscriptionExists
		}
	case pgCheckViolation:
		switch pgErr.ConstraintName {
		case constraintSlotBounds:
			return domain.ErrInsufficientSlots
		case constraintTicketsFloor:
			return domain.ErrNoTicketsAvailable
		}
	}
	return err
}

// mapReadError resolves a single-row lookup error
func mapReadError(err, notFound error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	return mapWriteError(err)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ==================== Sessions ====================

func scanSession(row pgx.Row) (*domain.Session, error) {
	s := &domain.Session{}
	err := row.Scan(
		&s.ID,
		&s.OrganizerID,
		&s.Title,
		&s.Location,
		&s.StartsAt,
		&s.Courts,
		&s.MaxPlayersPerCourt,
		&s.TotalSlots,
		&s.AvailableSlots,
		&s.Price,
		&s.SubscriberCancellationHours,
		&s.DropInCancellationHours,
		&s.Cancelled,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, mapReadError(err, domain.ErrSessionNotFound)
	}
	return s, nil
}

// GetSession retrieves a session by ID
func (q *pgQueries) GetSession(ctx context.Context, id string) (s *domain.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.session.get")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("session_id", id))

	return scanSession(q.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// ListUpcomingSessions lists non-cancelled sessions starting at or after from
func (q *pgQueries) ListUpcomingSessions(ctx context.Context, from time.Time, page Page) (out []*domain.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.session.list_upcoming")
	defer func() { endSpan(span, err) }()

	page = page.normalize()
	rows, err := q.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE starts_at >= $1 AND NOT cancelled
		ORDER BY starts_at
		LIMIT $2 OFFSET $3
	`, from, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LockSession selects a session FOR UPDATE
func (t *postgresTx) LockSession(ctx context.Context, id string) (s *domain.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.session.lock")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("session_id", id))

	return scanSession(t.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id))
}

// InsertSession creates a session record
func (t *postgresTx) InsertSession(ctx context.Context, s *domain.Session) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.session.insert")
	defer func() { endSpan(span, err) }()

	_, err = t.db.Exec(ctx, `
		INSERT INTO sessions (
			id, organizer_id, title, location, starts_at, courts, max_players_per_court,
			total_slots, available_slots, price, subscriber_cancellation_hours,
			drop_in_cancellation_hours, cancelled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		s.ID,
		s.OrganizerID,
		s.Title,
		nullString(s.Location),
		s.StartsAt,
		s.Courts,
		s.MaxPlayersPerCourt,
		s.TotalSlots,
		s.AvailableSlots,
		s.Price,
		s.SubscriberCancellationHours,
		s.DropInCancellationHours,
		s.Cancelled,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// MarkSessionCancelled flags a session as cancelled
func (t *postgresTx) MarkSessionCancelled(ctx context.Context, id string, at time.Time) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.session.cancel")
	defer func() { endSpan(span, err) }()

	tag, err := t.db.Exec(ctx, `UPDATE sessions SET cancelled = TRUE, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to cancel session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// ReserveSlots decrements available slots only when enough remain
func (t *postgresTx) ReserveSlots(ctx context.Context, sessionID string, count int) (remaining int, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.session.reserve_slots")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("session_id", sessionID), attribute.Int("count", count))

	err = t.db.QueryRow(ctx, `
		UPDATE sessions
		SET available_slots = available_slots - $2, updated_at = NOW()
		WHERE id = $1 AND available_slots >= $2
		RETURNING available_slots
	`, sessionID, count).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := t.GetSession(ctx, sessionID); getErr != nil {
			return 0, getErr
		}
		return 0, domain.ErrInsufficientSlots
	}
	if err != nil {
		if mapped := mapWriteError(err); mapped != err {
			return 0, mapped
		}
		return 0, fmt.Errorf("failed to reserve slots: %w", err)
	}
	return remaining, nil
}

// ReleaseSlots returns slots to a session; the table check keeps the total bounded
func (t *postgresTx) ReleaseSlots(ctx context.Context, sessionID string, count int) (remaining int, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.session.release_slots")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("session_id", sessionID), attribute.Int("count", count))

	err = t.db.QueryRow(ctx, `
		UPDATE sessions
		SET available_slots = available_slots + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING available_slots
	`, sessionID, count).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrSessionNotFound
	}
	if err != nil {
		if mapped := mapWriteError(err); mapped != err {
			return 0, mapped
		}
		return 0, fmt.Errorf("failed to release slots: %w", err)
	}
	return remaining, nil
}

// ==================== Bookings ====================

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	b := &domain.Booking{}
	var discount, method, status string
	err := row.Scan(
		&b.ID,
		&b.BookingCode,
		&b.UserID,
		&b.SessionID,
		&b.GuestCount,
		&b.TicketsUsed,
		&discount,
		&b.PricePaid,
		&b.GuestPricePaid,
		&method,
		&status,
		&b.StripePaymentID,
		&b.RefundChargeID,
		&b.PaymentDeadline,
		&b.CancelledAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, mapReadError(err, domain.ErrBookingNotFound)
	}
	b.DiscountApplied = domain.DiscountKind(discount)
	b.PaymentMethod = domain.PaymentMethod(method)
	b.PaymentStatus = domain.PaymentStatus(status)
	return b, nil
}

func collectBookings(rows pgx.Rows) ([]*domain.Booking, error) {
	defer rows.Close()
	var out []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBooking retrieves a booking by ID
func (q *pgQueries) GetBooking(ctx context.Context, id string) (b *domain.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("booking_id", id))

	return scanBooking(q.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
}

// GetBookingByCode retrieves a booking by its public code
func (q *pgQueries) GetBookingByCode(ctx context.Context, code string) (b *domain.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_code")
	defer func() { endSpan(span, err) }()

	return scanBooking(q.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE booking_code = $1`, code))
}

// ListUserBookings lists a user's bookings newest first
func (q *pgQueries) ListUserBookings(ctx context.Context, userID string, page Page) (out []*domain.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_by_user")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("user_id", userID))

	page = page.normalize()
	rows, err := q.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", mapWriteError(err))
	}
	return collectBookings(rows)
}

// ListSessionBookings lists every booking of a session
func (q *pgQueries) ListSessionBookings(ctx context.Context, sessionID string) (out []*domain.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_by_session")
	defer func() { endSpan(span, err) }()

	rows, err := q.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE session_id = $1
		ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session bookings: %w", mapWriteError(err))
	}
	return collectBookings(rows)
}

// FindExpiredUnpaid finds pending bookings past their payment deadline
func (q *pgQueries) FindExpiredUnpaid(ctx context.Context, now time.Time, after *ExpiredCursor, limit int) (out []*domain.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.find_expired_unpaid")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int("limit", limit), attribute.Bool("paged", after != nil))

	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE payment_status = 'pending'
			AND cancelled_at IS NULL
			AND payment_deadline < $1`
	args := []any{now, limit}
	if after != nil {
		query += `
			AND (payment_deadline, id) > ($3::timestamptz, $4::uuid)`
		args = append(args, after.Deadline, after.ID)
	}
	query += `
		ORDER BY payment_deadline, id
		LIMIT $2`

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired bookings: %w", mapWriteError(err))
	}
	return collectBookings(rows)
}

// LockBooking selects a booking FOR UPDATE
func (t *postgresTx) LockBooking(ctx context.Context, id string) (b *domain.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.lock")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("booking_id", id))

	return scanBooking(t.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
}

// LockActiveSessionBookings locks every non-cancelled booking of a session
func (t *postgresTx) LockActiveSessionBookings(ctx context.Context, sessionID string) (out []*domain.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.lock_active_by_session")
	defer func() { endSpan(span, err) }()

	rows, err := t.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE session_id = $1 AND cancelled_at IS NULL
		ORDER BY created_at
		FOR UPDATE
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock session bookings: %w", err)
	}
	return collectBookings(rows)
}

// HasActiveBooking checks whether the user holds a non-cancelled booking for the session
func (t *postgresTx) HasActiveBooking(ctx context.Context, userID, sessionID string) (exists bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.has_active")
	defer func() { endSpan(span, err) }()

	err = t.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE user_id = $1 AND session_id = $2 AND cancelled_at IS NULL
		)
	`, userID, sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active booking: %w", err)
	}
	return exists, nil
}

// InsertBooking creates a booking record
func (t *postgresTx) InsertBooking(ctx context.Context, b *domain.Booking) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.insert")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.String("booking_id", b.ID),
		attribute.String("user_id", b.UserID),
		attribute.String("session_id", b.SessionID),
	)

	_, err = t.db.Exec(ctx, `
		INSERT INTO bookings (
			id, booking_code, user_id, session_id, guest_count, tickets_used,
			discount_applied, price_paid, guest_price_paid, payment_method, payment_status,
			stripe_payment_id, payment_deadline, cancelled_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		b.ID,
		b.BookingCode,
		b.UserID,
		b.SessionID,
		b.GuestCount,
		b.TicketsUsed,
		string(b.DiscountApplied),
		b.PricePaid,
		b.GuestPricePaid,
		string(b.PaymentMethod),
		b.PaymentStatus.String(),
		b.StripePaymentID,
		b.PaymentDeadline,
		b.CancelledAt,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		if mapped := mapWriteError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// UpdateBookingState persists the payment fields of a booking
func (t *postgresTx) UpdateBookingState(ctx context.Context, b *domain.Booking) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.update_state")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.String("booking_id", b.ID),
		attribute.String("payment_status", b.PaymentStatus.String()),
	)

	tag, err := t.db.Exec(ctx, `
		UPDATE bookings
		SET payment_status = $2, stripe_payment_id = $3, payment_deadline = $4,
			cancelled_at = $5, payment_method = $6, updated_at = $7, refund_charge_id = $8
		WHERE id = $1
	`,
		b.ID,
		b.PaymentStatus.String(),
		b.StripePaymentID,
		b.PaymentDeadline,
		b.CancelledAt,
		string(b.PaymentMethod),
		b.UpdatedAt,
		b.RefundChargeID,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

// ==================== Subscriptions ====================

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	sub := &domain.Subscription{}
	var status string
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&status,
		&sub.TicketsRemaining,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.StripeSubscriptionID,
		&sub.StripeCustomerID,
		&sub.AutoRenew,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, mapReadError(err, domain.ErrSubscriptionNotFound)
	}
	sub.Status = domain.SubscriptionStatus(status)
	return sub, nil
}

// GetSubscriptionByUser retrieves the user's subscription in any status
func (q *pgQueries) GetSubscriptionByUser(ctx context.Context, userID string) (sub *domain.Subscription, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.subscription.get_by_user")
	defer func() { endSpan(span, err) }()

	return scanSubscription(q.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID))
}

// GetSubscriptionByStripeID retrieves a subscription by its billing id
func (q *pgQueries) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (sub *domain.Subscription, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.subscription.get_by_stripe_id")
	defer func() { endSpan(span, err) }()

	return scanSubscription(q.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = $1`, stripeSubscriptionID))
}

// GetSubscriptionByCustomerID retrieves a subscription by its billing customer
func (q *pgQueries) GetSubscriptionByCustomerID(ctx context.Context, stripeCustomerID string) (sub *domain.Subscription, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.subscription.get_by_customer")
	defer func() { endSpan(span, err) }()

	return scanSubscription(q.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE stripe_customer_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, stripeCustomerID))
}

// LockSubscriptionByUser selects the user's subscription FOR UPDATE
func (t *postgresTx) LockSubscriptionByUser(ctx context.Context, userID string) (sub *domain.Subscription, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.subscription.lock_by_user")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("user_id", userID))

	return scanSubscription(t.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 FOR UPDATE`, userID))
}

// LockSubscription selects a subscription FOR UPDATE
func (t *postgresTx) LockSubscription(ctx context.Context, id string) (sub *domain.Subscription, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.subscription.lock")
	defer func() { endSpan(span, err) }()

	return scanSubscription(t.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, id))
}

// InsertSubscription creates a subscription record
func (t *postgresTx) InsertSubscription(ctx context.Context, sub *domain.Subscription) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.subscription.insert")
	defer func() { endSpan(span, err) }()

	_, err = t.db.Exec(ctx, `
		INSERT INTO subscriptions (
			id, user_id, status, tickets_remaining, current_period_start, current_period_end,
			stripe_subscription_id, stripe_customer_id, auto_renew, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		sub.ID,
		sub.UserID,
		string(sub.Status),
		sub.TicketsRemaining,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.StripeSubscriptionID,
		sub.StripeCustomerID,
		sub.AutoRenew,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		if mapped := mapWriteError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// UpdateSubscription persists everything except the ticket balance
func (t *postgresTx) UpdateSubscription(ctx context.Context, sub *domain.Subscription) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.subscription.update")
	defer func() { endSpan(span, err) }()

	tag, err := t.db.Exec(ctx, `
		UPDATE subscriptions
		SET status = $2, current_period_start = $3, current_period_end = $4,
			stripe_subscription_id = $5, stripe_customer_id = $6, auto_renew = $7,
			updated_at = $8
		WHERE id = $1
	`,
		sub.ID,
		string(sub.Status),
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.StripeSubscriptionID,
		sub.StripeCustomerID,
		sub.AutoRenew,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// AdjustTickets changes the ticket balance without letting it go negative
func (t *postgresTx) AdjustTickets(ctx context.Context, subscriptionID string, delta int) (balance int, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.subscription.adjust_tickets")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("subscription_id", subscriptionID), attribute.Int("delta", delta))

	err = t.db.QueryRow(ctx, `
		UPDATE subscriptions
		SET tickets_remaining = tickets_remaining + $2, updated_at = NOW()
		WHERE id = $1 AND tickets_remaining + $2 >= 0
		RETURNING tickets_remaining
	`, subscriptionID, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := t.LockSubscription(ctx, subscriptionID); getErr != nil {
			return 0, getErr
		}
		return 0, domain.ErrNoTicketsAvailable
	}
	if err != nil {
		if mapped := mapWriteError(err); mapped != err {
			return 0, mapped
		}
		return 0, fmt.Errorf("failed to adjust tickets: %w", err)
	}
	return balance, nil
}

// ==================== Ledger ====================

func scanTransaction(row pgx.Row) (*domain.TicketTransaction, error) {
	tx := &domain.TicketTransaction{}
	var txType string
	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.SubscriptionID,
		&tx.BookingID,
		&txType,
		&tx.Amount,
		&tx.BalanceAfter,
		&tx.Notes,
		&tx.AdminID,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Type = domain.TransactionType(txType)
	return tx, nil
}

func collectTransactions(rows pgx.Rows) ([]*domain.TicketTransaction, error) {
	defer rows.Close()
	var out []*domain.TicketTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// ListUserTransactions lists a user's ledger entries newest first
func (q *pgQueries) ListUserTransactions(ctx context.Context, userID string, page Page) (out []*domain.TicketTransaction, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ledger.list_by_user")
	defer func() { endSpan(span, err) }()

	page = page.normalize()
	rows, err := q.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM ticket_transactions
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticket transactions: %w", mapWriteError(err))
	}
	return collectTransactions(rows)
}

// ListSubscriptionLedger lists a subscription's entries in append order
func (q *pgQueries) ListSubscriptionLedger(ctx context.Context, subscriptionID string) (out []*domain.TicketTransaction, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ledger.list_by_subscription")
	defer func() { endSpan(span, err) }()

	rows, err := q.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM ticket_transactions
		WHERE subscription_id = $1
		ORDER BY seq
	`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription ledger: %w", mapWriteError(err))
	}
	return collectTransactions(rows)
}

// HasBonus checks whether a bonus of the given type was granted in year
func (q *pgQueries) HasBonus(ctx context.Context, userID string, bonusType domain.TransactionType, year int) (exists bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.bonus.exists")
	defer func() { endSpan(span, err) }()

	err = q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bonus_tickets WHERE user_id = $1 AND bonus_type = $2 AND year = $3
		)
	`, userID, string(bonusType), year).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check bonus: %w", err)
	}
	return exists, nil
}

// AppendTransaction appends an entry to the ledger
func (t *postgresTx) AppendTransaction(ctx context.Context, entry *domain.TicketTransaction) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ledger.append")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.String("user_id", entry.UserID),
		attribute.String("transaction_type", string(entry.Type)),
		attribute.Int("amount", entry.Amount),
	)

	_, err = t.db.Exec(ctx, `
		INSERT INTO ticket_transactions (
			id, user_id, subscription_id, booking_id, transaction_type,
			amount, balance_after, notes, admin_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.ID,
		entry.UserID,
		entry.SubscriptionID,
		entry.BookingID,
		string(entry.Type),
		entry.Amount,
		entry.BalanceAfter,
		entry.Notes,
		entry.AdminID,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append ticket transaction: %w", err)
	}
	return nil
}

// InsertBonus records a bonus grant
func (t *postgresTx) InsertBonus(ctx context.Context, bonus *domain.BonusTicket) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.bonus.insert")
	defer func() { endSpan(span, err) }()

	_, err = t.db.Exec(ctx, `
		INSERT INTO bonus_tickets (id, user_id, bonus_type, amount, year, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		bonus.ID,
		bonus.UserID,
		string(bonus.BonusType),
		bonus.Amount,
		bonus.Year,
		nullString(bonus.Reason),
		bonus.CreatedAt,
	)
	if err != nil {
		if mapped := mapWriteError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to record bonus: %w", err)
	}
	return nil
}

// ==================== Users and settings ====================

func scanUser(row pgx.Row) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.Birthday, &u.CreatedAt)
	if err != nil {
		return nil, mapReadError(err, domain.ErrUserNotFound)
	}
	return u, nil
}

// GetUser retrieves a user by ID
func (q *pgQueries) GetUser(ctx context.Context, id string) (u *domain.User, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.user.get")
	defer func() { endSpan(span, err) }()

	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// ListBirthdayUsers lists users born on month/day created at or before createdBefore
func (q *pgQueries) ListBirthdayUsers(ctx context.Context, month time.Month, day int, createdBefore time.Time) (out []*domain.User, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.user.list_birthdays")
	defer func() { endSpan(span, err) }()

	rows, err := q.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE birthday IS NOT NULL
			AND EXTRACT(MONTH FROM birthday) = $1
			AND EXTRACT(DAY FROM birthday) = $2
			AND created_at <= $3
		ORDER BY created_at
	`, int(month), day, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list birthday users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetSetting reads a runtime setting from app_config
func (q *pgQueries) GetSetting(ctx context.Context, key string) (value string, ok bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.setting.get")
	defer func() { endSpan(span, err) }()

	err = q.db.QueryRow(ctx, `SELECT value FROM app_config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*postgresTx)(nil)
)
