package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/gateway"
	"github.com/Loafy-club/Booking/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// testClock is a settable clock shared by a fixture's services
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingRefunds captures refund requests instead of issuing them
type recordingRefunds struct {
	mu   sync.Mutex
	jobs []*RefundJob
}

func (r *recordingRefunds) RequestRefund(ctx context.Context, job *RefundJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *recordingRefunds) Jobs() []*RefundJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RefundJob(nil), r.jobs...)
}

// staticSettings returns a fixed discount
type staticSettings int

func (s staticSettings) DiscountPercent(context.Context) int { return int(s) }

type fixture struct {
	store   *repository.MemoryStore
	clock   *testClock
	events  *MockEventPublisher
	gateway *gateway.MockGateway
	refunds *recordingRefunds
	svc     BookingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   repository.NewMemoryStore(),
		clock:   &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
		events:  NewMockEventPublisher(),
		gateway: gateway.NewMockGateway(nil),
		refunds: &recordingRefunds{},
	}
	f.svc = NewBookingService(f.store, staticSettings(10), f.gateway, f.refunds, f.events, &BookingServiceConfig{
		DefaultBasePrice: 100000,
		PaymentWindow:    30 * time.Minute,
		Now:              f.clock.Now,
	})
	return f
}

func (f *fixture) seedSession(t *testing.T, slots int, startsIn time.Duration) *domain.Session {
	t.Helper()
	now := f.clock.Now()
	s := &domain.Session{
		ID:                 uuid.NewString(),
		OrganizerID:        uuid.NewString(),
		Title:              "Thursday night",
		StartsAt:           now.Add(startsIn),
		Courts:             1,
		MaxPlayersPerCourt: slots,
		TotalSlots:         slots,
		AvailableSlots:     slots,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, f.store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.InsertSession(context.Background(), s)
	}))
	return s
}

func (f *fixture) seedSubscription(t *testing.T, userID string, tickets int, status domain.SubscriptionStatus) *domain.Subscription {
	t.Helper()
	ctx := context.Background()
	sub := &domain.Subscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    status,
		AutoRenew: true,
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertSubscription(ctx, sub); err != nil {
			return err
		}
		if tickets == 0 {
			return nil
		}
		_, err := changeTickets(ctx, tx, sub, domain.TxSubscriptionGrant, tickets, "", "", "seed", f.clock.Now())
		return err
	}))
	return sub
}

func (f *fixture) tickets(t *testing.T, userID string) int {
	t.Helper()
	sub, err := f.store.GetSubscriptionByUser(context.Background(), userID)
	require.NoError(t, err)
	return sub.TicketsRemaining
}

func (f *fixture) availableSlots(t *testing.T, sessionID string) int {
	t.Helper()
	s, err := f.store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	return s.AvailableSlots
}

func (f *fixture) reserve(t *testing.T, userID, sessionID string, guests int) *domain.Booking {
	t.Helper()
	b, err := f.svc.CreateReservation(context.Background(), userID, &CreateReservationRequest{SessionID: sessionID, GuestCount: guests})
	require.NoError(t, err)
	return b
}

func TestCreateReservation_Pricing(t *testing.T) {
	tests := []struct {
		name         string
		subStatus    domain.SubscriptionStatus
		tickets      int
		guests       int
		wantDiscount domain.DiscountKind
		wantOwner    int64
		wantGuests   int64
		wantTickets  int
		wantStatus   domain.PaymentStatus
	}{
		{
			name:         "drop-in pays full price",
			guests:       0,
			wantDiscount: domain.DiscountNone,
			wantOwner:    100000,
			wantStatus:   domain.PaymentStatusPending,
		},
		{
			name:         "subscriber with tickets uses one and pays for guests",
			subStatus:    domain.SubscriptionActive,
			tickets:      5,
			guests:       2,
			wantDiscount: domain.DiscountTicket,
			wantOwner:    0,
			wantGuests:   200000,
			wantTickets:  4,
			wantStatus:   domain.PaymentStatusPending,
		},
		{
			name:         "subscriber with tickets alone is confirmed",
			subStatus:    domain.SubscriptionActive,
			tickets:      1,
			wantDiscount: domain.DiscountTicket,
			wantTickets:  0,
			wantStatus:   domain.PaymentStatusConfirmed,
		},
		{
			name:         "subscriber out of tickets gets discount",
			subStatus:    domain.SubscriptionActive,
			tickets:      0,
			guests:       1,
			wantDiscount: domain.DiscountOutOfTicket,
			wantOwner:    90000,
			wantGuests:   100000,
			wantStatus:   domain.PaymentStatusPending,
		},
		{
			name:         "past due subscription is priced as drop-in",
			subStatus:    domain.SubscriptionPastDue,
			tickets:      3,
			wantDiscount: domain.DiscountNone,
			wantOwner:    100000,
			wantTickets:  3,
			wantStatus:   domain.PaymentStatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			session := f.seedSession(t, 8, 72*time.Hour)
			userID := uuid.NewString()
			if tt.subStatus != "" {
				f.seedSubscription(t, userID, tt.tickets, tt.subStatus)
			}

			b := f.reserve(t, userID, session.ID, tt.guests)

			assert.Equal(t, tt.wantDiscount, b.DiscountApplied)
			assert.Equal(t, tt.wantOwner, b.PricePaid)
			assert.Equal(t, tt.wantGuests, b.GuestPricePaid)
			assert.Equal(t, tt.wantStatus, b.PaymentStatus)
			assert.Regexp(t, `^LB-[A-Z0-9]{5}$`, b.BookingCode)
			assert.Equal(t, 8-(1+tt.guests), f.availableSlots(t, session.ID))

			if tt.wantStatus == domain.PaymentStatusPending {
				require.NotNil(t, b.PaymentDeadline)
				assert.Equal(t, f.clock.Now().Add(30*time.Minute), *b.PaymentDeadline)
			} else {
				assert.Nil(t, b.PaymentDeadline)
			}
			if tt.subStatus != "" {
				assert.Equal(t, tt.wantTickets, f.tickets(t, userID))
			}
			require.Len(t, f.events.Created(), 1)
		})
	}
}

func TestCreateReservation_TicketLedgerEntry(t *testing.T) {
	f := newFixture(t)
	session := f.seedSession(t, 4, 72*time.Hour)
	userID := uuid.NewString()
	sub := f.seedSubscription(t, userID, 2, domain.SubscriptionActive)

	b := f.reserve(t, userID, session.ID, 0)

	history, err := f.store.ListUserTransactions(context.Background(), userID, repository.Page{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	used := history[0]
	assert.Equal(t, domain.TxUsed, used.Type)
	assert.Equal(t, -1, used.Amount)
	assert.Equal(t, 1, used.BalanceAfter)
	require.NotNil(t, used.BookingID)
	assert.Equal(t, b.ID, *used.BookingID)

	ledger, err := f.store.ListSubscriptionLedger(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, domain.ReplayLedger(sub.ID, ledger, f.tickets(t, userID)).Consistent)

	events := f.events.TicketEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.TxUsed, events[0].Type)
}

func TestCreateReservation_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.seedSession(t, 2, 72*time.Hour)
	started := f.seedSession(t, 2, -time.Minute)
	cancelled := f.seedSession(t, 2, 72*time.Hour)
	require.NoError(t, f.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.MarkSessionCancelled(ctx, cancelled.ID, f.clock.Now())
	}))
	booked := uuid.NewString()
	f.reserve(t, booked, open.ID, 0)

	tests := []struct {
		name    string
		userID  string
		req     *CreateReservationRequest
		wantErr error
	}{
		{"unknown session", uuid.NewString(), &CreateReservationRequest{SessionID: uuid.NewString()}, domain.ErrSessionNotFound},
		{"cancelled session", uuid.NewString(), &CreateReservationRequest{SessionID: cancelled.ID}, domain.ErrSessionCancelled},
		{"started session", uuid.NewString(), &CreateReservationRequest{SessionID: started.ID}, domain.ErrSessionInPast},
		{"not enough slots", uuid.NewString(), &CreateReservationRequest{SessionID: open.ID, GuestCount: 1}, domain.ErrInsufficientSlots},
		{"already booked", booked, &CreateReservationRequest{SessionID: open.ID}, domain.ErrAlreadyBooked},
		{"negative guests", uuid.NewString(), &CreateReservationRequest{SessionID: open.ID, GuestCount: -1}, domain.ErrInvalidGuestCount},
		{"too many guests", uuid.NewString(), &CreateReservationRequest{SessionID: open.ID, GuestCount: 11}, domain.ErrInvalidGuestCount},
		{"bad payment method", uuid.NewString(), &CreateReservationRequest{SessionID: open.ID, PaymentMethod: "bitcoin"}, domain.ErrInvalidPayMethod},
		{"missing session", uuid.NewString(), &CreateReservationRequest{}, domain.ErrInvalidSessionID},
		{"missing user", "", &CreateReservationRequest{SessionID: open.ID}, domain.ErrInvalidUserID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateReservation(ctx, tt.userID, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// nothing leaked from the failed attempts
	assert.Equal(t, 1, f.availableSlots(t, open.ID))
}

func TestCreateReservation_ConcurrentLastSlot(t *testing.T) {
	f := newFixture(t)
	session := f.seedSession(t, 1, 72*time.Hour)

	var (
		g         errgroup.Group
		mu        sync.Mutex
		successes int
		full      int
	)
	for i := 0; i < 2; i++ {
		userID := uuid.NewString()
		g.Go(func() error {
			_, err := f.svc.CreateReservation(context.Background(), userID, &CreateReservationRequest{SessionID: session.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrInsufficientSlots):
				full++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, full)
	assert.Equal(t, 0, f.availableSlots(t, session.ID))
}

func TestCreateReservation_ConcurrentOversubscription(t *testing.T) {
	f := newFixture(t)
	session := f.seedSession(t, 9, 72*time.Hour)

	var g errgroup.Group
	results := make([]error, 12)
	for i := range results {
		userID := uuid.NewString()
		g.Go(func() error {
			// 2 slots each
			_, results[i] = f.svc.CreateReservation(context.Background(), userID, &CreateReservationRequest{SessionID: session.ID, GuestCount: 1})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientSlots)
	}
	assert.Equal(t, 4, succeeded)
	assert.Equal(t, 1, f.availableSlots(t, session.ID))

	bookings, err := f.store.ListSessionBookings(context.Background(), session.ID)
	require.NoError(t, err)
	booked := 0
	for _, b := range bookings {
		booked += b.SlotsConsumed()
	}
	assert.Equal(t, 8, booked)
}

func TestCreateReservation_ConcurrentSameSubscriber(t *testing.T) {
	f := newFixture(t)
	userID := uuid.NewString()
	f.seedSubscription(t, userID, 1, domain.SubscriptionActive)
	sessions := []*domain.Session{f.seedSession(t, 4, 72*time.Hour), f.seedSession(t, 4, 96*time.Hour)}

	var g errgroup.Group
	bookings := make([]*domain.Booking, len(sessions))
	for i, s := range sessions {
		g.Go(func() error {
			b, err := f.svc.CreateReservation(context.Background(), userID, &CreateReservationRequest{SessionID: s.ID})
			bookings[i] = b
			return err
		})
	}
	require.NoError(t, g.Wait())

	// exactly one booking got the single ticket
	withTicket := 0
	for _, b := range bookings {
		withTicket += b.TicketsUsed
	}
	assert.Equal(t, 1, withTicket)
	assert.Equal(t, 0, f.tickets(t, userID))
}

func TestCreateReservation_RetriesBookingCodeCollision(t *testing.T) {
	f := newFixture(t)
	codes := []string{"LB-AAAAA", "LB-AAAAA", "LB-BBBBB"}
	var mu sync.Mutex
	f.svc = NewBookingService(f.store, staticSettings(10), f.gateway, f.refunds, f.events, &BookingServiceConfig{
		Now: f.clock.Now,
		CodeGenerator: func() string {
			mu.Lock()
			defer mu.Unlock()
			code := codes[0]
			codes = codes[1:]
			return code
		},
	})
	session := f.seedSession(t, 4, 72*time.Hour)

	first := f.reserve(t, uuid.NewString(), session.ID, 0)
	second := f.reserve(t, uuid.NewString(), session.ID, 0)

	assert.Equal(t, "LB-AAAAA", first.BookingCode)
	assert.Equal(t, "LB-BBBBB", second.BookingCode)
	assert.Equal(t, 2, f.availableSlots(t, session.ID))
}

func TestCreateReservation_PublishFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.events.publishError = errors.New("broker down")
	session := f.seedSession(t, 2, 72*time.Hour)

	b := f.reserve(t, uuid.NewString(), session.ID, 0)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, 1, f.availableSlots(t, session.ID))
}

func TestCancelReservation_WindowPassed(t *testing.T) {
	tests := []struct {
		name         string
		subscriber   bool
		startsIn     time.Duration
		wantRequired int
		wantHours    int
	}{
		{name: "subscriber 10 hours out", subscriber: true, startsIn: 10 * time.Hour, wantRequired: 24, wantHours: 10},
		{name: "drop-in 30 hours out", startsIn: 30*time.Hour + 20*time.Minute, wantRequired: 48, wantHours: 30},
		{name: "subscriber 23h59m out", subscriber: true, startsIn: 23*time.Hour + 59*time.Minute, wantRequired: 24, wantHours: 23},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			session := f.seedSession(t, 4, tt.startsIn)
			userID := uuid.NewString()
			if tt.subscriber {
				f.seedSubscription(t, userID, 3, domain.SubscriptionActive)
			}
			b := f.reserve(t, userID, session.ID, 0)

			_, err := f.svc.CancelReservation(context.Background(), b.ID, userID)

			var windowErr *domain.CancellationWindowError
			require.ErrorAs(t, err, &windowErr)
			assert.Equal(t, tt.wantRequired, windowErr.RequiredHours)
			assert.Equal(t, tt.wantHours, windowErr.HoursUntilSession)
			assert.Equal(t, tt.subscriber, windowErr.Subscriber)
			assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))
			assert.Equal(t, 3, f.availableSlots(t, session.ID))
		})
	}
}

func TestCancelReservation_Message(t *testing.T) {
	f := newFixture(t)
	session := f.seedSession(t, 4, 10*time.Hour)
	userID := uuid.NewString()
	f.seedSubscription(t, userID, 3, domain.SubscriptionActive)
	b := f.reserve(t, userID, session.ID, 0)

	_, err := f.svc.CancelReservation(context.Background(), b.ID, userID)
	require.Error(t, err)
	assert.Equal(t,
		"Cancellation deadline has passed. Subscribers must cancel at least 24 hours before the session. Session starts in 10 hours.",
		err.Error())
}

func TestCancelReservation_RestoresTicketAndSlots(t *testing.T) {
	f := newFixture(t)
	session := f.seedSession(t, 6, 72*time.Hour)
	userID := uuid.NewString()
	sub := f.seedSubscription(t, userID, 5, domain.SubscriptionActive)

	b := f.reserve(t, userID, session.ID, 2)
	require.Equal(t, 4, f.tickets(t, userID))
	require.Equal(t, 3, f.availableSlots(t, session.ID))

	cancelled, err := f.svc.CancelReservation(context.Background(), b.ID, userID)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusCancelled, cancelled.PaymentStatus)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 5, f.tickets(t, userID))
	assert.Equal(t, 6, f.availableSlots(t, session.ID))
	assert.Len(t, f.events.Cancelled(), 1)
	assert.Empty(t, f.refunds.Jobs())

	ledger, err := f.store.ListSubscriptionLedger(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 3)
	assert.Equal(t, domain.TxRestored, ledger[2].Type)
	assert.Equal(t, 1, ledger[2].Amount)
	assert.True(t, domain.ReplayLedger(sub.ID, ledger, 5).Consistent)

	// the user can book again
	f.reserve(t, userID, session.ID, 0)
}

func TestCancelReservation_RestoresToLapsedSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, 4, 72*time.Hour)
	userID := uuid.NewString()
	sub := f.seedSubscription(t, userID, 2, domain.SubscriptionActive)
	b := f.reserve(t, userID, session.ID, 0)

	require.NoError(t, f.store.WithTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockSubscription(ctx, sub.ID)
		if err != nil {
			return err
		}
		locked.Status = domain.SubscriptionPastDue
		return tx.UpdateSubscription(ctx, locked)
	}))

	// a drop-in window of 48h still leaves 72h
	_, err := f.svc.CancelReservation(ctx, b.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.tickets(t, userID))
}

func TestCancelReservation_RefundsCapturedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, 4, 72*time.Hour)
	userID := uuid.NewString()
	b := f.reserve(t, userID, session.ID, 1)

	_, err := f.svc.ConfirmPayment(ctx, b.ID, "pi_123")
	require.NoError(t, err)

	_, err = f.svc.CancelReservation(ctx, b.ID, userID)
	require.NoError(t, err)

	jobs := f.refunds.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, b.ID, jobs[0].BookingID)
	assert.Equal(t, "pi_123", jobs[0].ChargeID)
	assert.Equal(t, int64(200000), jobs[0].Amount)
}

func TestCancelReservation_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, 4, 72*time.Hour)
	userID := uuid.NewString()
	b := f.reserve(t, userID, session.ID, 0)

	_, err := f.svc.CancelReservation(ctx, b.ID, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = f.svc.CancelReservation(ctx, uuid.NewString(), userID)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	_, err = f.svc.CancelReservation(ctx, "", userID)
	assert.ErrorIs(t, err, domain.ErrInvalidBookingID)

	_, err = f.svc.CancelReservation(ctx, b.ID, userID)
	require.NoError(t, err)
	_, err = f.svc.CancelReservation(ctx, b.ID, userID)
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)
	assert.Equal(t, 4, f.availableSlots(t, session.ID))
}

func TestConfirmPayment_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, 4, 72*time.Hour)
	b := f.reserve(t, uuid.NewString(), session.ID, 0)

	first, err := f.svc.ConfirmPayment(ctx, b.ID, "pi_1")
	require.NoError(t, err)
	second, err := f.svc.ConfirmPayment(ctx, b.ID, "pi_1")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusConfirmed, first.PaymentStatus)
	assert.Equal(t, domain.PaymentStatusConfirmed, second.PaymentStatus)
	require.NotNil(t, second.StripePaymentID)
	assert.Equal(t, "pi_1", *second.StripePaymentID)
	assert.Len(t, f.events.Confirmed(), 1)

	_, err = f.svc.ConfirmPayment(ctx, uuid.NewString(), "pi_1")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestConfirmPayment_AfterCancellationRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, 4, 72*time.Hour)
	userID := uuid.NewString()
	b := f.reserve(t, userID, session.ID, 0)
	_, err := f.svc.CancelReservation(ctx, b.ID, userID)
	require.NoError(t, err)

	got, err := f.svc.ConfirmPayment(ctx, b.ID, "pi_late")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusCancelled, got.PaymentStatus)
	assert.Empty(t, f.events.Confirmed())
	jobs := f.refunds.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "pi_late", jobs[0].ChargeID)

	// redelivered webhook
	_, err = f.svc.ConfirmPayment(ctx, b.ID, "pi_late")
	require.NoError(t, err)
	assert.Len(t, f.refunds.Jobs(), 1)

	// a second, different charge is still refunded
	_, err = f.svc.ConfirmPayment(ctx, b.ID, "pi_other")
	require.NoError(t, err)
	jobs = f.refunds.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "pi_other", jobs[1].ChargeID)
}

func TestConfirmPayment_RedeliveredAfterRefundedCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, 4, 72*time.Hour)
	userID := uuid.NewString()
	b := f.reserve(t, userID, session.ID, 1)

	_, err := f.svc.ConfirmPayment(ctx, b.ID, "pi_123")
	require.NoError(t, err)
	_, err = f.svc.CancelReservation(ctx, b.ID, userID)
	require.NoError(t, err)

	got, err := f.svc.ConfirmPayment(ctx, b.ID, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, got.PaymentStatus)

	jobs := f.refunds.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "booking_cancelled", jobs[0].Reason)
	assert.Equal(t, int64(200000), jobs[0].Amount)

	stored, err := f.store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefundChargeID)
	assert.Equal(t, "pi_123", *stored.RefundChargeID)
}

func TestCreatePaymentIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, 6, 72*time.Hour)
	userID := uuid.NewString()
	b := f.reserve(t, userID, session.ID, 1)

	intent, err := f.svc.CreatePaymentIntent(ctx, b.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(200000), intent.Amount)
	assert.Equal(t, "vnd", intent.Currency)
	assert.NotEmpty(t, intent.ClientSecret)

	charge, err := f.gateway.GetCharge(ctx, intent.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, charge.Metadata["booking_id"])

	stored, err := f.store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.StripePaymentID)
	assert.Equal(t, intent.ChargeID, *stored.StripePaymentID)

	_, err = f.svc.CreatePaymentIntent(ctx, b.ID, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = f.svc.ConfirmPayment(ctx, b.ID, intent.ChargeID)
	require.NoError(t, err)
	_, err = f.svc.CreatePaymentIntent(ctx, b.ID, userID)
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)
}

func TestCreatePaymentIntent_NothingOwed(t *testing.T) {
	f := newFixture(t)
	session := f.seedSession(t, 4, 72*time.Hour)
	userID := uuid.NewString()
	f.seedSubscription(t, userID, 2, domain.SubscriptionActive)
	b := f.reserve(t, userID, session.ID, 0)

	_, err := f.svc.CreatePaymentIntent(context.Background(), b.ID, userID)
	// a free booking is confirmed at creation
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)
}

func TestCreatePaymentIntent_GatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.svc = NewBookingService(f.store, staticSettings(10), failingGateway{f.gateway}, f.refunds, f.events, &BookingServiceConfig{Now: f.clock.Now})
	session := f.seedSession(t, 4, 72*time.Hour)
	userID := uuid.NewString()
	b := f.reserve(t, userID, session.ID, 0)

	_, err := f.svc.CreatePaymentIntent(context.Background(), b.ID, userID)
	assert.ErrorIs(t, err, domain.ErrPaymentUnavailable)
	assert.Contains(t, err.Error(), "stripe unreachable")
}

type failingGateway struct {
	*gateway.MockGateway
}

func (failingGateway) CreateCharge(context.Context, *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
	return nil, errors.New("stripe unreachable")
}

func TestExpireBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, 6, 72*time.Hour)
	subscriber := uuid.NewString()
	f.seedSubscription(t, subscriber, 3, domain.SubscriptionActive)

	withTicket := f.reserve(t, subscriber, session.ID, 2)
	dropIn := f.reserve(t, uuid.NewString(), session.ID, 0)
	require.Equal(t, 2, f.availableSlots(t, session.ID))
	require.Equal(t, 2, f.tickets(t, subscriber))

	expired, err := f.svc.FindExpiredBookings(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	ok, err := f.svc.ExpireBooking(ctx, dropIn.ID)
	require.NoError(t, err)
	assert.False(t, ok, "deadline not reached")

	f.clock.Advance(31 * time.Minute)

	expired, err = f.svc.FindExpiredBookings(ctx, nil, 10)
	require.NoError(t, err)
	assert.Len(t, expired, 2)

	for _, b := range expired {
		ok, err := f.svc.ExpireBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// a second sweep is a no-op
	for _, b := range expired {
		ok, err := f.svc.ExpireBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	assert.Equal(t, 6, f.availableSlots(t, session.ID))
	assert.Equal(t, 3, f.tickets(t, subscriber))
	assert.Len(t, f.events.Expired(), 2)

	got, err := f.store.GetBooking(ctx, withTicket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, got.PaymentStatus)
}

func TestExpireBooking_SkipsConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.seedSession(t, 2, 72*time.Hour)
	b := f.reserve(t, uuid.NewString(), session.ID, 0)

	f.clock.Advance(time.Hour)
	_, err := f.svc.ConfirmPayment(ctx, b.ID, "pi_1")
	require.NoError(t, err)

	ok, err := f.svc.ExpireBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.availableSlots(t, session.ID))
}

func TestExpireBooking_ConcurrentSweeps(t *testing.T) {
	f := newFixture(t)
	session := f.seedSession(t, 2, 72*time.Hour)
	b := f.reserve(t, uuid.NewString(), session.ID, 1)
	f.clock.Advance(time.Hour)

	var (
		g       errgroup.Group
		mu      sync.Mutex
		expired int
	)
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			ok, err := f.svc.ExpireBooking(context.Background(), b.ID)
			if ok {
				mu.Lock()
				expired++
				mu.Unlock()
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, expired)
	assert.Equal(t, 2, f.availableSlots(t, session.ID))
}

func TestCancelReservation_RacesExpiry(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		session := f.seedSession(t, 3, 72*time.Hour)
		userID := uuid.NewString()
		f.seedSubscription(t, userID, 2, domain.SubscriptionActive)
		b := f.reserve(t, userID, session.ID, 2)
		require.Equal(t, 1, f.tickets(t, userID))
		f.clock.Advance(time.Hour)

		var (
			g         errgroup.Group
			cancelled bool
			expired   bool
		)
		g.Go(func() error {
			_, err := f.svc.CancelReservation(context.Background(), b.ID, userID)
			if errors.Is(err, domain.ErrAlreadyCancelled) {
				return nil
			}
			cancelled = err == nil
			return err
		})
		g.Go(func() error {
			ok, err := f.svc.ExpireBooking(context.Background(), b.ID)
			expired = ok
			return err
		})
		require.NoError(t, g.Wait())

		assert.True(t, cancelled != expired, "exactly one of cancel and expiry wins")
		assert.Equal(t, 3, f.availableSlots(t, session.ID))
		assert.Equal(t, 2, f.tickets(t, userID))
		assert.Len(t, append(f.events.Cancelled(), f.events.Expired()...), 1)
	}
}

func TestGetBooking_And_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.NewString()
	b := f.reserve(t, userID, f.seedSession(t, 2, 72*time.Hour).ID, 0)
	f.reserve(t, userID, f.seedSession(t, 2, 96*time.Hour).ID, 0)

	got, err := f.svc.GetBooking(ctx, b.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, b.BookingCode, got.BookingCode)

	_, err = f.svc.GetBooking(ctx, b.ID, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	list, err := f.svc.ListUserBookings(ctx, userID, repository.Page{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.svc.ListUserBookings(ctx, "", repository.Page{})
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)
}
