package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
)

// ErrSlotsExceedTotal is returned when a release would push available slots past the total
var ErrSlotsExceedTotal = errors.New("available slots would exceed session total")

// MemoryStore is an in-process Store for local development and tests.
// Row locks are exclusive per key and held until the owning transaction
// ends. Writes are staged on the transaction and applied atomically on
// commit, so reads outside a transaction only see committed state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	bookings map[string]*domain.Booking
	subs     map[string]*domain.Subscription
	users    map[string]*domain.User
	ledger   []*domain.TicketTransaction
	bonuses  []*domain.BonusTicket
	settings map[string]string

	locks sync.Map // key -> chan struct{}
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		bookings: make(map[string]*domain.Booking),
		subs:     make(map[string]*domain.Subscription),
		users:    make(map[string]*domain.User),
		settings: make(map[string]string),
	}
}

// PutUser adds or replaces a user
func (s *MemoryStore) PutUser(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

// PutSetting sets a runtime setting
func (s *MemoryStore) PutSetting(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) rowLock(key string) chan struct{} {
	v, _ := s.locks.LoadOrStore(key, make(chan struct{}, 1))
	return v.(chan struct{})
}

// WithTx runs fn with a staged transaction
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{
		s:        s,
		held:     make(map[string]chan struct{}),
		sessions: make(map[string]*domain.Session),
		bookings: make(map[string]*domain.Booking),
		subs:     make(map[string]*domain.Subscription),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// ==================== committed reads ====================

func copySession(v *domain.Session) *domain.Session {
	cp := *v
	return &cp
}

func copyBooking(v *domain.Booking) *domain.Booking {
	cp := *v
	return &cp
}

func copySubscription(v *domain.Subscription) *domain.Subscription {
	cp := *v
	return &cp
}

// GetSession returns a committed session
func (s *MemoryStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.sessions[id]; ok {
		return copySession(v), nil
	}
	return nil, domain.ErrSessionNotFound
}

// ListUpcomingSessions lists committed sessions starting at or after from
func (s *MemoryStore) ListUpcomingSessions(_ context.Context, from time.Time, page Page) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return upcomingSessions(s.sessions, from, page), nil
}

// GetBooking returns a committed booking
func (s *MemoryStore) GetBooking(_ context.Context, id string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.bookings[id]; ok {
		return copyBooking(v), nil
	}
	return nil, domain.ErrBookingNotFound
}

// GetBookingByCode returns a committed booking by code
func (s *MemoryStore) GetBookingByCode(_ context.Context, code string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bookingByCode(s.bookings, code)
}

// ListUserBookings lists committed bookings of a user newest first
func (s *MemoryStore) ListUserBookings(_ context.Context, userID string, page Page) ([]*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return userBookings(s.bookings, userID, page), nil
}

// ListSessionBookings lists committed bookings of a session
func (s *MemoryStore) ListSessionBookings(_ context.Context, sessionID string) ([]*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sessionBookings(s.bookings, sessionID, false), nil
}

// FindExpiredUnpaid lists committed pending bookings past their deadline
func (s *MemoryStore) FindExpiredUnpaid(_ context.Context, now time.Time, after *ExpiredCursor, limit int) ([]*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expiredUnpaid(s.bookings, now, after, limit), nil
}

// GetSubscriptionByUser returns a user's committed subscription
func (s *MemoryStore) GetSubscriptionByUser(_ context.Context, userID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findSubscription(s.subs, func(v *domain.Subscription) bool { return v.UserID == userID })
}

// GetSubscriptionByStripeID returns a committed subscription by billing id
func (s *MemoryStore) GetSubscriptionByStripeID(_ context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findSubscription(s.subs, func(v *domain.Subscription) bool {
		return v.StripeSubscriptionID != nil && *v.StripeSubscriptionID == stripeSubscriptionID
	})
}

// GetSubscriptionByCustomerID returns a committed subscription by billing customer
func (s *MemoryStore) GetSubscriptionByCustomerID(_ context.Context, stripeCustomerID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findSubscription(s.subs, func(v *domain.Subscription) bool {
		return v.StripeCustomerID != nil && *v.StripeCustomerID == stripeCustomerID
	})
}

// ListUserTransactions lists a user's committed ledger newest first
func (s *MemoryStore) ListUserTransactions(_ context.Context, userID string, page Page) ([]*domain.TicketTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return userTransactions(s.ledger, userID, page), nil
}

// ListSubscriptionLedger lists a subscription's committed ledger in append order
func (s *MemoryStore) ListSubscriptionLedger(_ context.Context, subscriptionID string) ([]*domain.TicketTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return subscriptionLedger(s.ledger, subscriptionID), nil
}

// HasBonus checks committed bonus grants
func (s *MemoryStore) HasBonus(_ context.Context, userID string, bonusType domain.TransactionType, year int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasBonus(s.bonuses, userID, bonusType, year), nil
}

// GetUser returns a user
func (s *MemoryStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrUserNotFound
}

// ListBirthdayUsers lists users born on month/day
func (s *MemoryStore) ListBirthdayUsers(_ context.Context, month time.Month, day int, createdBefore time.Time) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.User
	for _, u := range s.users {
		if u.Birthday == nil || u.Birthday.Month() != month || u.Birthday.Day() != day {
			continue
		}
		if u.CreatedAt.After(createdBefore) {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetSetting reads a runtime setting
func (s *MemoryStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

// ==================== shared filters ====================

func upcomingSessions(src map[string]*domain.Session, from time.Time, page Page) []*domain.Session {
	var out []*domain.Session
	for _, v := range src {
		if v.Cancelled || v.StartsAt.Before(from) {
			continue
		}
		out = append(out, copySession(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return paginate(out, page)
}

func bookingByCode(src map[string]*domain.Booking, code string) (*domain.Booking, error) {
	for _, v := range src {
		if v.BookingCode == code {
			return copyBooking(v), nil
		}
	}
	return nil, domain.ErrBookingNotFound
}

func userBookings(src map[string]*domain.Booking, userID string, page Page) []*domain.Booking {
	var out []*domain.Booking
	for _, v := range src {
		if v.UserID == userID {
			out = append(out, copyBooking(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page)
}

func sessionBookings(src map[string]*domain.Booking, sessionID string, activeOnly bool) []*domain.Booking {
	var out []*domain.Booking
	for _, v := range src {
		if v.SessionID != sessionID || (activeOnly && !v.IsActive()) {
			continue
		}
		out = append(out, copyBooking(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func expiredUnpaid(src map[string]*domain.Booking, now time.Time, after *ExpiredCursor, limit int) []*domain.Booking {
	var out []*domain.Booking
	for _, v := range src {
		if v.IsPaymentExpired(now) && !after.before(v) {
			out = append(out, copyBooking(v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaymentDeadline.Equal(*out[j].PaymentDeadline) {
			return out[i].PaymentDeadline.Before(*out[j].PaymentDeadline)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func findSubscription(src map[string]*domain.Subscription, match func(*domain.Subscription) bool) (*domain.Subscription, error) {
	for _, v := range src {
		if match(v) {
			return copySubscription(v), nil
		}
	}
	return nil, domain.ErrSubscriptionNotFound
}

func userTransactions(src []*domain.TicketTransaction, userID string, page Page) []*domain.TicketTransaction {
	var out []*domain.TicketTransaction
	for i := len(src) - 1; i >= 0; i-- {
		if src[i].UserID == userID {
			cp := *src[i]
			out = append(out, &cp)
		}
	}
	return paginate(out, page)
}

func subscriptionLedger(src []*domain.TicketTransaction, subscriptionID string) []*domain.TicketTransaction {
	var out []*domain.TicketTransaction
	for _, e := range src {
		if e.SubscriptionID != nil && *e.SubscriptionID == subscriptionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func hasBonus(src []*domain.BonusTicket, userID string, bonusType domain.TransactionType, year int) bool {
	for _, b := range src {
		if b.UserID == userID && b.BonusType == bonusType && b.Year == year {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, page Page) []T {
	page = page.normalize()
	if page.Offset >= len(items) {
		return nil
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Offset:end]
}

// ==================== transaction ====================

type memoryTx struct {
	s    *MemoryStore
	held map[string]chan struct{}

	sessions map[string]*domain.Session
	bookings map[string]*domain.Booking
	subs     map[string]*domain.Subscription
	ledger   []*domain.TicketTransaction
	bonuses  []*domain.BonusTicket
}

// lock acquires an exclusive row lock; re-entrant within the transaction
func (t *memoryTx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	ch := t.s.rowLock(key)
	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memoryTx) release() {
	for key, ch := range t.held {
		<-ch
		delete(t.held, key)
	}
}

func (t *memoryTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, v := range t.sessions {
		t.s.sessions[id] = v
	}
	for id, v := range t.bookings {
		t.s.bookings[id] = v
	}
	for id, v := range t.subs {
		t.s.subs[id] = v
	}
	t.s.ledger = append(t.s.ledger, t.ledger...)
	t.s.bonuses = append(t.s.bonuses, t.bonuses...)
}

// view helpers merge staged rows over committed ones

func (t *memoryTx) sessionView() map[string]*domain.Session {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := make(map[string]*domain.Session, len(t.s.sessions)+len(t.sessions))
	for k, v := range t.s.sessions {
		out[k] = v
	}
	for k, v := range t.sessions {
		out[k] = v
	}
	return out
}

func (t *memoryTx) bookingView() map[string]*domain.Booking {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := make(map[string]*domain.Booking, len(t.s.bookings)+len(t.bookings))
	for k, v := range t.s.bookings {
		out[k] = v
	}
	for k, v := range t.bookings {
		out[k] = v
	}
	return out
}

func (t *memoryTx) subscriptionView() map[string]*domain.Subscription {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := make(map[string]*domain.Subscription, len(t.s.subs)+len(t.subs))
	for k, v := range t.s.subs {
		out[k] = v
	}
	for k, v := range t.subs {
		out[k] = v
	}
	return out
}

func (t *memoryTx) ledgerView() []*domain.TicketTransaction {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := make([]*domain.TicketTransaction, 0, len(t.s.ledger)+len(t.ledger))
	out = append(out, t.s.ledger...)
	return append(out, t.ledger...)
}

func (t *memoryTx) bonusView() []*domain.BonusTicket {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := make([]*domain.BonusTicket, 0, len(t.s.bonuses)+len(t.bonuses))
	out = append(out, t.s.bonuses...)
	return append(out, t.bonuses...)
}

func (t *memoryTx) GetSession(_ context.Context, id string) (*domain.Session, error) {
	if v, ok := t.sessionView()[id]; ok {
		return copySession(v), nil
	}
	return nil, domain.ErrSessionNotFound
}

func (t *memoryTx) ListUpcomingSessions(_ context.Context, from time.Time, page Page) ([]*domain.Session, error) {
	return upcomingSessions(t.sessionView(), from, page), nil
}

func (t *memoryTx) GetBooking(_ context.Context, id string) (*domain.Booking, error) {
	if v, ok := t.bookingView()[id]; ok {
		return copyBooking(v), nil
	}
	return nil, domain.ErrBookingNotFound
}

func (t *memoryTx) GetBookingByCode(_ context.Context, code string) (*domain.Booking, error) {
	return bookingByCode(t.bookingView(), code)
}

func (t *memoryTx) ListUserBookings(_ context.Context, userID string, page Page) ([]*domain.Booking, error) {
	return userBookings(t.bookingView(), userID, page), nil
}

func (t *memoryTx) ListSessionBookings(_ context.Context, sessionID string) ([]*domain.Booking, error) {
	return sessionBookings(t.bookingView(), sessionID, false), nil
}

func (t *memoryTx) FindExpiredUnpaid(_ context.Context, now time.Time, after *ExpiredCursor, limit int) ([]*domain.Booking, error) {
	return expiredUnpaid(t.bookingView(), now, after, limit), nil
}

func (t *memoryTx) GetSubscriptionByUser(_ context.Context, userID string) (*domain.Subscription, error) {
	return findSubscription(t.subscriptionView(), func(v *domain.Subscription) bool { return v.UserID == userID })
}

func (t *memoryTx) GetSubscriptionByStripeID(_ context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	return findSubscription(t.subscriptionView(), func(v *domain.Subscription) bool {
		return v.StripeSubscriptionID != nil && *v.StripeSubscriptionID == stripeSubscriptionID
	})
}

func (t *memoryTx) GetSubscriptionByCustomerID(_ context.Context, stripeCustomerID string) (*domain.Subscription, error) {
	return findSubscription(t.subscriptionView(), func(v *domain.Subscription) bool {
		return v.StripeCustomerID != nil && *v.StripeCustomerID == stripeCustomerID
	})
}

func (t *memoryTx) ListUserTransactions(_ context.Context, userID string, page Page) ([]*domain.TicketTransaction, error) {
	return userTransactions(t.ledgerView(), userID, page), nil
}

func (t *memoryTx) ListSubscriptionLedger(_ context.Context, subscriptionID string) ([]*domain.TicketTransaction, error) {
	return subscriptionLedger(t.ledgerView(), subscriptionID), nil
}

func (t *memoryTx) HasBonus(_ context.Context, userID string, bonusType domain.TransactionType, year int) (bool, error) {
	return hasBonus(t.bonusView(), userID, bonusType, year), nil
}

func (t *memoryTx) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return t.s.GetUser(ctx, id)
}

func (t *memoryTx) ListBirthdayUsers(ctx context.Context, month time.Month, day int, createdBefore time.Time) ([]*domain.User, error) {
	return t.s.ListBirthdayUsers(ctx, month, day, createdBefore)
}

func (t *memoryTx) GetSetting(ctx context.Context, key string) (string, bool, error) {
	return t.s.GetSetting(ctx, key)
}

// sessions

func (t *memoryTx) LockSession(ctx context.Context, id string) (*domain.Session, error) {
	if err := t.lock(ctx, "session:"+id); err != nil {
		return nil, err
	}
	return t.GetSession(ctx, id)
}

func (t *memoryTx) InsertSession(ctx context.Context, s *domain.Session) error {
	if err := t.lock(ctx, "session:"+s.ID); err != nil {
		return err
	}
	t.sessions[s.ID] = copySession(s)
	return nil
}

func (t *memoryTx) MarkSessionCancelled(ctx context.Context, id string, at time.Time) error {
	s, err := t.LockSession(ctx, id)
	if err != nil {
		return err
	}
	s.Cancelled = true
	s.UpdatedAt = at
	t.sessions[id] = s
	return nil
}

func (t *memoryTx) ReserveSlots(ctx context.Context, sessionID string, count int) (int, error) {
	s, err := t.LockSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if s.AvailableSlots < count {
		return 0, domain.ErrInsufficientSlots
	}
	s.AvailableSlots -= count
	s.UpdatedAt = time.Now()
	t.sessions[sessionID] = s
	return s.AvailableSlots, nil
}

func (t *memoryTx) ReleaseSlots(ctx context.Context, sessionID string, count int) (int, error) {
	s, err := t.LockSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if s.AvailableSlots+count > s.TotalSlots {
		return 0, ErrSlotsExceedTotal
	}
	s.AvailableSlots += count
	s.UpdatedAt = time.Now()
	t.sessions[sessionID] = s
	return s.AvailableSlots, nil
}

// bookings

func (t *memoryTx) LockBooking(ctx context.Context, id string) (*domain.Booking, error) {
	if err := t.lock(ctx, "booking:"+id); err != nil {
		return nil, err
	}
	return t.GetBooking(ctx, id)
}

func (t *memoryTx) LockActiveSessionBookings(ctx context.Context, sessionID string) ([]*domain.Booking, error) {
	candidates := sessionBookings(t.bookingView(), sessionID, true)
	out := make([]*domain.Booking, 0, len(candidates))
	for _, c := range candidates {
		b, err := t.LockBooking(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if b.IsActive() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *memoryTx) HasActiveBooking(_ context.Context, userID, sessionID string) (bool, error) {
	for _, v := range t.bookingView() {
		if v.UserID == userID && v.SessionID == sessionID && v.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	// index locks stand in for the unique indexes
	if err := t.lock(ctx, "booking-active:"+b.UserID+":"+b.SessionID); err != nil {
		return err
	}
	if err := t.lock(ctx, "booking-code:"+b.BookingCode); err != nil {
		return err
	}
	if err := t.lock(ctx, "booking:"+b.ID); err != nil {
		return err
	}
	for _, v := range t.bookingView() {
		if v.BookingCode == b.BookingCode {
			return domain.ErrBookingCodeTaken
		}
		if v.UserID == b.UserID && v.SessionID == b.SessionID && v.IsActive() {
			return domain.ErrAlreadyBooked
		}
	}
	t.bookings[b.ID] = copyBooking(b)
	return nil
}

func (t *memoryTx) UpdateBookingState(ctx context.Context, b *domain.Booking) error {
	current, err := t.LockBooking(ctx, b.ID)
	if err != nil {
		return err
	}
	current.PaymentStatus = b.PaymentStatus
	current.StripePaymentID = b.StripePaymentID
	current.RefundChargeID = b.RefundChargeID
	current.PaymentDeadline = b.PaymentDeadline
	current.CancelledAt = b.CancelledAt
	current.PaymentMethod = b.PaymentMethod
	current.UpdatedAt = b.UpdatedAt
	t.bookings[b.ID] = current
	return nil
}

// subscriptions

func (t *memoryTx) LockSubscriptionByUser(ctx context.Context, userID string) (*domain.Subscription, error) {
	sub, err := t.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return t.LockSubscription(ctx, sub.ID)
}

func (t *memoryTx) LockSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	if err := t.lock(ctx, "subscription:"+id); err != nil {
		return nil, err
	}
	if v, ok := t.subscriptionView()[id]; ok {
		return copySubscription(v), nil
	}
	return nil, domain.ErrSubscriptionNotFound
}

func (t *memoryTx) InsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	if err := t.lock(ctx, "subscription-user:"+sub.UserID); err != nil {
		return err
	}
	for _, v := range t.subscriptionView() {
		if v.UserID == sub.UserID {
			return domain.ErrSubscriptionExists
		}
	}
	if err := t.lock(ctx, "subscription:"+sub.ID); err != nil {
		return err
	}
	t.subs[sub.ID] = copySubscription(sub)
	return nil
}

func (t *memoryTx) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	current, err := t.LockSubscription(ctx, sub.ID)
	if err != nil {
		return err
	}
	current.Status = sub.Status
	current.CurrentPeriodStart = sub.CurrentPeriodStart
	current.CurrentPeriodEnd = sub.CurrentPeriodEnd
	current.StripeSubscriptionID = sub.StripeSubscriptionID
	current.StripeCustomerID = sub.StripeCustomerID
	current.AutoRenew = sub.AutoRenew
	current.UpdatedAt = sub.UpdatedAt
	t.subs[sub.ID] = current
	return nil
}

func (t *memoryTx) AdjustTickets(ctx context.Context, subscriptionID string, delta int) (int, error) {
	sub, err := t.LockSubscription(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	if sub.TicketsRemaining+delta < 0 {
		return 0, domain.ErrNoTicketsAvailable
	}
	sub.TicketsRemaining += delta
	sub.UpdatedAt = time.Now()
	t.subs[subscriptionID] = sub
	return sub.TicketsRemaining, nil
}

// ledger

func (t *memoryTx) AppendTransaction(_ context.Context, entry *domain.TicketTransaction) error {
	cp := *entry
	t.ledger = append(t.ledger, &cp)
	return nil
}

func (t *memoryTx) InsertBonus(ctx context.Context, bonus *domain.BonusTicket) error {
	if bonus.BonusType == domain.TxBonusBirthday {
		if err := t.lock(ctx, "bonus:"+bonus.UserID+":"+string(bonus.BonusType)); err != nil {
			return err
		}
		if hasBonus(t.bonusView(), bonus.UserID, bonus.BonusType, bonus.Year) {
			return domain.ErrBonusAlreadyGranted
		}
	}
	cp := *bonus
	t.bonuses = append(t.bonuses, &cp)
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memoryTx)(nil)
)
