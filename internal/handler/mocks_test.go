package handler

import (
	"context"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/gateway"
	"github.com/Loafy-club/Booking/internal/repository"
	"github.com/Loafy-club/Booking/internal/service"
)

// MockBookingService is a mock implementation of BookingService for testing
type MockBookingService struct {
	CreateReservationFunc   func(ctx context.Context, userID string, req *service.CreateReservationRequest) (*domain.Booking, error)
	CancelReservationFunc   func(ctx context.Context, bookingID, userID string) (*domain.Booking, error)
	ConfirmPaymentFunc      func(ctx context.Context, bookingID, chargeID string) (*domain.Booking, error)
	CreatePaymentIntentFunc func(ctx context.Context, bookingID, userID string) (*service.PaymentIntent, error)
	GetBookingFunc          func(ctx context.Context, bookingID, userID string) (*domain.Booking, error)
	ListUserBookingsFunc    func(ctx context.Context, userID string, page repository.Page) ([]*domain.Booking, error)
}

func (m *MockBookingService) CreateReservation(ctx context.Context, userID string, req *service.CreateReservationRequest) (*domain.Booking, error) {
	if m.CreateReservationFunc != nil {
		return m.CreateReservationFunc(ctx, userID, req)
	}
	return nil, nil
}

func (m *MockBookingService) CancelReservation(ctx context.Context, bookingID, userID string) (*domain.Booking, error) {
	if m.CancelReservationFunc != nil {
		return m.CancelReservationFunc(ctx, bookingID, userID)
	}
	return nil, nil
}

func (m *MockBookingService) ConfirmPayment(ctx context.Context, bookingID, chargeID string) (*domain.Booking, error) {
	if m.ConfirmPaymentFunc != nil {
		return m.ConfirmPaymentFunc(ctx, bookingID, chargeID)
	}
	return nil, nil
}

func (m *MockBookingService) CreatePaymentIntent(ctx context.Context, bookingID, userID string) (*service.PaymentIntent, error) {
	if m.CreatePaymentIntentFunc != nil {
		return m.CreatePaymentIntentFunc(ctx, bookingID, userID)
	}
	return nil, nil
}

func (m *MockBookingService) GetBooking(ctx context.Context, bookingID, userID string) (*domain.Booking, error) {
	if m.GetBookingFunc != nil {
		return m.GetBookingFunc(ctx, bookingID, userID)
	}
	return nil, nil
}

func (m *MockBookingService) ListUserBookings(ctx context.Context, userID string, page repository.Page) ([]*domain.Booking, error) {
	if m.ListUserBookingsFunc != nil {
		return m.ListUserBookingsFunc(ctx, userID, page)
	}
	return nil, nil
}

func (m *MockBookingService) FindExpiredBookings(ctx context.Context, after *repository.ExpiredCursor, limit int) ([]*domain.Booking, error) {
	return nil, nil
}

func (m *MockBookingService) ExpireBooking(ctx context.Context, bookingID string) (bool, error) {
	return false, nil
}

// MockSessionService is a mock implementation of SessionService for testing
type MockSessionService struct {
	CreateFunc       func(ctx context.Context, organizerID string, req *service.CreateSessionRequest) (*domain.Session, error)
	GetFunc          func(ctx context.Context, sessionID string) (*domain.Session, error)
	ListUpcomingFunc func(ctx context.Context, page repository.Page) ([]*domain.Session, error)
	CancelFunc       func(ctx context.Context, sessionID string) (*service.SessionCancellation, error)
}

func (m *MockSessionService) Create(ctx context.Context, organizerID string, req *service.CreateSessionRequest) (*domain.Session, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, organizerID, req)
	}
	return nil, nil
}

func (m *MockSessionService) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, sessionID)
	}
	return nil, nil
}

func (m *MockSessionService) ListUpcoming(ctx context.Context, page repository.Page) ([]*domain.Session, error) {
	if m.ListUpcomingFunc != nil {
		return m.ListUpcomingFunc(ctx, page)
	}
	return nil, nil
}

func (m *MockSessionService) Cancel(ctx context.Context, sessionID string) (*service.SessionCancellation, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, sessionID)
	}
	return nil, nil
}

// MockTicketService is a mock implementation of TicketService for testing
type MockTicketService struct {
	BalanceFunc      func(ctx context.Context, userID string) (*service.TicketBalance, error)
	HistoryFunc      func(ctx context.Context, userID string, page repository.Page) ([]*domain.TicketTransaction, error)
	GrantBonusFunc   func(ctx context.Context, adminID, userID string, amount int, notes string) (*domain.TicketTransaction, error)
	RevokeFunc       func(ctx context.Context, adminID, userID string, amount int, notes string) (*domain.TicketTransaction, error)
	VerifyLedgerFunc func(ctx context.Context, subscriptionID string) (*domain.LedgerReport, error)
}

func (m *MockTicketService) Balance(ctx context.Context, userID string) (*service.TicketBalance, error) {
	if m.BalanceFunc != nil {
		return m.BalanceFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockTicketService) History(ctx context.Context, userID string, page repository.Page) ([]*domain.TicketTransaction, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, userID, page)
	}
	return nil, nil
}

func (m *MockTicketService) GrantBonus(ctx context.Context, adminID, userID string, amount int, notes string) (*domain.TicketTransaction, error) {
	if m.GrantBonusFunc != nil {
		return m.GrantBonusFunc(ctx, adminID, userID, amount, notes)
	}
	return nil, nil
}

func (m *MockTicketService) Revoke(ctx context.Context, adminID, userID string, amount int, notes string) (*domain.TicketTransaction, error) {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, adminID, userID, amount, notes)
	}
	return nil, nil
}

func (m *MockTicketService) GrantBirthdayBonus(ctx context.Context, userID string, amount int) (*domain.TicketTransaction, error) {
	return nil, nil
}

func (m *MockTicketService) BirthdayCandidates(ctx context.Context, now time.Time, minAccountAge time.Duration) ([]*domain.User, error) {
	return nil, nil
}

func (m *MockTicketService) VerifyLedger(ctx context.Context, subscriptionID string) (*domain.LedgerReport, error) {
	if m.VerifyLedgerFunc != nil {
		return m.VerifyLedgerFunc(ctx, subscriptionID)
	}
	return nil, nil
}

// MockBillingService records the billing events it receives
type MockBillingService struct {
	InvoicePaidFunc         func(ctx context.Context, inv *gateway.InvoiceEvent) error
	InvoiceFailedFunc       func(ctx context.Context, inv *gateway.InvoiceEvent) error
	SubscriptionUpdatedFunc func(ctx context.Context, ev *gateway.SubscriptionEvent) error
	SubscriptionDeletedFunc func(ctx context.Context, ev *gateway.SubscriptionEvent) error
	GetCurrentFunc          func(ctx context.Context, userID string) (*domain.Subscription, error)
	CancelAutoRenewFunc     func(ctx context.Context, userID string) (*domain.Subscription, error)
	ResumeAutoRenewFunc     func(ctx context.Context, userID string) (*domain.Subscription, error)
}

func (m *MockBillingService) HandleInvoicePaid(ctx context.Context, inv *gateway.InvoiceEvent) error {
	if m.InvoicePaidFunc != nil {
		return m.InvoicePaidFunc(ctx, inv)
	}
	return nil
}

func (m *MockBillingService) HandleInvoicePaymentFailed(ctx context.Context, inv *gateway.InvoiceEvent) error {
	if m.InvoiceFailedFunc != nil {
		return m.InvoiceFailedFunc(ctx, inv)
	}
	return nil
}

func (m *MockBillingService) HandleSubscriptionUpdated(ctx context.Context, ev *gateway.SubscriptionEvent) error {
	if m.SubscriptionUpdatedFunc != nil {
		return m.SubscriptionUpdatedFunc(ctx, ev)
	}
	return nil
}

func (m *MockBillingService) HandleSubscriptionDeleted(ctx context.Context, ev *gateway.SubscriptionEvent) error {
	if m.SubscriptionDeletedFunc != nil {
		return m.SubscriptionDeletedFunc(ctx, ev)
	}
	return nil
}

func (m *MockBillingService) GetCurrentSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	if m.GetCurrentFunc != nil {
		return m.GetCurrentFunc(ctx, userID)
	}
	return nil, domain.ErrSubscriptionNotFound
}

func (m *MockBillingService) CancelAutoRenew(ctx context.Context, userID string) (*domain.Subscription, error) {
	if m.CancelAutoRenewFunc != nil {
		return m.CancelAutoRenewFunc(ctx, userID)
	}
	return nil, domain.ErrSubscriptionNotFound
}

func (m *MockBillingService) ResumeAutoRenew(ctx context.Context, userID string) (*domain.Subscription, error) {
	if m.ResumeAutoRenewFunc != nil {
		return m.ResumeAutoRenewFunc(ctx, userID)
	}
	return nil, domain.ErrSubscriptionNotFound
}

// MockWebhookParser returns a fixed event or error
type MockWebhookParser struct {
	Event *gateway.WebhookEvent
	Err   error
}

func (m *MockWebhookParser) Parse(payload []byte, signature string) (*gateway.WebhookEvent, error) {
	return m.Event, m.Err
}
