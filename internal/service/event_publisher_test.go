package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockEventPublisher is a mock implementation of EventPublisher for testing
type MockEventPublisher struct {
	mu              sync.Mutex
	createdEvents   []*domain.Booking
	confirmedEvents []*domain.Booking
	cancelledEvents []*domain.Booking
	expiredEvents   []*domain.Booking
	refundedEvents  []*domain.Booking
	ticketEvents    []*domain.TicketTransaction
	publishError    error
}

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (m *MockEventPublisher) record(dst *[]*domain.Booking, booking *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	cp := *booking
	*dst = append(*dst, &cp)
	return nil
}

func (m *MockEventPublisher) PublishBookingCreated(ctx context.Context, booking *domain.Booking) error {
	return m.record(&m.createdEvents, booking)
}

func (m *MockEventPublisher) PublishBookingConfirmed(ctx context.Context, booking *domain.Booking) error {
	return m.record(&m.confirmedEvents, booking)
}

func (m *MockEventPublisher) PublishBookingCancelled(ctx context.Context, booking *domain.Booking) error {
	return m.record(&m.cancelledEvents, booking)
}

func (m *MockEventPublisher) PublishBookingExpired(ctx context.Context, booking *domain.Booking) error {
	return m.record(&m.expiredEvents, booking)
}

func (m *MockEventPublisher) PublishBookingRefunded(ctx context.Context, booking *domain.Booking) error {
	return m.record(&m.refundedEvents, booking)
}

func (m *MockEventPublisher) PublishTicketChanged(ctx context.Context, entry *domain.TicketTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.ticketEvents = append(m.ticketEvents, entry)
	return nil
}

func (m *MockEventPublisher) Close() error {
	return nil
}

func (m *MockEventPublisher) Created() []*domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Booking(nil), m.createdEvents...)
}

func (m *MockEventPublisher) Confirmed() []*domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Booking(nil), m.confirmedEvents...)
}

func (m *MockEventPublisher) Cancelled() []*domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Booking(nil), m.cancelledEvents...)
}

func (m *MockEventPublisher) Expired() []*domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Booking(nil), m.expiredEvents...)
}

func (m *MockEventPublisher) Refunded() []*domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Booking(nil), m.refundedEvents...)
}

func (m *MockEventPublisher) TicketEvents() []*domain.TicketTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.TicketTransaction(nil), m.ticketEvents...)
}

// recordingBroker captures PublishJSON calls
type recordingBroker struct {
	mu       sync.Mutex
	messages []brokerMessage
	err      error
}

type brokerMessage struct {
	destination string
	key         string
	data        interface{}
	headers     map[string]string
}

func (r *recordingBroker) PublishJSON(ctx context.Context, destination string, key string, data interface{}, headers map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, brokerMessage{destination: destination, key: key, data: data, headers: headers})
	return nil
}

func testBooking() *domain.Booking {
	return &domain.Booking{
		ID:            "b-1",
		BookingCode:   "LB-ABCDE",
		UserID:        "u-1",
		SessionID:     "s-1",
		GuestCount:    2,
		PricePaid:     90000,
		PaymentStatus: domain.PaymentStatusPending,
	}
}

func TestKafkaEventPublisher_SingleTopicKeyedByUser(t *testing.T) {
	broker := &recordingBroker{}
	p := NewKafkaEventPublisher(broker, "", "booking-api", nil)

	require.NoError(t, p.PublishBookingCreated(context.Background(), testBooking()))
	require.NoError(t, p.PublishTicketChanged(context.Background(), &domain.TicketTransaction{ID: "tx-1", UserID: "u-1", Type: domain.TxUsed, Amount: -1}))

	require.Len(t, broker.messages, 2)
	for _, msg := range broker.messages {
		assert.Equal(t, "booking-events", msg.destination)
		assert.Equal(t, "u-1", msg.key)
		assert.Equal(t, "booking-api", msg.headers["source"])
		assert.NotEmpty(t, msg.headers["event_id"])
	}
	assert.Equal(t, "booking.created", broker.messages[0].headers["event_type"])
	assert.Equal(t, "ticket.changed", broker.messages[1].headers["event_type"])

	event, ok := broker.messages[0].data.(*domain.BookingEvent)
	require.True(t, ok)
	assert.Equal(t, 3, event.Booking.SlotsConsumed)
	assert.Equal(t, int64(90000), event.Booking.TotalOwed)
}

func TestRabbitMQEventPublisher_RoutesByEventType(t *testing.T) {
	broker := &recordingBroker{}
	closed := false
	p := NewRabbitMQEventPublisher(broker, "", func() error { closed = true; return nil })

	ctx := context.Background()
	require.NoError(t, p.PublishBookingCancelled(ctx, testBooking()))
	require.NoError(t, p.PublishBookingExpired(ctx, testBooking()))
	require.NoError(t, p.PublishBookingRefunded(ctx, testBooking()))

	require.Len(t, broker.messages, 3)
	assert.Equal(t, "booking.cancelled", broker.messages[0].destination)
	assert.Equal(t, "booking.expired", broker.messages[1].destination)
	assert.Equal(t, "booking.refunded", broker.messages[2].destination)
	assert.Equal(t, "booking-service", broker.messages[0].headers["source"])

	require.NoError(t, p.Close())
	assert.True(t, closed)
}

func TestBrokerEventPublisher_WrapsError(t *testing.T) {
	broker := &recordingBroker{err: errors.New("broker down")}
	p := NewKafkaEventPublisher(broker, "events", "", nil)

	err := p.PublishBookingConfirmed(context.Background(), testBooking())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "booking.confirmed")
	assert.Contains(t, err.Error(), "broker down")
}

func TestNoOpEventPublisher(t *testing.T) {
	var p EventPublisher = NewNoOpEventPublisher()
	ctx := context.Background()

	assert.NoError(t, p.PublishBookingCreated(ctx, testBooking()))
	assert.NoError(t, p.PublishTicketChanged(ctx, &domain.TicketTransaction{}))
	assert.NoError(t, p.Close())
}
