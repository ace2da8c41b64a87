package service

import (
	"context"
	"fmt"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/google/uuid"
)

// EventPublisher defines the interface for publishing booking and ticket events
type EventPublisher interface {
	// PublishBookingCreated publishes a booking created event
	PublishBookingCreated(ctx context.Context, booking *domain.Booking) error

	// PublishBookingConfirmed publishes a booking confirmed event
	PublishBookingConfirmed(ctx context.Context, booking *domain.Booking) error

	// PublishBookingCancelled publishes a booking cancelled event
	PublishBookingCancelled(ctx context.Context, booking *domain.Booking) error

	// PublishBookingExpired publishes a booking expired event
	PublishBookingExpired(ctx context.Context, booking *domain.Booking) error

	// PublishBookingRefunded publishes a booking refunded event
	PublishBookingRefunded(ctx context.Context, booking *domain.Booking) error

	// PublishTicketChanged publishes a ledger entry
	PublishTicketChanged(ctx context.Context, entry *domain.TicketTransaction) error

	// Close closes the event publisher
	Close() error
}

// JSONPublisher is satisfied by the Kafka producer and the RabbitMQ publisher.
// For RabbitMQ the destination is the routing key.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, destination string, key string, data interface{}, headers map[string]string) error
}

// BrokerEventPublisher implements EventPublisher on top of a message broker
type BrokerEventPublisher struct {
	publisher   JSONPublisher
	destination func(domain.BookingEventType) string
	serviceName string
	closeFn     func() error
}

// NewKafkaEventPublisher publishes every event to one topic, keyed by user id
func NewKafkaEventPublisher(producer JSONPublisher, topic, serviceName string, closeFn func() error) *BrokerEventPublisher {
	if topic == "" {
		topic = "booking-events"
	}
	return newBrokerEventPublisher(producer, func(domain.BookingEventType) string { return topic }, serviceName, closeFn)
}

// NewRabbitMQEventPublisher publishes events with the event type as routing key
func NewRabbitMQEventPublisher(publisher JSONPublisher, serviceName string, closeFn func() error) *BrokerEventPublisher {
	return newBrokerEventPublisher(publisher, func(t domain.BookingEventType) string { return string(t) }, serviceName, closeFn)
}

func newBrokerEventPublisher(p JSONPublisher, dest func(domain.BookingEventType) string, serviceName string, closeFn func() error) *BrokerEventPublisher {
	if serviceName == "" {
		serviceName = "booking-service"
	}
	return &BrokerEventPublisher{
		publisher:   p,
		destination: dest,
		serviceName: serviceName,
		closeFn:     closeFn,
	}
}

// PublishBookingCreated publishes a booking created event
func (p *BrokerEventPublisher) PublishBookingCreated(ctx context.Context, booking *domain.Booking) error {
	return p.publishBooking(ctx, domain.BookingEventCreated, booking)
}

// PublishBookingConfirmed publishes a booking confirmed event
func (p *BrokerEventPublisher) PublishBookingConfirmed(ctx context.Context, booking *domain.Booking) error {
	return p.publishBooking(ctx, domain.BookingEventConfirmed, booking)
}

// PublishBookingCancelled publishes a booking cancelled event
func (p *BrokerEventPublisher) PublishBookingCancelled(ctx context.Context, booking *domain.Booking) error {
	return p.publishBooking(ctx, domain.BookingEventCancelled, booking)
}

// PublishBookingExpired publishes a booking expired event
func (p *BrokerEventPublisher) PublishBookingExpired(ctx context.Context, booking *domain.Booking) error {
	return p.publishBooking(ctx, domain.BookingEventExpired, booking)
}

// PublishBookingRefunded publishes a booking refunded event
func (p *BrokerEventPublisher) PublishBookingRefunded(ctx context.Context, booking *domain.Booking) error {
	return p.publishBooking(ctx, domain.BookingEventRefunded, booking)
}

// PublishTicketChanged publishes a ledger entry
func (p *BrokerEventPublisher) PublishTicketChanged(ctx context.Context, entry *domain.TicketTransaction) error {
	return p.publish(ctx, domain.NewTicketEvent(entry, uuid.New().String()))
}

// Close closes the underlying broker client
func (p *BrokerEventPublisher) Close() error {
	if p.closeFn != nil {
		return p.closeFn()
	}
	return nil
}

func (p *BrokerEventPublisher) publishBooking(ctx context.Context, eventType domain.BookingEventType, booking *domain.Booking) error {
	return p.publish(ctx, domain.NewBookingEvent(eventType, booking, uuid.New().String()))
}

func (p *BrokerEventPublisher) publish(ctx context.Context, event *domain.BookingEvent) error {
	headers := map[string]string{
		"event_type":   string(event.EventType),
		"event_id":     event.EventID,
		"source":       p.serviceName,
		"content_type": "application/json",
	}

	if err := p.publisher.PublishJSON(ctx, p.destination(event.EventType), event.Key(), event, headers); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.EventType, err)
	}
	return nil
}

// NoOpEventPublisher is a no-op implementation of EventPublisher
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

// PublishBookingCreated is a no-op
func (p *NoOpEventPublisher) PublishBookingCreated(ctx context.Context, booking *domain.Booking) error {
	return nil
}

// PublishBookingConfirmed is a no-op
func (p *NoOpEventPublisher) PublishBookingConfirmed(ctx context.Context, booking *domain.Booking) error {
	return nil
}

// PublishBookingCancelled is a no-op
func (p *NoOpEventPublisher) PublishBookingCancelled(ctx context.Context, booking *domain.Booking) error {
	return nil
}

// PublishBookingExpired is a no-op
func (p *NoOpEventPublisher) PublishBookingExpired(ctx context.Context, booking *domain.Booking) error {
	return nil
}

// PublishBookingRefunded is a no-op
func (p *NoOpEventPublisher) PublishBookingRefunded(ctx context.Context, booking *domain.Booking) error {
	return nil
}

// PublishTicketChanged is a no-op
func (p *NoOpEventPublisher) PublishTicketChanged(ctx context.Context, entry *domain.TicketTransaction) error {
	return nil
}

// Close is a no-op
func (p *NoOpEventPublisher) Close() error {
	return nil
}
