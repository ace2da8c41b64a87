package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DLQMessage is an operation that exhausted its retries
type DLQMessage struct {
	ID             string            `json:"id"`
	Topic          string            `json:"topic"`
	Key            string            `json:"key"`
	Payload        json.RawMessage   `json:"payload"`
	Error          string            `json:"error"`
	Attempts       int               `json:"attempts"`
	FirstAttemptAt time.Time         `json:"first_attempt_at"`
	MovedToDLQAt   time.Time         `json:"moved_to_dlq_at"`
	Source         string            `json:"source"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Publisher is the JSON publishing surface shared by the Kafka and RabbitMQ clients
type Publisher interface {
	PublishJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error
}

// DLQPublisher publishes failed operations to a dead letter topic
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg *DLQMessage) error
}

// TopicDLQPublisher publishes every DLQ message to one topic
type TopicDLQPublisher struct {
	publisher Publisher
	topic     string
	source    string
}

// NewTopicDLQPublisher creates a DLQ publisher writing to topic
func NewTopicDLQPublisher(publisher Publisher, topic, source string) *TopicDLQPublisher {
	return &TopicDLQPublisher{publisher: publisher, topic: topic, source: source}
}

// PublishToDLQ stamps and publishes msg
func (p *TopicDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return fmt.Errorf("DLQ message cannot be nil")
	}
	msg.MovedToDLQAt = time.Now()
	msg.Source = p.source

	headers := map[string]string{
		"content_type":   "application/json",
		"original_topic": msg.Topic,
		"error":          msg.Error,
		"attempts":       strconv.Itoa(msg.Attempts),
		"source":         msg.Source,
	}
	return p.publisher.PublishJSON(ctx, p.topic, msg.Key, msg, headers)
}

// NoOpDLQPublisher drops DLQ messages
type NoOpDLQPublisher struct{}

// PublishToDLQ does nothing
func (NoOpDLQPublisher) PublishToDLQ(context.Context, *DLQMessage) error {
	return nil
}

// DLQHandler retries an operation and parks it on the DLQ when retries run out
type DLQHandler struct {
	retrier   *Retrier
	publisher DLQPublisher
	source    string
	onRetry   RetryCallback
}

// NewDLQHandler creates a DLQ handler
func NewDLQHandler(publisher DLQPublisher, config *Config, source string, onRetry RetryCallback) *DLQHandler {
	if publisher == nil {
		publisher = NoOpDLQPublisher{}
	}
	return &DLQHandler{
		retrier:   New(config),
		publisher: publisher,
		source:    source,
		onRetry:   onRetry,
	}
}

// Process runs op with retries. On exhaustion msg is completed and published
// to the DLQ, and the returned error wraps the last failure. Permanent errors
// are returned without touching the DLQ.
func (h *DLQHandler) Process(ctx context.Context, msg *DLQMessage, op Operation) (*Result, error) {
	if msg.FirstAttemptAt.IsZero() {
		msg.FirstAttemptAt = time.Now()
	}

	result := h.retrier.Do(ctx, op, h.onRetry)
	if result.Err == nil {
		return result, nil
	}
	if result.Err != ErrMaxRetriesExceeded {
		return result, result.Err
	}

	msg.Error = result.LastError.Error()
	msg.Attempts = result.Attempts
	if msg.Source == "" {
		msg.Source = h.source
	}

	// the caller's context may be the one that expired
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.publisher.PublishToDLQ(pubCtx, msg); err != nil {
		return result, fmt.Errorf("failed to publish to DLQ: %w (original error: %v)", err, result.LastError)
	}
	return result, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, result.LastError)
}
