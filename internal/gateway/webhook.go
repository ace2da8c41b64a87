package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails verification
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Webhook event types handled by the booking service
const (
	EventPaymentSucceeded     = "payment_intent.succeeded"
	EventPaymentFailed        = "payment_intent.payment_failed"
	EventPaymentCanceled      = "payment_intent.canceled"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventCheckoutCompleted    = "checkout.session.completed"
)

// WebhookEvent is a verified provider event reduced to the fields the
// booking service acts on. Exactly one payload pointer is set for handled
// types; all are nil otherwise.
type WebhookEvent struct {
	ID            string
	Type          string
	Payment       *PaymentEvent
	Invoice       *InvoiceEvent
	Subscription  *SubscriptionEvent
	LiveMode      bool
	ReceivedAtUTC time.Time
}

// PaymentEvent describes a PaymentIntent state change
type PaymentEvent struct {
	ChargeID       string
	BookingID      string
	Amount         int64
	Currency       string
	FailureCode    string
	FailureMessage string
}

// InvoiceEvent describes a subscription invoice
type InvoiceEvent struct {
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	UserID         string
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

// SubscriptionEvent describes a subscription status change
type SubscriptionEvent struct {
	SubscriptionID     string
	CustomerID         string
	UserID             string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
}

// WebhookParser verifies and decodes Stripe webhook payloads
type WebhookParser struct {
	secret string
	now    func() time.Time
}

// NewWebhookParser creates a parser for the given endpoint secret
func NewWebhookParser(secret string) *WebhookParser {
	return &WebhookParser{secret: secret, now: time.Now}
}

// Parse verifies the Stripe-Signature header and decodes the event
func (p *WebhookParser) Parse(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeEvent(event, p.now().UTC())
}

func decodeEvent(event stripe.Event, receivedAt time.Time) (*WebhookEvent, error) {
	out := &WebhookEvent{
		ID:            event.ID,
		Type:          string(event.Type),
		LiveMode:      event.Livemode,
		ReceivedAtUTC: receivedAt,
	}
	if event.Data == nil {
		return out, nil
	}
	raw := event.Data.Raw

	switch out.Type {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentCanceled:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", out.Type, err)
		}
		out.Payment = &PaymentEvent{
			ChargeID:  pi.ID,
			BookingID: pi.Metadata["booking_id"],
			Amount:    pi.Amount,
			Currency:  string(pi.Currency),
		}
		if pi.LastPaymentError != nil {
			out.Payment.FailureCode = string(pi.LastPaymentError.Code)
			out.Payment.FailureMessage = pi.LastPaymentError.Msg
		}

	case EventInvoicePaid, EventInvoicePaymentFailed:
		var inv invoicePayload
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", out.Type, err)
		}
		out.Invoice = inv.toEvent()

	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub subscriptionPayload
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", out.Type, err)
		}
		out.Subscription = sub.toEvent()
	}
	return out, nil
}

// invoicePayload covers both the legacy top-level subscription field and
// the parent.subscription_details layout of newer API versions
type invoicePayload struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	PeriodStart  int64             `json:"period_start"`
	PeriodEnd    int64             `json:"period_end"`
	Metadata     map[string]string `json:"metadata"`

	SubscriptionDetails *subscriptionDetails `json:"subscription_details"`
	Parent              *struct {
		SubscriptionDetails *subscriptionDetails `json:"subscription_details"`
	} `json:"parent"`

	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

type subscriptionDetails struct {
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

func (p *invoicePayload) toEvent() *InvoiceEvent {
	ev := &InvoiceEvent{
		InvoiceID:      p.ID,
		SubscriptionID: p.Subscription,
		CustomerID:     p.Customer,
		UserID:         p.Metadata["user_id"],
	}

	details := p.SubscriptionDetails
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		details = p.Parent.SubscriptionDetails
	}
	if details != nil {
		if ev.SubscriptionID == "" {
			ev.SubscriptionID = details.Subscription
		}
		if uid := details.Metadata["user_id"]; uid != "" {
			ev.UserID = uid
		}
	}

	// The line period is the billed subscription period; the invoice's own
	// period fields describe when usage was collected
	start, end := p.PeriodStart, p.PeriodEnd
	if len(p.Lines.Data) > 0 && p.Lines.Data[0].Period.End > 0 {
		start, end = p.Lines.Data[0].Period.Start, p.Lines.Data[0].Period.End
	}
	if start > 0 {
		ev.PeriodStart = time.Unix(start, 0).UTC()
	}
	if end > 0 {
		ev.PeriodEnd = time.Unix(end, 0).UTC()
	}
	return ev
}

type subscriptionPayload struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (p *subscriptionPayload) toEvent() *SubscriptionEvent {
	ev := &SubscriptionEvent{
		SubscriptionID:    p.ID,
		CustomerID:        p.Customer,
		UserID:            p.Metadata["user_id"],
		Status:            p.Status,
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
	}

	start, end := p.CurrentPeriodStart, p.CurrentPeriodEnd
	if end == 0 && len(p.Items.Data) > 0 {
		start, end = p.Items.Data[0].CurrentPeriodStart, p.Items.Data[0].CurrentPeriodEnd
	}
	if start > 0 {
		t := time.Unix(start, 0).UTC()
		ev.CurrentPeriodStart = &t
	}
	if end > 0 {
		t := time.Unix(end, 0).UTC()
		ev.CurrentPeriodEnd = &t
	}
	return ev
}
