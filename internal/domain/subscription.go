package domain

import "time"

// SubscriptionStatus represents the billing state of a subscription
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// IsValid checks if the subscription status is valid
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionActive, SubscriptionPastDue, SubscriptionCancelled, SubscriptionExpired:
		return true
	}
	return false
}

// ParseBillingStatus maps a billing provider status onto a subscription status
func ParseBillingStatus(status string) SubscriptionStatus {
	switch status {
	case "active", "trialing":
		return SubscriptionActive
	case "past_due", "unpaid", "incomplete":
		return SubscriptionPastDue
	case "canceled", "cancelled":
		return SubscriptionCancelled
	case "incomplete_expired":
		return SubscriptionExpired
	default:
		return SubscriptionPastDue
	}
}

// Subscription grants its owner a ticket balance
type Subscription struct {
	ID                   string             `json:"id"`
	UserID               string             `json:"user_id"`
	Status               SubscriptionStatus `json:"status"`
	TicketsRemaining     int                `json:"tickets_remaining"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	StripeSubscriptionID *string            `json:"stripe_subscription_id,omitempty"`
	StripeCustomerID     *string            `json:"stripe_customer_id,omitempty"`
	AutoRenew            bool               `json:"auto_renew"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// IsActive checks if the subscription currently grants benefits
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == SubscriptionActive
}

// BelongsToUser checks if the subscription belongs to the specified user
func (s *Subscription) BelongsToUser(userID string) bool {
	return s.UserID == userID
}
