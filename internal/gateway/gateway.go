package gateway

import (
	"context"
	"errors"
)

var (
	ErrChargeNotFound    = errors.New("charge not found")
	ErrInvalidRequest    = errors.New("invalid charge request")
	ErrAlreadyRefunded   = errors.New("charge already refunded")
	ErrChargeNotCaptured = errors.New("charge has not been captured")

	ErrSubscriptionNotFound = errors.New("billing subscription not found")
)

// Charge statuses shared by the gateways. Stripe keeps a refunded
// PaymentIntent in succeeded.
const (
	ChargeStatusSucceeded = "succeeded"
	ChargeStatusRefunded  = "refunded"
)

// ChargeRequest asks the gateway to open a charge for a booking.
// Amount is in the currency's smallest unit.
type ChargeRequest struct {
	Amount         int64
	Currency       string
	BookingID      string
	UserID         string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// ChargeResponse carries what the client needs to complete the payment
type ChargeResponse struct {
	ChargeID     string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
}

// ChargeInfo is the gateway's view of an existing charge
type ChargeInfo struct {
	ChargeID  string
	Status    string
	Amount    int64
	Currency  string
	BookingID string
	Metadata  map[string]string
}

// Refundable reports whether money was captured on the charge
func (c *ChargeInfo) Refundable() bool {
	return c.Status == ChargeStatusSucceeded || c.Status == ChargeStatusRefunded
}

// RefundRequest refunds a charge; a zero Amount refunds it in full
type RefundRequest struct {
	ChargeID       string
	Amount         int64
	Reason         string
	IdempotencyKey string
}

// PaymentGateway is the minimal contract the booking core needs from a
// payment provider
type PaymentGateway interface {
	CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error)
	Refund(ctx context.Context, req *RefundRequest) error
	GetCharge(ctx context.Context, chargeID string) (*ChargeInfo, error)
	Name() string
}

// SubscriptionGateway manages renewal of a provider-side subscription
type SubscriptionGateway interface {
	// SetCancelAtPeriodEnd stops (cancel true) or resumes renewal at the
	// end of the current period
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error
}

func (r *ChargeRequest) validate() error {
	if r == nil || r.Amount <= 0 || r.Currency == "" || r.BookingID == "" {
		return ErrInvalidRequest
	}
	return nil
}

func (r *ChargeRequest) metadata() map[string]string {
	md := make(map[string]string, len(r.Metadata)+2)
	for k, v := range r.Metadata {
		md[k] = v
	}
	md["booking_id"] = r.BookingID
	if r.UserID != "" {
		md["user_id"] = r.UserID
	}
	return md
}
