package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/gateway"
	"github.com/Loafy-club/Booking/internal/repository"
	"github.com/Loafy-club/Booking/pkg/logger"
	"github.com/Loafy-club/Booking/pkg/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// duplicateInvoiceTolerance is how close two period ends must be to count
	// as the same billing period
	duplicateInvoiceTolerance = 60 * time.Second
	defaultBillingPeriod      = 90 * 24 * time.Hour
)

// ErrUnknownSubscriber is returned when an invoice cannot be tied to a user
var ErrUnknownSubscriber = errors.New("cannot resolve user for subscription invoice")

// BillingService keeps subscriptions in sync with billing provider events
type BillingService interface {
	// HandleInvoicePaid starts or renews a subscription period and grants
	// its tickets. Redelivery of the same invoice is a no-op.
	HandleInvoicePaid(ctx context.Context, inv *gateway.InvoiceEvent) error
	HandleInvoicePaymentFailed(ctx context.Context, inv *gateway.InvoiceEvent) error
	HandleSubscriptionUpdated(ctx context.Context, ev *gateway.SubscriptionEvent) error
	HandleSubscriptionDeleted(ctx context.Context, ev *gateway.SubscriptionEvent) error

	GetCurrentSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
	// CancelAutoRenew stops renewal at the end of the paid period. The
	// subscription keeps its status and tickets until then.
	CancelAutoRenew(ctx context.Context, userID string) (*domain.Subscription, error)
	ResumeAutoRenew(ctx context.Context, userID string) (*domain.Subscription, error)
}

type billingService struct {
	store            repository.Store
	subscriptions    gateway.SubscriptionGateway
	events           EventPublisher
	ticketsPerPeriod int
	now              func() time.Time
}

// NewBillingService creates a billing service granting ticketsPerPeriod
// tickets for every paid period. subscriptions may be nil, in which case
// renewal changes are only recorded locally.
func NewBillingService(store repository.Store, subscriptions gateway.SubscriptionGateway, events EventPublisher, ticketsPerPeriod int) BillingService {
	if events == nil {
		events = NewNoOpEventPublisher()
	}
	if ticketsPerPeriod <= 0 {
		ticketsPerPeriod = 10
	}
	return &billingService{
		store:            store,
		subscriptions:    subscriptions,
		events:           events,
		ticketsPerPeriod: ticketsPerPeriod,
		now:              time.Now,
	}
}

func (s *billingService) HandleInvoicePaid(ctx context.Context, inv *gateway.InvoiceEvent) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.billing.invoice_paid")
	defer func() { finishSpan(span, err) }()

	if inv == nil || inv.SubscriptionID == "" {
		logger.Get().InfoContext(ctx, "Invoice without subscription, skipping")
		return nil
	}

	now := s.now()
	start, end := inv.PeriodStart, inv.PeriodEnd
	if start.IsZero() || end.IsZero() {
		start, end = now, now.Add(defaultBillingPeriod)
	}

	existing, err := s.store.GetSubscriptionByStripeID(ctx, inv.SubscriptionID)
	switch {
	case err == nil:
		return s.renew(ctx, existing.ID, start, end)
	case !domain.IsNotFoundError(err):
		return fmt.Errorf("failed to look up subscription: %w", err)
	}

	userID := inv.UserID
	if userID == "" && inv.CustomerID != "" {
		if sub, err := s.store.GetSubscriptionByCustomerID(ctx, inv.CustomerID); err == nil {
			userID = sub.UserID
		}
	}
	if userID == "" {
		return fmt.Errorf("%w: invoice %s", ErrUnknownSubscriber, inv.InvoiceID)
	}
	return s.start(ctx, userID, inv, start, end)
}

// renew grants a new period's tickets unless this period was already granted
func (s *billingService) renew(ctx context.Context, subscriptionID string, start, end time.Time) error {
	var entry *domain.TicketTransaction
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		sub, err := tx.LockSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.CurrentPeriodEnd != nil && absDuration(end.Sub(*sub.CurrentPeriodEnd)) < duplicateInvoiceTolerance {
			logger.Get().InfoContext(ctx, "Duplicate invoice for current period, skipping",
				zap.String("subscription_id", sub.ID))
			return nil
		}

		now := s.now()
		sub.Status = domain.SubscriptionActive
		sub.CurrentPeriodStart = &start
		sub.CurrentPeriodEnd = &end
		sub.UpdatedAt = now
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}
		entry, err = changeTickets(ctx, tx, sub, domain.TxSubscriptionGrant, s.ticketsPerPeriod, "", "", "Subscription renewal", now)
		return err
	})
	if err != nil {
		return err
	}
	if entry != nil {
		logger.Get().InfoContext(ctx, "Subscription renewed",
			zap.String("subscription_id", subscriptionID), zap.Int("balance", entry.BalanceAfter))
		publishTicketEntries(ctx, s.events, entry)
	}
	return nil
}

// start opens the first paid period of a subscription. A user who had a
// subscription before keeps the same row.
func (s *billingService) start(ctx context.Context, userID string, inv *gateway.InvoiceEvent, start, end time.Time) error {
	var entry *domain.TicketTransaction
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		now := s.now()
		sub, err := lockSubscription(ctx, tx, userID)
		if err != nil {
			return err
		}

		isNew := sub == nil
		if isNew {
			sub = &domain.Subscription{
				ID:        uuid.New().String(),
				UserID:    userID,
				CreatedAt: now,
			}
		}
		sub.Status = domain.SubscriptionActive
		sub.CurrentPeriodStart = &start
		sub.CurrentPeriodEnd = &end
		sub.StripeSubscriptionID = &inv.SubscriptionID
		sub.StripeCustomerID = strPtr(inv.CustomerID)
		sub.AutoRenew = true
		sub.UpdatedAt = now

		if isNew {
			err = tx.InsertSubscription(ctx, sub)
		} else {
			err = tx.UpdateSubscription(ctx, sub)
		}
		if err != nil {
			return fmt.Errorf("failed to save subscription: %w", err)
		}

		entry, err = changeTickets(ctx, tx, sub, domain.TxSubscriptionGrant, s.ticketsPerPeriod, "", "", "Initial subscription purchase", now)
		return err
	})
	if err != nil {
		return err
	}

	logger.Get().InfoContext(ctx, "Subscription started",
		zap.String("user_id", userID),
		zap.String("stripe_subscription_id", inv.SubscriptionID),
		zap.Int("tickets", s.ticketsPerPeriod),
	)
	publishTicketEntries(ctx, s.events, entry)
	return nil
}

func (s *billingService) HandleInvoicePaymentFailed(ctx context.Context, inv *gateway.InvoiceEvent) error {
	if inv == nil || inv.SubscriptionID == "" {
		return nil
	}
	return s.updateByStripeID(ctx, "service.billing.invoice_failed", inv.SubscriptionID, func(sub *domain.Subscription) {
		sub.Status = domain.SubscriptionPastDue
	})
}

func (s *billingService) HandleSubscriptionUpdated(ctx context.Context, ev *gateway.SubscriptionEvent) error {
	if ev == nil || ev.SubscriptionID == "" {
		return nil
	}
	return s.updateByStripeID(ctx, "service.billing.subscription_updated", ev.SubscriptionID, func(sub *domain.Subscription) {
		sub.Status = domain.ParseBillingStatus(ev.Status)
		if ev.CurrentPeriodStart != nil {
			sub.CurrentPeriodStart = ev.CurrentPeriodStart
		}
		if ev.CurrentPeriodEnd != nil {
			sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
		}
		sub.AutoRenew = !ev.CancelAtPeriodEnd
	})
}

func (s *billingService) HandleSubscriptionDeleted(ctx context.Context, ev *gateway.SubscriptionEvent) error {
	if ev == nil || ev.SubscriptionID == "" {
		return nil
	}
	return s.updateByStripeID(ctx, "service.billing.subscription_deleted", ev.SubscriptionID, func(sub *domain.Subscription) {
		sub.Status = domain.SubscriptionExpired
		sub.AutoRenew = false
	})
}

// updateByStripeID applies mutate to a locked subscription. Events for
// subscriptions this service never saw are ignored.
func (s *billingService) updateByStripeID(ctx context.Context, spanName, stripeID string, mutate func(*domain.Subscription)) (err error) {
	ctx, span := telemetry.StartSpan(ctx, spanName)
	defer func() { finishSpan(span, err) }()

	current, err := s.store.GetSubscriptionByStripeID(ctx, stripeID)
	if domain.IsNotFoundError(err) {
		logger.Get().WarnContext(ctx, "Billing event for unknown subscription",
			zap.String("stripe_subscription_id", stripeID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up subscription: %w", err)
	}

	return s.store.WithTx(ctx, func(tx repository.Tx) error {
		sub, err := tx.LockSubscription(ctx, current.ID)
		if err != nil {
			return err
		}
		before := sub.Status
		mutate(sub)
		sub.UpdatedAt = s.now()
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}
		logger.Get().InfoContext(ctx, "Subscription updated",
			zap.String("subscription_id", sub.ID),
			zap.String("from", string(before)),
			zap.String("to", string(sub.Status)),
		)
		return nil
	})
}

func (s *billingService) GetCurrentSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	return s.store.GetSubscriptionByUser(ctx, userID)
}

func (s *billingService) CancelAutoRenew(ctx context.Context, userID string) (*domain.Subscription, error) {
	return s.setAutoRenew(ctx, "service.billing.cancel_auto_renew", userID, false)
}

func (s *billingService) ResumeAutoRenew(ctx context.Context, userID string) (*domain.Subscription, error) {
	return s.setAutoRenew(ctx, "service.billing.resume_auto_renew", userID, true)
}

// setAutoRenew changes the renewal flag with the provider first and then
// locally. No row lock is held across the provider call; the provider's
// customer.subscription.updated echo settles any interleaving toggles.
func (s *billingService) setAutoRenew(ctx context.Context, spanName, userID string, autoRenew bool) (sub *domain.Subscription, err error) {
	ctx, span := telemetry.StartSpan(ctx, spanName)
	defer func() { finishSpan(span, err) }()

	current, err := s.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !current.IsActive() {
		return nil, domain.ErrSubscriptionInactive
	}
	if current.AutoRenew == autoRenew {
		return current, nil
	}

	if s.subscriptions != nil && current.StripeSubscriptionID != nil {
		if err := s.subscriptions.SetCancelAtPeriodEnd(ctx, *current.StripeSubscriptionID, !autoRenew); err != nil {
			return nil, fmt.Errorf("failed to update billing subscription: %w", err)
		}
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockSubscription(ctx, current.ID)
		if err != nil {
			return err
		}
		locked.AutoRenew = autoRenew
		locked.UpdatedAt = s.now()
		if err := tx.UpdateSubscription(ctx, locked); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}
		sub = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Get().InfoContext(ctx, "Subscription auto-renew changed",
		zap.String("subscription_id", sub.ID),
		zap.Bool("auto_renew", autoRenew),
	)
	return sub, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
