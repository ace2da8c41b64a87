package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/repository"
	"github.com/Loafy-club/Booking/pkg/logger"
	"github.com/Loafy-club/Booking/pkg/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// TicketBalance is a user's current ticket position
type TicketBalance struct {
	UserID                string                    `json:"user_id"`
	SubscriptionID        string                    `json:"subscription_id,omitempty"`
	SubscriptionStatus    domain.SubscriptionStatus `json:"subscription_status,omitempty"`
	HasActiveSubscription bool                      `json:"has_active_subscription"`
	TicketsRemaining      int                       `json:"tickets_remaining"`
	CurrentPeriodEnd      *time.Time                `json:"current_period_end,omitempty"`
}

// TicketService defines the ticket ledger operations
type TicketService interface {
	Balance(ctx context.Context, userID string) (*TicketBalance, error)
	History(ctx context.Context, userID string, page repository.Page) ([]*domain.TicketTransaction, error)

	// GrantBonus adds amount tickets on behalf of an admin
	GrantBonus(ctx context.Context, adminID, userID string, amount int, notes string) (*domain.TicketTransaction, error)

	// Revoke removes up to amount tickets; the balance never drops below
	// zero and the ledger records the amount actually removed
	Revoke(ctx context.Context, adminID, userID string, amount int, notes string) (*domain.TicketTransaction, error)

	// GrantBirthdayBonus grants the yearly birthday bonus at most once per year
	GrantBirthdayBonus(ctx context.Context, userID string, amount int) (*domain.TicketTransaction, error)

	// BirthdayCandidates lists users whose birthday is on the day of now and
	// whose account is at least minAccountAge old
	BirthdayCandidates(ctx context.Context, now time.Time, minAccountAge time.Duration) ([]*domain.User, error)

	// VerifyLedger replays a subscription's ledger against its balance
	VerifyLedger(ctx context.Context, subscriptionID string) (*domain.LedgerReport, error)
}

type ticketService struct {
	store  repository.Store
	events EventPublisher
	now    func() time.Time
}

// NewTicketService creates a new ticket service
func NewTicketService(store repository.Store, events EventPublisher) TicketService {
	if events == nil {
		events = NewNoOpEventPublisher()
	}
	return &ticketService{store: store, events: events, now: time.Now}
}

func (s *ticketService) Balance(ctx context.Context, userID string) (*TicketBalance, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.balance")
	defer span.End()

	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	balance := &TicketBalance{UserID: userID}
	sub, err := s.store.GetSubscriptionByUser(ctx, userID)
	if domain.IsNotFoundError(err) {
		return balance, nil
	}
	if err != nil {
		return nil, err
	}
	balance.SubscriptionID = sub.ID
	balance.SubscriptionStatus = sub.Status
	balance.HasActiveSubscription = sub.IsActive()
	balance.TicketsRemaining = sub.TicketsRemaining
	balance.CurrentPeriodEnd = sub.CurrentPeriodEnd
	return balance, nil
}

func (s *ticketService) History(ctx context.Context, userID string, page repository.Page) ([]*domain.TicketTransaction, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.history")
	defer span.End()

	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	return s.store.ListUserTransactions(ctx, userID, page)
}

func (s *ticketService) GrantBonus(ctx context.Context, adminID, userID string, amount int, notes string) (entry *domain.TicketTransaction, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.grant_bonus")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("user_id", userID), attribute.Int("amount", amount))

	if amount <= 0 {
		return nil, domain.ErrInvalidTicketAmount
	}
	if notes == "" {
		notes = "Manual bonus"
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		now := s.now()
		sub, err := tx.LockSubscriptionByUser(ctx, userID)
		if err != nil {
			return err
		}
		entry, err = changeTickets(ctx, tx, sub, domain.TxBonusManual, amount, "", adminID, notes, now)
		if err != nil {
			return err
		}
		return tx.InsertBonus(ctx, &domain.BonusTicket{
			ID:        uuid.New().String(),
			UserID:    userID,
			BonusType: domain.TxBonusManual,
			Amount:    amount,
			Year:      now.Year(),
			Reason:    notes,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Get().InfoContext(ctx, fmt.Sprintf("Granted %d bonus tickets", amount),
		zap.String("user_id", userID), zap.String("admin_id", adminID), zap.Int("balance", entry.BalanceAfter))
	publishTicketEntries(ctx, s.events, entry)
	return entry, nil
}

func (s *ticketService) Revoke(ctx context.Context, adminID, userID string, amount int, notes string) (entry *domain.TicketTransaction, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.revoke")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("user_id", userID), attribute.Int("amount", amount))

	if amount <= 0 {
		return nil, domain.ErrInvalidTicketAmount
	}
	if notes == "" {
		notes = "Revoked by admin"
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		sub, err := tx.LockSubscriptionByUser(ctx, userID)
		if err != nil {
			return err
		}
		if sub.TicketsRemaining == 0 {
			return domain.ErrNoTicketsAvailable
		}
		removed := min(amount, sub.TicketsRemaining)
		entry, err = changeTickets(ctx, tx, sub, domain.TxRevoked, -removed, "", adminID, notes, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Get().InfoContext(ctx, fmt.Sprintf("Revoked %d tickets", -entry.Amount),
		zap.String("user_id", userID), zap.String("admin_id", adminID), zap.Int("requested", amount))
	publishTicketEntries(ctx, s.events, entry)
	return entry, nil
}

func (s *ticketService) GrantBirthdayBonus(ctx context.Context, userID string, amount int) (entry *domain.TicketTransaction, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.birthday_bonus")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("user_id", userID))

	if amount <= 0 {
		return nil, domain.ErrInvalidTicketAmount
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		now := s.now()
		sub, err := tx.LockSubscriptionByUser(ctx, userID)
		if err != nil {
			return err
		}
		if !sub.IsActive() {
			return domain.ErrSubscriptionNotFound
		}

		// the subscription lock serializes concurrent grants for this user
		granted, err := tx.HasBonus(ctx, userID, domain.TxBonusBirthday, now.Year())
		if err != nil {
			return fmt.Errorf("failed to check birthday bonus: %w", err)
		}
		if granted {
			return domain.ErrBonusAlreadyGranted
		}

		entry, err = changeTickets(ctx, tx, sub, domain.TxBonusBirthday, amount, "", "", "Happy birthday!", now)
		if err != nil {
			return err
		}
		return tx.InsertBonus(ctx, &domain.BonusTicket{
			ID:        uuid.New().String(),
			UserID:    userID,
			BonusType: domain.TxBonusBirthday,
			Amount:    amount,
			Year:      now.Year(),
			Reason:    "birthday",
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	publishTicketEntries(ctx, s.events, entry)
	return entry, nil
}

func (s *ticketService) BirthdayCandidates(ctx context.Context, now time.Time, minAccountAge time.Duration) ([]*domain.User, error) {
	createdBefore := now.Add(-minAccountAge)
	users, err := s.store.ListBirthdayUsers(ctx, now.Month(), now.Day(), createdBefore)
	if err != nil {
		return nil, err
	}
	// Feb 29 birthdays are celebrated on Feb 28 in non-leap years
	if now.Month() == time.February && now.Day() == 28 && !isLeapYear(now.Year()) {
		leap, err := s.store.ListBirthdayUsers(ctx, time.February, 29, createdBefore)
		if err != nil {
			return nil, err
		}
		users = append(users, leap...)
	}
	return users, nil
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func (s *ticketService) VerifyLedger(ctx context.Context, subscriptionID string) (report *domain.LedgerReport, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.verify_ledger")
	defer func() { finishSpan(span, err) }()

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		sub, err := tx.LockSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		entries, err := tx.ListSubscriptionLedger(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("failed to load ledger: %w", err)
		}
		report = domain.ReplayLedger(sub.ID, entries, sub.TicketsRemaining)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !report.Consistent {
		logger.Get().ErrorContext(ctx, "Ticket ledger mismatch",
			zap.String("subscription_id", subscriptionID),
			zap.Int("replayed", report.ReplayedTotal),
			zap.Int("balance", report.CurrentBalance),
			zap.String("first_bad_entry", report.FirstBadEntry),
		)
	}
	return report, nil
}
