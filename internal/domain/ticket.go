package domain

import (
	"fmt"
	"time"
)

// TransactionType is the reason for a ticket balance change
type TransactionType string

const (
	TxSubscriptionGrant TransactionType = "subscription_grant"
	TxUsed              TransactionType = "used"
	TxRestored          TransactionType = "restored"
	TxBonusReferral     TransactionType = "bonus_referral"
	TxBonusBirthday     TransactionType = "bonus_birthday"
	TxBonusManual       TransactionType = "bonus_manual"
	TxExpired           TransactionType = "expired"
	TxRevoked           TransactionType = "revoked"
)

// IsBonus reports whether the entry is one of the bonus grants
func (t TransactionType) IsBonus() bool {
	return t == TxBonusReferral || t == TxBonusBirthday || t == TxBonusManual
}

// TicketTransaction is an immutable ledger entry for one balance change
type TicketTransaction struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	SubscriptionID *string         `json:"subscription_id,omitempty"`
	BookingID      *string         `json:"booking_id,omitempty"`
	Type           TransactionType `json:"transaction_type"`
	Amount         int             `json:"amount"`
	BalanceAfter   int             `json:"balance_after"`
	Notes          *string         `json:"notes,omitempty"`
	AdminID        *string         `json:"admin_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// BonusTicket records a bonus grant so it can be limited per period
type BonusTicket struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	BonusType TransactionType `json:"bonus_type"`
	Amount    int             `json:"amount"`
	Year      int             `json:"year"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// LedgerReport is the result of replaying a subscription's ledger
type LedgerReport struct {
	SubscriptionID string `json:"subscription_id"`
	Entries        int    `json:"entries"`
	ReplayedTotal  int    `json:"replayed_total"`
	CurrentBalance int    `json:"current_balance"`
	Consistent     bool   `json:"consistent"`
	FirstBadEntry  string `json:"first_bad_entry,omitempty"`
}

// ReplayLedger sums entries in order and checks every recorded running balance.
// Entries must be sorted oldest first.
func ReplayLedger(subscriptionID string, entries []*TicketTransaction, current int) *LedgerReport {
	report := &LedgerReport{
		SubscriptionID: subscriptionID,
		Entries:        len(entries),
		CurrentBalance: current,
		Consistent:     true,
	}

	balance := 0
	for _, e := range entries {
		balance += e.Amount
		if report.FirstBadEntry == "" && (balance != e.BalanceAfter || balance < 0) {
			report.FirstBadEntry = e.ID
			report.Consistent = false
		}
	}
	report.ReplayedTotal = balance
	if balance != current {
		report.Consistent = false
	}
	return report
}

// Err returns ErrLedgerMismatch with detail when the report is inconsistent
func (r *LedgerReport) Err() error {
	if r.Consistent {
		return nil
	}
	return fmt.Errorf("%w: subscription %s replays to %d, balance is %d",
		ErrLedgerMismatch, r.SubscriptionID, r.ReplayedTotal, r.CurrentBalance)
}
