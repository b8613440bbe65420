package events

import (
	"context"
	"errors"
	"time"

	"paykiosk.org/internal/ledger"
)

const TypeEntryApplied = "entry.applied"

// EntryEvent announces one committed ledger entry.
type EntryEvent struct {
	Type         string       `json:"type"`
	EntryID      string       `json:"entry_id"`
	AccountID    string       `json:"account_id"`
	Amount       ledger.Money `json:"amount"`
	BalanceAfter ledger.Money `json:"balance_after"`
	CashierID    string       `json:"cashier_id,omitempty"`
	Sequence     uint64       `json:"sequence"`
	CreatedAt    time.Time    `json:"created_at"`
}

func FromEntry(e ledger.Entry) EntryEvent {
	return EntryEvent{
		Type:         TypeEntryApplied,
		EntryID:      e.ID,
		AccountID:    e.AccountID,
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		CashierID:    e.CashierID,
		Sequence:     e.Sequence,
		CreatedAt:    e.CreatedAt,
	}
}

// Publisher delivers events somewhere. Delivery is best effort: the ledger
// has already committed when Publish runs.
type Publisher interface {
	Publish(ctx context.Context, evt EntryEvent) error
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt EntryEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
