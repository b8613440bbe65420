package report

import (
	"context"
	"time"

	"paykiosk.org/internal/ledger"
)

// Source is the read side of the ledger store used for reporting.
type Source interface {
	Totals(ctx context.Context) (ledger.Totals, error)
	AccountSums(ctx context.Context) ([]ledger.AccountSum, error)
}

// Summary is a point-in-time aggregate of the whole ledger.
type Summary struct {
	Accounts    int          `json:"accounts"`
	Total       ledger.Money `json:"total"`
	Entries     int64        `json:"entries"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Mismatch is an account whose stored balance differs from its log.
type Mismatch struct {
	AccountID   string       `json:"account_id"`
	DisplayName string       `json:"display_name"`
	Balance     ledger.Money `json:"balance"`
	EntrySum    ledger.Money `json:"entry_sum"`
	Entries     int64        `json:"entries"`
}

// Reporter computes read-only aggregates. It never writes.
type Reporter struct {
	src Source
	now func() time.Time
}

func NewReporter(src Source) *Reporter {
	return &Reporter{src: src, now: time.Now}
}

// TotalBalance sums every account balance from one consistent read.
// With no accounts it returns ledger.ErrNotFound.
func (r *Reporter) TotalBalance(ctx context.Context) (ledger.Money, error) {
	t, err := r.src.Totals(ctx)
	if err != nil {
		return 0, err
	}
	if t.Accounts == 0 {
		return 0, ledger.ErrNotFound
	}
	return t.Balance, nil
}

func (r *Reporter) Summary(ctx context.Context) (Summary, error) {
	t, err := r.src.Totals(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Accounts:    t.Accounts,
		Total:       t.Balance,
		Entries:     t.Entries,
		GeneratedAt: r.now().UTC(),
	}, nil
}

// Reconcile lists accounts whose balance is not the sum of their entries.
// An empty result means the ledger is consistent.
func (r *Reporter) Reconcile(ctx context.Context) ([]Mismatch, error) {
	sums, err := r.src.AccountSums(ctx)
	if err != nil {
		return nil, err
	}
	out := []Mismatch{}
	for _, s := range sums {
		if s.Balance == s.EntrySum {
			continue
		}
		out = append(out, Mismatch{
			AccountID:   s.AccountID,
			DisplayName: s.DisplayName,
			Balance:     s.Balance,
			EntrySum:    s.EntrySum,
			Entries:     s.Entries,
		})
	}
	return out, nil
}
