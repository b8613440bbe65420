package ledger

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"paykiosk.org/internal/ids"
)

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = 5 * time.Millisecond
)

// Observer receives ledger measurements. obs.LedgerMetrics implements it.
type Observer interface {
	ObserveApply(kind Kind, elapsed time.Duration)
	ObserveRetry()
}

type nopObserver struct{}

func (nopObserver) ObserveApply(Kind, time.Duration) {}
func (nopObserver) ObserveRetry()                    {}

// EntryListener is called after an entry has committed. It runs on the
// caller's goroutine and cannot undo the commit.
type EntryListener func(ctx context.Context, e Entry)

// Service owns account balances. It is the only writer of Account.Balance.
type Service struct {
	store       Store
	now         func() time.Time
	maxAttempts int
	retryDelay  time.Duration
	observer    Observer
	listeners   []EntryListener
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithMaxAttempts bounds how often a conflicting unit of work is tried.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the initial backoff between conflict retries.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithObserver attaches a metrics sink.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithEntryListener subscribes fn to committed entries.
func WithEntryListener(fn EntryListener) Option {
	return func(s *Service) {
		if fn != nil {
			s.listeners = append(s.listeners, fn)
		}
	}
}

// NewService constructs a ledger on top of store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		observer:    nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccount registers a new account with a zero balance.
func (s *Service) CreateAccount(ctx context.Context, in NewAccount) (Account, error) {
	if in.Limit < 0 {
		return Account{}, ErrInvalidLimit
	}
	now := s.now().UTC()
	acc := Account{
		ID:          ids.New(),
		DisplayName: strings.TrimSpace(in.DisplayName),
		Limit:       in.Limit,
		Permission:  in.Permission,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertAccount(ctx, acc); err != nil {
		return Account{}, err
	}
	return acc, nil
}

func (s *Service) Account(ctx context.Context, id string) (Account, error) {
	return s.store.Account(ctx, id)
}

// Accounts lists every account ordered by display name.
func (s *Service) Accounts(ctx context.Context) ([]Account, error) {
	return s.store.Accounts(ctx)
}

// Balance returns the authoritative stored balance. The log is not consulted.
func (s *Service) Balance(ctx context.Context, id string) (Money, error) {
	acc, err := s.store.Account(ctx, id)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

type applyOptions struct {
	cashierID string
}

// ApplyOption annotates an Apply call.
type ApplyOption func(*applyOptions)

// WithCashier records which account operated the terminal.
func WithCashier(accountID string) ApplyOption {
	return func(o *applyOptions) { o.cashierID = strings.TrimSpace(accountID) }
}

// Apply adds a signed amount to the balance of accountID.
//
// The read of balance and limit, the limit check, the log append and the
// balance write happen in one unit of work. A result below -Limit fails with
// ErrLimitExceeded and changes nothing. A zero amount still appends an entry.
func (s *Service) Apply(ctx context.Context, accountID string, amount Money, opts ...ApplyOption) (Snapshot, error) {
	var o applyOptions
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	var (
		snap      Snapshot
		committed Entry
	)
	err := s.retry(ctx, func() error {
		return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			acc, err := tx.LockAccount(ctx, accountID)
			if err != nil {
				return err
			}
			next, err := acc.Balance.Add(amount)
			if err != nil {
				return err
			}
			if next < -acc.Limit {
				return ErrLimitExceeded
			}

			now := s.now().UTC()
			// Keep per-account commit order and CreatedAt order identical even if the wall clock steps back.
			if now.Before(acc.UpdatedAt) {
				now = acc.UpdatedAt
			}
			entry := Entry{
				ID:            ids.New(),
				AccountID:     acc.ID,
				Amount:        amount,
				BalanceBefore: acc.Balance,
				BalanceAfter:  next,
				CashierID:     o.cashierID,
				CreatedAt:     now,
			}
			if err := tx.AppendEntry(ctx, &entry); err != nil {
				return err
			}
			acc.Balance = next
			acc.UpdatedAt = now
			if err := tx.SaveAccount(ctx, acc); err != nil {
				return err
			}
			snap = Snapshot{
				AccountID: acc.ID,
				Balance:   acc.Balance,
				Limit:     acc.Limit,
				UpdatedAt: acc.UpdatedAt,
				EntryID:   entry.ID,
			}
			committed = entry
			return nil
		})
	})
	s.observer.ObserveApply(KindOf(err), time.Since(start))
	if err != nil {
		return Snapshot{}, err
	}
	for _, fn := range s.listeners {
		fn(ctx, committed)
	}
	return snap, nil
}

// UpdateAccount changes descriptive fields and the limit. Lowering the limit
// below what the current balance needs fails with ErrLimitExceeded.
func (s *Service) UpdateAccount(ctx context.Context, id string, upd AccountUpdate) (Account, error) {
	if upd.Limit != nil && *upd.Limit < 0 {
		return Account{}, ErrInvalidLimit
	}
	var out Account
	err := s.retry(ctx, func() error {
		return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			acc, err := tx.LockAccount(ctx, id)
			if err != nil {
				return err
			}
			if upd.DisplayName != nil {
				acc.DisplayName = strings.TrimSpace(*upd.DisplayName)
			}
			if upd.Permission != nil {
				acc.Permission = *upd.Permission
			}
			if upd.Limit != nil {
				if acc.Balance < -*upd.Limit {
					return ErrLimitExceeded
				}
				acc.Limit = *upd.Limit
			}
			if now := s.now().UTC(); now.After(acc.UpdatedAt) {
				acc.UpdatedAt = now
			}
			if err := tx.SaveAccount(ctx, acc); err != nil {
				return err
			}
			out = acc
			return nil
		})
	})
	if err != nil {
		return Account{}, err
	}
	return out, nil
}

// EntriesFor yields every entry of the account in commit order. The sequence
// is lazy and may be ranged over again to re-read the log.
func (s *Service) EntriesFor(ctx context.Context, accountID string) iter.Seq2[Entry, error] {
	return s.Entries(ctx, accountID, EntryQuery{})
}

// Entries yields the entries of accountID matching q. An unknown account
// yields a single ErrNotFound.
func (s *Service) Entries(ctx context.Context, accountID string, q EntryQuery) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if _, err := s.store.Account(ctx, accountID); err != nil {
			yield(Entry{}, err)
			return
		}
		for e, err := range s.store.Entries(ctx, accountID, q) {
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// retry runs op again while it fails with ErrConflict, at most maxAttempts times.
func (s *Service) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryDelay
	b.MaxInterval = 20 * s.retryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxAttempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		if attempt > 0 {
			s.observer.ObserveRetry()
		}
		attempt++
		err := op()
		if err == nil || errors.Is(err, ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
