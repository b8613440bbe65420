package ledger

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultLockTimeout = 2 * time.Second

// MemoryStore implements Store in process memory.
//
// Units of work are serialised by a weighted semaphore so that waiting for the
// lock can time out. Writes are staged on the Tx and published under mu in a
// single step: readers see either the state before or after a unit of work.
type MemoryStore struct {
	sem         *semaphore.Weighted
	lockTimeout time.Duration

	mu       sync.RWMutex
	accounts map[string]Account
	entries  map[string][]Entry
	seq      uint64
	count    int64
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithLockTimeout bounds how long InTx waits for the store lock.
func WithLockTimeout(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sem:         semaphore.NewWeighted(1),
		lockTimeout: defaultLockTimeout,
		accounts:    make(map[string]Account),
		entries:     make(map[string][]Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	if err := s.sem.Acquire(lockCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBusy
	}
	defer s.sem.Release(1)

	tx := &memTx{store: s, accounts: make(map[string]Account)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, acc := range tx.accounts {
		s.accounts[id] = acc
	}
	for _, e := range tx.entries {
		s.entries[e.AccountID] = append(s.entries[e.AccountID], e)
	}
	s.seq += uint64(len(tx.entries))
	s.count += int64(len(tx.entries))
}

func (s *MemoryStore) InsertAccount(ctx context.Context, acc Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.ID]; ok {
		return Internal(fmt.Errorf("duplicate account id %s", acc.ID))
	}
	s.accounts[acc.ID] = acc
	return nil
}

func (s *MemoryStore) Account(ctx context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acc, nil
}

func (s *MemoryStore) Accounts(ctx context.Context) ([]Account, error) {
	s.mu.RLock()
	out := make([]Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Account) int {
		return cmp.Or(cmp.Compare(a.DisplayName, b.DisplayName), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *MemoryStore) Entries(ctx context.Context, accountID string, q EntryQuery) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		s.mu.RLock()
		log := slices.Clone(s.entries[accountID])
		s.mu.RUnlock()

		n := 0
		for _, e := range log {
			if !q.Match(e) {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
			n++
			if q.Limit > 0 && n >= q.Limit {
				return
			}
		}
	}
}

func (s *MemoryStore) Totals(ctx context.Context) (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := Totals{Accounts: len(s.accounts), Entries: s.count}
	for _, acc := range s.accounts {
		var err error
		if t.Balance, err = t.Balance.Add(acc.Balance); err != nil {
			return Totals{}, err
		}
	}
	return t, nil
}

func (s *MemoryStore) AccountSums(ctx context.Context) ([]AccountSum, error) {
	s.mu.RLock()
	out := make([]AccountSum, 0, len(s.accounts))
	for id, acc := range s.accounts {
		sum := AccountSum{AccountID: id, DisplayName: acc.DisplayName, Balance: acc.Balance}
		for _, e := range s.entries[id] {
			var err error
			if sum.EntrySum, err = sum.EntrySum.Add(e.Amount); err != nil {
				s.mu.RUnlock()
				return nil, err
			}
			sum.Entries++
		}
		out = append(out, sum)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b AccountSum) int { return cmp.Compare(a.AccountID, b.AccountID) })
	return out, nil
}

// memTx stages writes until the unit of work commits.
type memTx struct {
	store    *MemoryStore
	accounts map[string]Account
	entries  []Entry
}

func (tx *memTx) LockAccount(ctx context.Context, id string) (Account, error) {
	if acc, ok := tx.accounts[id]; ok {
		return acc, nil
	}
	return tx.store.Account(ctx, id)
}

func (tx *memTx) SaveAccount(ctx context.Context, acc Account) error {
	if _, err := tx.LockAccount(ctx, acc.ID); err != nil {
		return err
	}
	tx.accounts[acc.ID] = acc
	return nil
}

func (tx *memTx) AppendEntry(ctx context.Context, e *Entry) error {
	if _, err := tx.LockAccount(ctx, e.AccountID); err != nil {
		return err
	}
	// The semaphore is held, so nobody else advances seq before commit.
	tx.store.mu.RLock()
	e.Sequence = tx.store.seq + uint64(len(tx.entries)) + 1
	tx.store.mu.RUnlock()
	tx.entries = append(tx.entries, *e)
	return nil
}
