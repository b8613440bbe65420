package auth

import (
	"context"
	"sync"

	"paykiosk.org/internal/ledger"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu                sync.RWMutex
	passwords         map[string]PasswordRecord // by username
	passwordByAccount map[string]string
	barcodes          map[string]BarcodeRecord // by code
	barcodeByAccount  map[string]string
	accounts          Accounts
}

// Accounts confirms that a credential's owner exists. ledger.Service satisfies it.
type Accounts interface {
	Account(ctx context.Context, id string) (ledger.Account, error)
}

type MemoryOption func(*MemoryStore)

// WithAccounts makes Put fail with ledger.ErrNotFound for unknown accounts,
// the way the PostgreSQL foreign key does.
func WithAccounts(a Accounts) MemoryOption {
	return func(s *MemoryStore) {
		s.accounts = a
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		passwords:         make(map[string]PasswordRecord),
		passwordByAccount: make(map[string]string),
		barcodes:          make(map[string]BarcodeRecord),
		barcodeByAccount:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) checkAccount(ctx context.Context, id string) error {
	if s.accounts == nil {
		return nil
	}
	_, err := s.accounts.Account(ctx, id)
	return err
}

func (s *MemoryStore) PasswordByUsername(ctx context.Context, username string) (PasswordRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.passwords[username]
	if !ok {
		return PasswordRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) PasswordByAccount(ctx context.Context, accountID string) (PasswordRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	username, ok := s.passwordByAccount[accountID]
	if !ok {
		return PasswordRecord{}, ErrNotFound
	}
	return s.passwords[username], nil
}

func (s *MemoryStore) PutPassword(ctx context.Context, rec PasswordRecord) error {
	if err := s.checkAccount(ctx, rec.AccountID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.passwords[rec.Username]; ok && existing.AccountID != rec.AccountID {
		return ErrAlreadyExists
	}
	if old, ok := s.passwordByAccount[rec.AccountID]; ok {
		delete(s.passwords, old)
	}
	s.passwords[rec.Username] = rec
	s.passwordByAccount[rec.AccountID] = rec.Username
	return nil
}

func (s *MemoryStore) DeletePassword(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.passwordByAccount[accountID]
	if !ok {
		return ErrNotFound
	}
	delete(s.passwords, username)
	delete(s.passwordByAccount, accountID)
	return nil
}

func (s *MemoryStore) BarcodeByCode(ctx context.Context, code string) (BarcodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.barcodes[code]
	if !ok {
		return BarcodeRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) BarcodeByAccount(ctx context.Context, accountID string) (BarcodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.barcodeByAccount[accountID]
	if !ok {
		return BarcodeRecord{}, ErrNotFound
	}
	return s.barcodes[code], nil
}

func (s *MemoryStore) PutBarcode(ctx context.Context, rec BarcodeRecord) error {
	if err := s.checkAccount(ctx, rec.AccountID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.barcodes[rec.Code]; ok && existing.AccountID != rec.AccountID {
		return ErrAlreadyExists
	}
	if old, ok := s.barcodeByAccount[rec.AccountID]; ok {
		delete(s.barcodes, old)
	}
	s.barcodes[rec.Code] = rec
	s.barcodeByAccount[rec.AccountID] = rec.Code
	return nil
}

func (s *MemoryStore) DeleteBarcode(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.barcodeByAccount[accountID]
	if !ok {
		return ErrNotFound
	}
	delete(s.barcodes, code)
	delete(s.barcodeByAccount, accountID)
	return nil
}
