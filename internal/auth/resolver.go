package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"paykiosk.org/internal/ledger"
)

// Resolver maps a presented credential to the account it authenticates.
// It also manages the credentials registered for an account.
type Resolver struct {
	store Store
	cost  int
	now   func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithBcryptCost sets the cost used when hashing new passwords.
func WithBcryptCost(cost int) ResolverOption {
	return func(r *Resolver) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			r.cost = cost
		}
	}
}

// WithResolverClock overrides time source (useful for tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, cost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve authenticates cred. Every rejection is ErrInvalidCredentials;
// a failing store surfaces as ledger.ErrInternal instead.
func (r *Resolver) Resolve(ctx context.Context, cred Credential) (AccountRef, error) {
	switch c := cred.(type) {
	case PasswordCredential:
		return r.resolvePassword(ctx, c)
	case BarcodeCredential:
		return r.resolveBarcode(ctx, c)
	default:
		return AccountRef{}, ErrInvalidCredentials
	}
}

func (r *Resolver) resolvePassword(ctx context.Context, c PasswordCredential) (AccountRef, error) {
	rec, err := r.store.PasswordByUsername(ctx, c.Username)
	if errors.Is(err, ErrNotFound) {
		// Burn the same bcrypt work as a real comparison.
		_ = bcrypt.CompareHashAndPassword(r.dummy(), []byte(c.Password))
		return AccountRef{}, ErrInvalidCredentials
	}
	if err != nil {
		return AccountRef{}, ledger.Internal(err)
	}
	if err := VerifyPassword(rec.PasswordHash, c.Password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return AccountRef{}, ErrInvalidCredentials
		}
		return AccountRef{}, ledger.Internal(err)
	}
	return AccountRef{AccountID: rec.AccountID, Method: MethodPassword}, nil
}

func (r *Resolver) resolveBarcode(ctx context.Context, c BarcodeCredential) (AccountRef, error) {
	rec, err := r.store.BarcodeByCode(ctx, c.Code)
	if errors.Is(err, ErrNotFound) {
		return AccountRef{}, ErrInvalidCredentials
	}
	if err != nil {
		return AccountRef{}, ledger.Internal(err)
	}
	return AccountRef{AccountID: rec.AccountID, Method: MethodBarcode}, nil
}

func (r *Resolver) dummy() []byte {
	r.dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("paykiosk-dummy-password"), r.cost)
		if err == nil {
			r.dummyHash = h
		}
	})
	return r.dummyHash
}

// RegisterPassword sets the password credential of accountID, replacing any
// existing one. The username must not belong to another account.
func (r *Resolver) RegisterPassword(ctx context.Context, accountID, username, password string) error {
	accountID = strings.TrimSpace(accountID)
	username = strings.TrimSpace(username)
	if accountID == "" || username == "" || password == "" {
		return ErrInvalidInput
	}
	hash, err := HashPassword(password, r.cost)
	if err != nil {
		return ledger.Internal(err)
	}
	return r.store.PutPassword(ctx, PasswordRecord{
		AccountID:    accountID,
		Username:     username,
		PasswordHash: hash,
		UpdatedAt:    r.now().UTC(),
	})
}

// RegisterBarcode sets the barcode of accountID, replacing any existing one.
func (r *Resolver) RegisterBarcode(ctx context.Context, accountID, code string) error {
	accountID = strings.TrimSpace(accountID)
	code = strings.TrimSpace(code)
	if accountID == "" || code == "" {
		return ErrInvalidInput
	}
	return r.store.PutBarcode(ctx, BarcodeRecord{
		AccountID: accountID,
		Code:      code,
		UpdatedAt: r.now().UTC(),
	})
}

func (r *Resolver) RemovePassword(ctx context.Context, accountID string) error {
	return r.store.DeletePassword(ctx, accountID)
}

func (r *Resolver) RemoveBarcode(ctx context.Context, accountID string) error {
	return r.store.DeleteBarcode(ctx, accountID)
}

// Methods lists the credential kinds registered for accountID.
func (r *Resolver) Methods(ctx context.Context, accountID string) (Methods, error) {
	var m Methods
	pw, err := r.store.PasswordByAccount(ctx, accountID)
	switch {
	case err == nil:
		m.Password = true
		m.Username = pw.Username
	case !errors.Is(err, ErrNotFound):
		return Methods{}, err
	}
	_, err = r.store.BarcodeByAccount(ctx, accountID)
	switch {
	case err == nil:
		m.Barcode = true
	case !errors.Is(err, ErrNotFound):
		return Methods{}, err
	}
	return m, nil
}

// HasUsername reports whether a password credential uses username. It is for
// provisioning only and must not back a public endpoint.
func (r *Resolver) HasUsername(ctx context.Context, username string) (bool, error) {
	_, err := r.store.PasswordByUsername(ctx, strings.TrimSpace(username))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, ledger.Internal(err)
	}
}
