package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"paykiosk.org/internal/ledger"
)

func newResolver(t *testing.T) (*Resolver, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewResolver(store, WithBcryptCost(bcrypt.MinCost)), store
}

func TestResolvePassword(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()
	require.NoError(t, r.RegisterPassword(ctx, "acc-1", "alice", "s3cret"))

	ref, err := r.Resolve(ctx, PasswordCredential{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, AccountRef{AccountID: "acc-1", Method: MethodPassword}, ref)
}

func TestResolvePasswordFailuresAreIndistinguishable(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()
	require.NoError(t, r.RegisterPassword(ctx, "acc-1", "alice", "s3cret"))

	_, wrongPassword := r.Resolve(ctx, PasswordCredential{Username: "alice", Password: "nope"})
	_, unknownUser := r.Resolve(ctx, PasswordCredential{Username: "mallory", Password: "s3cret"})
	_, caseMismatch := r.Resolve(ctx, PasswordCredential{Username: "Alice", Password: "s3cret"})

	for _, err := range []error{wrongPassword, unknownUser, caseMismatch} {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	if wrongPassword.Error() != unknownUser.Error() {
		t.Fatalf("failure messages differ: %q vs %q", wrongPassword, unknownUser)
	}
}

func TestResolveBarcode(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()
	require.NoError(t, r.RegisterBarcode(ctx, "acc-2", "4006381333931"))

	ref, err := r.Resolve(ctx, BarcodeCredential{Code: "4006381333931"})
	require.NoError(t, err)
	assert.Equal(t, AccountRef{AccountID: "acc-2", Method: MethodBarcode}, ref)

	_, err = r.Resolve(ctx, BarcodeCredential{Code: "0000"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = r.Resolve(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterReplacesAndEnforcesUniqueness(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()

	require.NoError(t, r.RegisterPassword(ctx, "acc-1", "alice", "one"))
	require.NoError(t, r.RegisterPassword(ctx, "acc-1", "alice2", "two"))
	_, err := r.Resolve(ctx, PasswordCredential{Username: "alice", Password: "one"})
	assert.ErrorIs(t, err, ErrInvalidCredentials, "old username must be released")
	ref, err := r.Resolve(ctx, PasswordCredential{Username: "alice2", Password: "two"})
	require.NoError(t, err)
	assert.Equal(t, "acc-1", ref.AccountID)

	assert.ErrorIs(t, r.RegisterPassword(ctx, "acc-2", "alice2", "x"), ErrAlreadyExists)
	assert.ErrorIs(t, r.RegisterPassword(ctx, "acc-2", " ", "x"), ErrInvalidInput)
	assert.ErrorIs(t, r.RegisterPassword(ctx, "acc-2", "bob", ""), ErrInvalidInput)

	require.NoError(t, r.RegisterBarcode(ctx, "acc-1", "111"))
	require.NoError(t, r.RegisterBarcode(ctx, "acc-1", "222"))
	assert.ErrorIs(t, r.RegisterBarcode(ctx, "acc-2", "222"), ErrAlreadyExists)
	require.NoError(t, r.RegisterBarcode(ctx, "acc-2", "111"))
}

func TestMethodsAndRemoval(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()

	m, err := r.Methods(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, Methods{}, m)

	require.NoError(t, r.RegisterPassword(ctx, "acc-1", "alice", "pw"))
	require.NoError(t, r.RegisterBarcode(ctx, "acc-1", "999"))
	m, err = r.Methods(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, Methods{Password: true, Username: "alice", Barcode: true}, m)

	require.NoError(t, r.RemoveBarcode(ctx, "acc-1"))
	assert.ErrorIs(t, r.RemoveBarcode(ctx, "acc-1"), ErrNotFound)
	_, err = r.Resolve(ctx, BarcodeCredential{Code: "999"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, r.RemovePassword(ctx, "acc-1"))
	m, _ = r.Methods(ctx, "acc-1")
	assert.False(t, m.Password)
}

type failingStore struct{ *MemoryStore }

var errDisk = errors.New("disk unavailable")

func (failingStore) PasswordByUsername(context.Context, string) (PasswordRecord, error) {
	return PasswordRecord{}, errDisk
}

func (failingStore) BarcodeByCode(context.Context, string) (BarcodeRecord, error) {
	return BarcodeRecord{}, errDisk
}

func TestResolveStorageFailureIsInternal(t *testing.T) {
	r := NewResolver(failingStore{NewMemoryStore()}, WithBcryptCost(bcrypt.MinCost))
	ctx := context.Background()

	_, err := r.Resolve(ctx, PasswordCredential{Username: "alice", Password: "pw"})
	assert.ErrorIs(t, err, ledger.ErrInternal)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	_, err = r.Resolve(ctx, BarcodeCredential{Code: "1"})
	assert.ErrorIs(t, err, ledger.ErrInternal)
	assert.ErrorIs(t, err, errDisk)
}

func TestRegisterRequiresExistingAccount(t *testing.T) {
	ctx := context.Background()
	accounts := ledger.NewMemoryStore()
	svc := ledger.NewService(accounts)
	acc, err := svc.CreateAccount(ctx, ledger.NewAccount{DisplayName: "kiosk"})
	require.NoError(t, err)

	r := NewResolver(NewMemoryStore(WithAccounts(svc)), WithBcryptCost(bcrypt.MinCost))
	assert.ErrorIs(t, r.RegisterBarcode(ctx, "ghost", "B1"), ledger.ErrNotFound)
	assert.ErrorIs(t, r.RegisterPassword(ctx, "ghost", "ghost", "pw"), ledger.ErrNotFound)

	_, err = r.Resolve(ctx, BarcodeCredential{Code: "B1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	m, err := r.Methods(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, Methods{}, m)

	require.NoError(t, r.RegisterBarcode(ctx, acc.ID, "B1"))
	ref, err := r.Resolve(ctx, BarcodeCredential{Code: "B1"})
	require.NoError(t, err)
	assert.Equal(t, acc.ID, ref.AccountID)
}
