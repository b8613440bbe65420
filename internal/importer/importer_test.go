package importer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"paykiosk.org/internal/auth"
	"paykiosk.org/internal/ledger"
)

func TestImport(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := ledger.NewService(store)
	resolver := auth.NewResolver(auth.NewMemoryStore(auth.WithAccounts(store)), auth.WithBcryptCost(bcrypt.MinCost))
	im := New(svc, resolver)
	ctx := context.Background()

	input := strings.Join([]string{
		"display_name,limit,balance,permission,username,password,barcode",
		"Alice,5.00,10.00,member,alice,pw1,1111",
		"Bob,0,-1.00,,bob,pwb,3333",   // violates limit
		"Carol,,,admin,carol,,",       // password missing
		",1,1,,,,",                    // no name
		"Dave,2.50,-2.50,,alice,pw2,", // duplicate username
		"Eve,1.005,,,,,",              // sub-cent
		"Frank,,,,,,1111",             // duplicate barcode
		"Gina,,3,,gina,pw3,2222",
	}, "\n")

	results, err := im.Import(ctx, strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, results, 8)

	assert.True(t, results[0].OK(), results[0].Error)
	assert.Equal(t, 2, results[0].Line)
	assert.Contains(t, results[1].Error, "limit exceeded")
	assert.NotEmpty(t, results[1].AccountID, "account exists even though the opening balance was refused")
	assert.Contains(t, results[2].Error, "together")
	assert.Contains(t, results[3].Error, "display_name")
	assert.Contains(t, results[4].Error, "already exists")
	assert.Contains(t, results[5].Error, "decimal places")
	assert.Contains(t, results[6].Error, "already exists")
	assert.True(t, results[7].OK(), results[7].Error)

	ref, err := resolver.Resolve(ctx, auth.PasswordCredential{Username: "alice", Password: "pw1"})
	require.NoError(t, err)
	assert.Equal(t, results[0].AccountID, ref.AccountID)

	acc, err := svc.Account(ctx, ref.AccountID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(1000), acc.Balance)
	assert.Equal(t, ledger.Money(500), acc.Limit)
	assert.Equal(t, ledger.PermissionMember, acc.Permission)

	bob, _ := svc.Account(ctx, results[1].AccountID)
	assert.Equal(t, ledger.Money(0), bob.Balance)
	for _, cred := range []auth.Credential{
		auth.PasswordCredential{Username: "bob", Password: "pwb"},
		auth.BarcodeCredential{Code: "3333"},
	} {
		ref, err := resolver.Resolve(ctx, cred)
		require.NoError(t, err, "credentials stay registered when the opening balance is refused")
		assert.Equal(t, bob.ID, ref.AccountID)
	}
}

func TestImportHeaderErrors(t *testing.T) {
	im := New(ledger.NewService(ledger.NewMemoryStore()), auth.NewResolver(auth.NewMemoryStore()))
	_, err := im.Import(context.Background(), strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = im.Import(context.Background(), strings.NewReader("name,limit\nx,1\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)
}
