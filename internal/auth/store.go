package auth

import "context"

// Store persists credentials. Passwords and barcodes live in disjoint tables;
// each account has at most one of each kind, and usernames and codes are unique.
//
// Lookups of absent records return ErrNotFound. Put replaces the account's
// existing credential of that kind and fails with ErrAlreadyExists when the
// username or code belongs to another account.
type Store interface {
	PasswordByUsername(ctx context.Context, username string) (PasswordRecord, error)
	PasswordByAccount(ctx context.Context, accountID string) (PasswordRecord, error)
	PutPassword(ctx context.Context, rec PasswordRecord) error
	DeletePassword(ctx context.Context, accountID string) error

	BarcodeByCode(ctx context.Context, code string) (BarcodeRecord, error)
	BarcodeByAccount(ctx context.Context, accountID string) (BarcodeRecord, error)
	PutBarcode(ctx context.Context, rec BarcodeRecord) error
	DeleteBarcode(ctx context.Context, accountID string) error
}
