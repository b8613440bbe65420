package pg

import (
	"context"
	"database/sql"
	"errors"

	"paykiosk.org/internal/auth"
	"paykiosk.org/internal/ledger"
)

// Credentials implements auth.Store. Passwords and barcodes live in
// separate tables keyed by account id with a unique secondary key.
type Credentials struct {
	db *sql.DB
}

var _ auth.Store = (*Credentials)(nil)

func NewCredentials(db *sql.DB) *Credentials {
	return &Credentials{db: db}
}

// Credentials returns the credential store sharing this store's pool.
func (s *Store) Credentials() *Credentials { return NewCredentials(s.db) }

func credentialErr(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrAlreadyExists
		case pgErrForeignKeyViolation:
			return ledger.ErrNotFound
		}
	}
	return classify(err)
}

func (c *Credentials) scanPassword(row *sql.Row) (auth.PasswordRecord, error) {
	var rec auth.PasswordRecord
	if err := row.Scan(&rec.AccountID, &rec.Username, &rec.PasswordHash, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.PasswordRecord{}, auth.ErrNotFound
		}
		return auth.PasswordRecord{}, classify(err)
	}
	return rec, nil
}

func (c *Credentials) PasswordByUsername(ctx context.Context, username string) (auth.PasswordRecord, error) {
	return c.scanPassword(c.db.QueryRowContext(ctx,
		`select account_id, username, password_hash, updated_at from password_credentials where username=$1`, username))
}

func (c *Credentials) PasswordByAccount(ctx context.Context, accountID string) (auth.PasswordRecord, error) {
	return c.scanPassword(c.db.QueryRowContext(ctx,
		`select account_id, username, password_hash, updated_at from password_credentials where account_id=$1`, accountID))
}

func (c *Credentials) PutPassword(ctx context.Context, rec auth.PasswordRecord) error {
	_, err := c.db.ExecContext(ctx, `
		insert into password_credentials(account_id, username, password_hash, updated_at)
		values ($1,$2,$3,$4)
		on conflict (account_id) do update
		set username = excluded.username, password_hash = excluded.password_hash, updated_at = excluded.updated_at
	`, rec.AccountID, rec.Username, rec.PasswordHash, rec.UpdatedAt)
	if err != nil {
		return credentialErr(err)
	}
	return nil
}

func (c *Credentials) DeletePassword(ctx context.Context, accountID string) error {
	return c.delete(ctx, `delete from password_credentials where account_id=$1`, accountID)
}

func (c *Credentials) scanBarcode(row *sql.Row) (auth.BarcodeRecord, error) {
	var rec auth.BarcodeRecord
	if err := row.Scan(&rec.AccountID, &rec.Code, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.BarcodeRecord{}, auth.ErrNotFound
		}
		return auth.BarcodeRecord{}, classify(err)
	}
	return rec, nil
}

func (c *Credentials) BarcodeByCode(ctx context.Context, code string) (auth.BarcodeRecord, error) {
	return c.scanBarcode(c.db.QueryRowContext(ctx,
		`select account_id, code, updated_at from barcode_credentials where code=$1`, code))
}

func (c *Credentials) BarcodeByAccount(ctx context.Context, accountID string) (auth.BarcodeRecord, error) {
	return c.scanBarcode(c.db.QueryRowContext(ctx,
		`select account_id, code, updated_at from barcode_credentials where account_id=$1`, accountID))
}

func (c *Credentials) PutBarcode(ctx context.Context, rec auth.BarcodeRecord) error {
	_, err := c.db.ExecContext(ctx, `
		insert into barcode_credentials(account_id, code, updated_at)
		values ($1,$2,$3)
		on conflict (account_id) do update
		set code = excluded.code, updated_at = excluded.updated_at
	`, rec.AccountID, rec.Code, rec.UpdatedAt)
	if err != nil {
		return credentialErr(err)
	}
	return nil
}

func (c *Credentials) DeleteBarcode(ctx context.Context, accountID string) error {
	return c.delete(ctx, `delete from barcode_credentials where account_id=$1`, accountID)
}

func (c *Credentials) delete(ctx context.Context, query, accountID string) error {
	res, err := c.db.ExecContext(ctx, query, accountID)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
