package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"paykiosk.org/internal/auth"
	"paykiosk.org/internal/ledger"
)

var (
	ErrMissingColumn = errors.New("importer: missing display_name column")
	ErrEmptyInput    = errors.New("importer: no header row")
)

// Accounts is the slice of ledger.Service the importer needs.
type Accounts interface {
	CreateAccount(ctx context.Context, in ledger.NewAccount) (ledger.Account, error)
	Apply(ctx context.Context, accountID string, amount ledger.Money, opts ...ledger.ApplyOption) (ledger.Snapshot, error)
}

// Credentials is the slice of auth.Resolver the importer needs.
type Credentials interface {
	RegisterPassword(ctx context.Context, accountID, username, password string) error
	RegisterBarcode(ctx context.Context, accountID, code string) error
}

// Result reports what happened to one data row. Line is 1-based and counts the header.
type Result struct {
	Line      int    `json:"line"`
	AccountID string `json:"account_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (r Result) OK() bool { return r.Error == "" }

// Importer creates accounts from CSV with the columns
// display_name, limit, balance, permission, username, password, barcode.
// Only display_name is required; columns may appear in any order.
// The opening balance goes through Apply, so the limit still holds.
type Importer struct {
	accounts Accounts
	creds    Credentials
}

func New(accounts Accounts, creds Credentials) *Importer {
	return &Importer{accounts: accounts, creds: creds}
}

type row struct {
	name       string
	limit      ledger.Money
	balance    ledger.Money
	permission ledger.Permission
	username   string
	password   string
	barcode    string
}

// Import processes every row and keeps going after row-level failures.
// The returned error is reserved for unreadable input and a canceled ctx.
func (im *Importer) Import(ctx context.Context, r io.Reader) ([]Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["display_name"]; !ok {
		return nil, ErrMissingColumn
	}

	var results []Result
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				results = append(results, Result{Line: line, Error: perr.Err.Error()})
				continue
			}
			return results, fmt.Errorf("read line %d: %w", line, err)
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := Result{Line: line}
		parsed, err := parseRow(rec, cols)
		if err == nil {
			res.AccountID, err = im.createRow(ctx, parsed)
		}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}

func parseRow(rec []string, cols map[string]int) (row, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	var (
		r   row
		err error
	)
	r.name = get("display_name")
	if r.name == "" {
		return row{}, errors.New("display_name is empty")
	}
	if v := get("limit"); v != "" {
		if r.limit, err = ledger.ParseMoney(v); err != nil {
			return row{}, fmt.Errorf("limit: %w", err)
		}
	}
	if v := get("balance"); v != "" {
		if r.balance, err = ledger.ParseMoney(v); err != nil {
			return row{}, fmt.Errorf("balance: %w", err)
		}
	}
	if r.permission, err = ledger.ParsePermission(get("permission")); err != nil {
		return row{}, err
	}
	r.username, r.password, r.barcode = get("username"), get("password"), get("barcode")
	if (r.username == "") != (r.password == "") {
		return row{}, errors.New("username and password must be given together")
	}
	return r, nil
}

func (im *Importer) createRow(ctx context.Context, r row) (string, error) {
	acc, err := im.accounts.CreateAccount(ctx, ledger.NewAccount{
		DisplayName: r.name,
		Limit:       r.limit,
		Permission:  r.permission,
	})
	if err != nil {
		return "", err
	}
	if r.username != "" {
		if err := im.creds.RegisterPassword(ctx, acc.ID, r.username, r.password); err != nil {
			return acc.ID, fmt.Errorf("password: %w", err)
		}
	}
	if r.barcode != "" {
		if err := im.creds.RegisterBarcode(ctx, acc.ID, r.barcode); err != nil {
			return acc.ID, fmt.Errorf("barcode: %w", err)
		}
	}
	// Credentials go first so a refused balance leaves a usable account.
	if r.balance != 0 {
		if _, err := im.accounts.Apply(ctx, acc.ID, r.balance); err != nil {
			return acc.ID, fmt.Errorf("opening balance: %w", err)
		}
	}
	return acc.ID, nil
}

var (
	_ Accounts    = (*ledger.Service)(nil)
	_ Credentials = (*auth.Resolver)(nil)
)
