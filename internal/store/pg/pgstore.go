package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"paykiosk.org/internal/ledger"
)

const defaultLockTimeout = 2 * time.Second

// Store implements ledger.Store on PostgreSQL. Units of work run at
// SERIALIZABLE isolation and lock the account row they mutate.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

var _ ledger.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithLockTimeout bounds how long a unit of work waits for a row lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, opts...), nil
}

// New wraps an existing handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, lockTimeout: defaultLockTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("set local lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return classify(err)
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

const accountColumns = `id, display_name, balance, credit_limit, permission, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var (
		acc            ledger.Account
		balance, limit int64
		perm           int16
	)
	if err := row.Scan(&acc.ID, &acc.DisplayName, &balance, &limit, &perm, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, ledger.ErrNotFound
		}
		return ledger.Account{}, classify(err)
	}
	acc.Balance = ledger.Money(balance)
	acc.Limit = ledger.Money(limit)
	acc.Permission = ledger.Permission(perm)
	acc.CreatedAt = acc.CreatedAt.UTC()
	acc.UpdatedAt = acc.UpdatedAt.UTC()
	return acc, nil
}

func (s *Store) InsertAccount(ctx context.Context, acc ledger.Account) error {
	_, err := s.db.ExecContext(ctx, `
		insert into accounts(id, display_name, balance, credit_limit, permission, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, acc.ID, acc.DisplayName, int64(acc.Balance), int64(acc.Limit), int16(acc.Permission), acc.CreatedAt, acc.UpdatedAt)
	return classify(err)
}

func (s *Store) Account(ctx context.Context, id string) (ledger.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id=$1`, id))
}

func (s *Store) Accounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `select `+accountColumns+` from accounts order by display_name, id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var res []ledger.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, acc)
	}
	return res, classify(rows.Err())
}

func (s *Store) Entries(ctx context.Context, accountID string, q ledger.EntryQuery) iter.Seq2[ledger.Entry, error] {
	return func(yield func(ledger.Entry, error) bool) {
		rows, err := s.db.QueryContext(ctx, `
			select seq, id, account_id, amount, balance_before, balance_after, coalesce(cashier_id,''), created_at
			from entries
			where account_id=$1
			  and ($2::timestamptz is null or created_at >= $2)
			  and ($3::timestamptz is null or created_at < $3)
			  and seq > $4
			order by created_at asc, seq asc
			limit nullif($5, 0)
		`, accountID, nullTime(q.From), nullTime(q.To), int64(q.After), q.Limit)
		if err != nil {
			yield(ledger.Entry{}, classify(err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				e                      ledger.Entry
				seq                    int64
				amount, before, after int64
			)
			if err := rows.Scan(&seq, &e.ID, &e.AccountID, &amount, &before, &after, &e.CashierID, &e.CreatedAt); err != nil {
				yield(ledger.Entry{}, classify(err))
				return
			}
			e.Sequence = uint64(seq)
			e.Amount = ledger.Money(amount)
			e.BalanceBefore = ledger.Money(before)
			e.BalanceAfter = ledger.Money(after)
			e.CreatedAt = e.CreatedAt.UTC()
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(ledger.Entry{}, classify(err))
		}
	}
}

// Totals aggregates in a single statement so the result reflects one snapshot.
func (s *Store) Totals(ctx context.Context) (ledger.Totals, error) {
	var (
		t      ledger.Totals
		rawSum string
	)
	err := s.db.QueryRowContext(ctx, `
		select count(*), coalesce(sum(balance), 0)::text, (select count(*) from entries)
		from accounts
	`).Scan(&t.Accounts, &rawSum, &t.Entries)
	if err != nil {
		return ledger.Totals{}, classify(err)
	}
	if t.Balance, err = numericMoney(rawSum); err != nil {
		return ledger.Totals{}, err
	}
	return t, nil
}

func (s *Store) AccountSums(ctx context.Context) ([]ledger.AccountSum, error) {
	rows, err := s.db.QueryContext(ctx, `
		select a.id, a.display_name, a.balance, coalesce(sum(e.amount), 0)::text, count(e.seq)
		from accounts a
		left join entries e on e.account_id = a.id
		group by a.id
		order by a.id
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var res []ledger.AccountSum
	for rows.Next() {
		var (
			sum     ledger.AccountSum
			balance int64
			rawSum  string
		)
		if err := rows.Scan(&sum.AccountID, &sum.DisplayName, &balance, &rawSum, &sum.Entries); err != nil {
			return nil, classify(err)
		}
		sum.Balance = ledger.Money(balance)
		if sum.EntrySum, err = numericMoney(rawSum); err != nil {
			return nil, err
		}
		res = append(res, sum)
	}
	return res, classify(rows.Err())
}

var (
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
)

// numericMoney converts a postgres numeric rendered as text into Money.
// sum(bigint) is numeric and may exceed int64.
func numericMoney(raw string) (ledger.Money, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, ledger.Internal(fmt.Errorf("parse numeric %q: %w", raw, err))
	}
	if d.GreaterThan(maxInt64) || d.LessThan(minInt64) {
		return 0, ledger.ErrOverflow
	}
	return ledger.Money(d.IntPart()), nil
}

// pgTx is the ledger.Tx handed to units of work.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockAccount(ctx context.Context, id string) (ledger.Account, error) {
	return scanAccount(t.tx.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id=$1 for update`, id))
}

func (t *pgTx) SaveAccount(ctx context.Context, acc ledger.Account) error {
	res, err := t.tx.ExecContext(ctx, `
		update accounts
		set display_name=$2, balance=$3, credit_limit=$4, permission=$5, updated_at=$6
		where id=$1
	`, acc.ID, acc.DisplayName, int64(acc.Balance), int64(acc.Limit), int16(acc.Permission), acc.UpdatedAt)
	if err != nil {
		return classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	var seq int64
	err := t.tx.QueryRowContext(ctx, `
		insert into entries(id, account_id, amount, balance_before, balance_after, cashier_id, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
		returning seq
	`, e.ID, e.AccountID, int64(e.Amount), int64(e.BalanceBefore), int64(e.BalanceAfter), nullIfEmpty(e.CashierID), e.CreatedAt).Scan(&seq)
	if err != nil {
		return classify(err)
	}
	e.Sequence = uint64(seq)
	return nil
}
