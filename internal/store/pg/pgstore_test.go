package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"paykiosk.org/internal/auth"
	"paykiosk.org/internal/ledger"
)

var accountCols = []string{"id", "display_name", "balance", "credit_limit", "permission", "created_at", "updated_at"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, WithLockTimeout(1500*time.Millisecond)), mock
}

func TestApplyRunsInSerializableUnit(t *testing.T) {
	store, mock := newMock(t)
	svc := ledger.NewService(store)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("set local lock_timeout = '1500ms'")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select id, display_name, .* from accounts where id=\$1 for update`).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow("acc-1", "Alice", int64(1000), int64(500), int16(0), created, created))
	mock.ExpectQuery(`insert into entries`).
		WithArgs(sqlmock.AnyArg(), "acc-1", int64(-1400), int64(1000), int64(-400), sql.NullString{}, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(7)))
	mock.ExpectExec(`update accounts`).
		WithArgs("acc-1", "Alice", int64(-400), int64(500), int16(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	snap, err := svc.Apply(context.Background(), "acc-1", -1400)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if snap.Balance != -400 || snap.Limit != 500 || snap.EntryID == "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyLimitExceededRollsBack(t *testing.T) {
	store, mock := newMock(t)
	svc := ledger.NewService(store)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("set local lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`from accounts where id=\$1 for update`).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow("acc-1", "Alice", int64(-400), int64(500), int16(0), now, now))
	mock.ExpectRollback()

	if _, err := svc.Apply(context.Background(), "acc-1", -200); !errors.Is(err, ledger.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyRetriesSerializationFailure(t *testing.T) {
	store, mock := newMock(t)
	svc := ledger.NewService(store, ledger.WithRetryDelay(time.Microsecond))
	now := time.Now()

	expectUnit := func(commitErr error) {
		mock.ExpectBegin()
		mock.ExpectExec("set local lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`for update`).WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow("acc-1", "A", int64(0), int64(0), int16(0), now, now))
		mock.ExpectQuery(`insert into entries`).WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
		mock.ExpectExec(`update accounts`).WillReturnResult(sqlmock.NewResult(0, 1))
		if commitErr != nil {
			mock.ExpectCommit().WillReturnError(commitErr)
			return
		}
		mock.ExpectCommit()
	}
	expectUnit(&pgconn.PgError{Code: pgErrSerializationFailure})
	expectUnit(nil)

	snap, err := svc.Apply(context.Background(), "acc-1", 25)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if snap.Balance != 25 {
		t.Fatalf("unexpected balance: %d", snap.Balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLockTimeoutIsBusy(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("set local lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`for update`).WillReturnError(&pgconn.PgError{Code: pgErrLockNotAvailable})
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.LockAccount(ctx, "acc-1")
		return err
	})
	if !errors.Is(err, ledger.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&pgconn.PgError{Code: pgErrSerializationFailure}, ledger.ErrConflict},
		{&pgconn.PgError{Code: pgErrDeadlockDetected}, ledger.ErrConflict},
		{&pgconn.PgError{Code: pgErrLockNotAvailable}, ledger.ErrBusy},
		{&pgconn.PgError{Code: pgErrQueryCanceled}, ledger.ErrBusy},
		{&pgconn.PgError{Code: pgErrCheckViolation, ConstraintName: "accounts_balance_within_limit"}, ledger.ErrLimitExceeded},
		{&pgconn.PgError{Code: "08006"}, ledger.ErrInternal},
		{errors.New("broken pipe"), ledger.ErrInternal},
		{context.Canceled, context.Canceled},
	}
	for _, tc := range cases {
		if got := classify(tc.err); !errors.Is(got, tc.want) {
			t.Fatalf("classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if classify(nil) != nil {
		t.Fatalf("classify(nil) must be nil")
	}
}

func TestAccountNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(`from accounts where id=\$1`).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	if _, err := store.Account(context.Background(), "nope"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTotals(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(`select count\(\*\), coalesce\(sum\(balance\), 0\)::text`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum", "entries"}).AddRow(3, "800", int64(9)))
	totals, err := store.Totals(context.Background())
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.Accounts != 3 || totals.Balance != 800 || totals.Entries != 9 {
		t.Fatalf("unexpected totals: %+v", totals)
	}

	mock.ExpectQuery(`select count\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum", "entries"}).AddRow(2, "18446744073709551614", int64(2)))
	if _, err := store.Totals(context.Background()); !errors.Is(err, ledger.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestEntriesStreamsRows(t *testing.T) {
	store, mock := newMock(t)
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	from := ts.Add(-time.Hour)

	mock.ExpectQuery(`from entries`).
		WithArgs("acc-1", sql.NullTime{Time: from, Valid: true}, sql.NullTime{}, int64(0), 0).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "id", "account_id", "amount", "balance_before", "balance_after", "cashier_id", "created_at"}).
			AddRow(int64(1), "e1", "acc-1", int64(100), int64(0), int64(100), "", ts).
			AddRow(int64(2), "e2", "acc-1", int64(-30), int64(100), int64(70), "cashier", ts.Add(time.Second)))

	var got []ledger.Entry
	for e, err := range store.Entries(context.Background(), "acc-1", ledger.EntryQuery{From: from}) {
		if err != nil {
			t.Fatalf("Entries: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 2 || got[1].Sequence != 2 || got[1].BalanceAfter != 70 || got[1].CashierID != "cashier" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialsErrors(t *testing.T) {
	store, mock := newMock(t)
	creds := store.Credentials()
	ctx := context.Background()

	mock.ExpectExec(`insert into password_credentials`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "password_credentials_username_key"})
	err := creds.PutPassword(ctx, auth.PasswordRecord{AccountID: "acc-2", Username: "alice", PasswordHash: "x"})
	if !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	mock.ExpectExec(`insert into barcode_credentials`).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	if err := creds.PutBarcode(ctx, auth.BarcodeRecord{AccountID: "ghost", Code: "1"}); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown account, got %v", err)
	}

	mock.ExpectQuery(`from password_credentials where username=\$1`).WithArgs("bob").WillReturnError(sql.ErrNoRows)
	if _, err := creds.PasswordByUsername(ctx, "bob"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected auth.ErrNotFound, got %v", err)
	}

	mock.ExpectQuery(`from barcode_credentials where code=\$1`).WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "code", "updated_at"}).AddRow("acc-9", "42", time.Now()))
	rec, err := creds.BarcodeByCode(ctx, "42")
	if err != nil || rec.AccountID != "acc-9" {
		t.Fatalf("unexpected barcode lookup: %+v, %v", rec, err)
	}

	mock.ExpectExec(`delete from barcode_credentials`).WithArgs("acc-9").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := creds.DeleteBarcode(ctx, "acc-9"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty delete, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
