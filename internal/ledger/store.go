package ledger

import (
	"context"
	"iter"
)

// Store is the durable backing of the ledger.
//
// InTx runs fn as one serializable unit of work: every read and write made
// through tx commits together or not at all. A conflicting concurrent commit
// yields ErrConflict; failing to obtain locks in time yields ErrBusy.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	InsertAccount(ctx context.Context, acc Account) error
	Account(ctx context.Context, id string) (Account, error)
	Accounts(ctx context.Context) ([]Account, error)

	// Entries yields the log of one account ordered by CreatedAt, then Sequence.
	// Every range over the returned sequence re-reads the store.
	Entries(ctx context.Context, accountID string, q EntryQuery) iter.Seq2[Entry, error]

	Totals(ctx context.Context) (Totals, error)
	AccountSums(ctx context.Context) ([]AccountSum, error)
}

// Tx is the handle passed to a unit of work. It is the only way to append
// to the transaction log.
type Tx interface {
	// LockAccount reads the account and holds it until the unit of work ends.
	LockAccount(ctx context.Context, id string) (Account, error)
	SaveAccount(ctx context.Context, acc Account) error
	// AppendEntry records e and sets e.Sequence.
	AppendEntry(ctx context.Context, e *Entry) error
}
