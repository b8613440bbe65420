package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("ledger: not found")
	ErrLimitExceeded = errors.New("ledger: limit exceeded")
	ErrOverflow      = errors.New("ledger: amount overflow")
	ErrConflict      = errors.New("ledger: concurrent update conflict")
	ErrBusy          = errors.New("ledger: store busy")
	ErrInternal      = errors.New("ledger: internal error")
	ErrInvalidLimit  = errors.New("ledger: limit must be >= 0")
)

// Internal wraps a backing store failure so it classifies as ErrInternal
// while keeping the cause for logs.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInternal, err)
}

// Kind classifies errors returned by the ledger.
type Kind string

const (
	KindOK            Kind = "ok"
	KindNotFound      Kind = "not_found"
	KindLimitExceeded Kind = "limit_exceeded"
	KindOverflow      Kind = "overflow"
	KindConflict      Kind = "conflict"
	KindBusy          Kind = "busy"
	KindInvalid       Kind = "invalid"
	KindCanceled      Kind = "canceled"
	KindInternal      Kind = "internal"
)

// KindOf maps err onto the ledger error taxonomy. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrLimitExceeded):
		return KindLimitExceeded
	case errors.Is(err, ErrOverflow):
		return KindOverflow
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrInvalidLimit):
		return KindInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

// Retryable reports whether the caller may retry the same operation.
func (k Kind) Retryable() bool {
	return k == KindConflict || k == KindBusy
}
