package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a random 128-bit identifier for accounts and entries.
// Callers must treat it as opaque: no ordering is implied.
func New() string {
	return uuid.NewString()
}

// Sortable returns a lexicographically sortable identifier. It is used for
// request correlation, never for ledger identity.
func Sortable() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
