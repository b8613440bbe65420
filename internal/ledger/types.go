package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Permission is the privilege level of an account holder.
type Permission int16

const (
	// PermissionDefault may only read its own account.
	PermissionDefault Permission = iota
	// PermissionMember may operate the terminal and charge other accounts.
	PermissionMember
	// PermissionAdmin may manage accounts and read reports.
	PermissionAdmin
)

func (p Permission) String() string {
	switch p {
	case PermissionMember:
		return "member"
	case PermissionAdmin:
		return "admin"
	default:
		return "default"
	}
}

// AtLeast reports whether p grants everything q grants.
func (p Permission) AtLeast(q Permission) bool { return p >= q }

func (p Permission) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Permission) UnmarshalText(b []byte) error {
	v, err := ParsePermission(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePermission accepts "default", "member" or "admin" (case-insensitive).
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return PermissionDefault, nil
	case "member":
		return PermissionMember, nil
	case "admin":
		return PermissionAdmin, nil
	default:
		return PermissionDefault, fmt.Errorf("unknown permission %q", s)
	}
}

// Account holds a credit balance and an overdraft limit.
// Balance >= -Limit holds after every committed unit of work.
type Account struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Balance     Money      `json:"balance"`
	Limit       Money      `json:"limit"`
	Permission  Permission `json:"permission"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Entry is one immutable line of the transaction log.
type Entry struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	Amount        Money     `json:"amount"`
	BalanceBefore Money     `json:"balance_before"`
	BalanceAfter  Money     `json:"balance_after"`
	CashierID     string    `json:"cashier_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Sequence      uint64    `json:"sequence"`
}

// Snapshot is the account state right after a committed Apply.
type Snapshot struct {
	AccountID string    `json:"account_id"`
	Balance   Money     `json:"balance"`
	Limit     Money     `json:"limit"`
	UpdatedAt time.Time `json:"updated_at"`
	EntryID   string    `json:"entry_id"`
}

// NewAccount describes an account to create. Accounts always start at zero.
type NewAccount struct {
	DisplayName string
	Limit       Money
	Permission  Permission
}

// AccountUpdate carries optional changes; nil fields are left untouched.
type AccountUpdate struct {
	DisplayName *string
	Limit       *Money
	Permission  *Permission
}

// EntryQuery narrows an entry listing. Zero values mean "no bound".
// From is inclusive, To exclusive.
type EntryQuery struct {
	From  time.Time
	To    time.Time
	After uint64
	Limit int
}

// Match reports whether e falls inside the time and cursor bounds of q.
func (q EntryQuery) Match(e Entry) bool {
	if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !e.CreatedAt.Before(q.To) {
		return false
	}
	return e.Sequence > q.After
}

// Totals is a consistent aggregate over every account.
type Totals struct {
	Accounts int   `json:"accounts"`
	Balance  Money `json:"balance"`
	Entries  int64 `json:"entries"`
}

// AccountSum pairs the stored balance of one account with the sum of its entries.
type AccountSum struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Balance     Money  `json:"balance"`
	EntrySum    Money  `json:"entry_sum"`
	Entries     int64  `json:"entries"`
}
