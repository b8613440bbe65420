package auth

import (
	"time"

	"paykiosk.org/internal/ledger"
)

// PasswordRecord is the stored form of a password credential.
type PasswordRecord struct {
	AccountID    string
	Username     string
	PasswordHash string
	UpdatedAt    time.Time
}

// BarcodeRecord is the stored form of a barcode credential.
type BarcodeRecord struct {
	AccountID string
	Code      string
	UpdatedAt time.Time
}

// Methods reports which credential kinds an account has registered.
// The barcode itself is never exposed.
type Methods struct {
	Password bool   `json:"password"`
	Username string `json:"username,omitempty"`
	Barcode  bool   `json:"barcode"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	AccountID  string
	Permission ledger.Permission
	Method     Method
}

// Can reports whether the principal holds at least perm.
func (p Principal) Can(perm ledger.Permission) bool {
	return p.Permission.AtLeast(perm)
}

// Owns reports whether accountID is the principal's own account.
func (p Principal) Owns(accountID string) bool {
	return p.AccountID != "" && p.AccountID == accountID
}
