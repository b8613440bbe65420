package auth

// Method names a credential kind.
type Method string

const (
	MethodPassword Method = "password"
	MethodBarcode  Method = "barcode"
)

// Credential is what a caller presents to prove which account it acts for.
// The set of implementations is closed: PasswordCredential and BarcodeCredential.
type Credential interface {
	Method() Method
	credential()
}

// PasswordCredential is a username and plaintext password.
type PasswordCredential struct {
	Username string
	Password string
}

func (PasswordCredential) Method() Method { return MethodPassword }
func (PasswordCredential) credential()    {}

// BarcodeCredential is a scanned barcode. Possession is sufficient.
type BarcodeCredential struct {
	Code string
}

func (BarcodeCredential) Method() Method { return MethodBarcode }
func (BarcodeCredential) credential()    {}

// AccountRef is the result of a successful resolution.
type AccountRef struct {
	AccountID string `json:"account_id"`
	Method    Method `json:"method"`
}
