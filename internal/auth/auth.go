package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "paykiosk"

var errMissingSecret = errors.New("auth secret is not configured")

// Claims represents JWT claims of a kiosk session token.
type Claims struct {
	Method Method `json:"amr"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 session tokens issued after a credential
// resolves. The token names the account only; permissions are looked up per
// request so a demotion takes effect immediately.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// TokenOption configures Tokens.
type TokenOption func(*Tokens)

func WithIssuer(issuer string) TokenOption {
	return func(t *Tokens) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
	}
}

// WithTokenClock overrides time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(t *Tokens) {
		if fn != nil {
			t.now = fn
		}
	}
}

func NewTokens(secret string, ttl time.Duration, opts ...TokenOption) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be greater than zero")
	}
	t := &Tokens{secret: []byte(secret), ttl: ttl, issuer: defaultIssuer, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs a token for ref and returns it with its expiry.
func (t *Tokens) Issue(ref AccountRef) (string, time.Time, error) {
	accountID := strings.TrimSpace(ref.AccountID)
	if accountID == "" {
		return "", time.Time{}, errors.New("account id is required")
	}
	now := t.now().UTC()
	exp := now.Add(t.ttl)
	claims := Claims{
		Method: ref.Method,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies the token signature and required claims.
func (t *Tokens) Parse(token string) (AccountRef, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AccountRef{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5*time.Second),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return AccountRef{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return AccountRef{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return AccountRef{}, ErrInvalidToken
	}
	switch claims.Method {
	case MethodPassword, MethodBarcode:
	default:
		return AccountRef{}, ErrInvalidToken
	}
	return AccountRef{AccountID: claims.Subject, Method: claims.Method}, nil
}
