package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"paykiosk.org/internal/auth"
	"paykiosk.org/internal/ledger"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate turns a bearer token into a Principal. The permission comes
// from the stored account on every request, so a demotion applies at once.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="kiosk"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		ref, err := a.deps.Tokens.Parse(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="kiosk", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		acc, err := a.deps.Ledger.Account(r.Context(), ref.AccountID)
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		if err != nil {
			handleError(w, r, err)
			return
		}

		principal := auth.Principal{AccountID: acc.ID, Permission: acc.Permission, Method: ref.Method}
		if info := infoFromContext(r.Context()); info != nil {
			info.accountID = acc.ID
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// principal returns the caller or writes 401.
func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	}
	return p, ok
}

// requirePermission writes 403 unless the caller holds perm.
func requirePermission(w http.ResponseWriter, r *http.Request, perm ledger.Permission) (auth.Principal, bool) {
	p, ok := principal(w, r)
	if !ok {
		return p, false
	}
	if !p.Can(perm) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return p, false
	}
	return p, true
}

// requireSelfOr lets the account owner through, or anyone holding perm.
func requireSelfOr(w http.ResponseWriter, r *http.Request, accountID string, perm ledger.Permission) (auth.Principal, bool) {
	p, ok := principal(w, r)
	if !ok {
		return p, false
	}
	if !p.Owns(accountID) && !p.Can(perm) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return p, false
	}
	return p, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
