package httpapi

import (
	"net/http"
	"strings"
	"time"

	"paykiosk.org/internal/audit"
	"paykiosk.org/internal/auth"
	"paykiosk.org/internal/ledger"
)

type tokenRequest struct {
	Method   auth.Method `json:"method"`
	Username string      `json:"username,omitempty"`
	Password string      `json:"password,omitempty"`
	Code     string      `json:"code,omitempty"`
}

type tokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	AccountID string      `json:"account_id"`
	Method    auth.Method `json:"method"`
}

func (req tokenRequest) credential() (auth.Credential, bool) {
	switch auth.Method(strings.ToLower(string(req.Method))) {
	case auth.MethodPassword:
		return auth.PasswordCredential{Username: req.Username, Password: req.Password}, true
	case auth.MethodBarcode:
		return auth.BarcodeCredential{Code: req.Code}, true
	default:
		return nil, false
	}
}

func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	cred, ok := req.credential()
	if !ok {
		writeError(w, r, http.StatusBadRequest, `method must be "password" or "barcode"`)
		return
	}

	ref, err := a.deps.Resolver.Resolve(r.Context(), cred)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.token.rejected", map[string]any{
			"method": cred.Method(),
			"kind":   ledger.KindOf(err),
		})
		handleError(w, r, err)
		return
	}

	token, exp, err := a.deps.Tokens.Issue(ref)
	if err != nil {
		handleError(w, r, ledger.Internal(err))
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"account_id": ref.AccountID,
		"method":     ref.Method,
		"expires_at": exp.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: exp,
		AccountID: ref.AccountID,
		Method:    ref.Method,
	})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	acc, err := a.deps.Ledger.Account(r.Context(), p.AccountID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}
