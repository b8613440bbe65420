package httpapi

import (
	"net/http"

	"paykiosk.org/internal/audit"
	"paykiosk.org/internal/ledger"
)

type passwordRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type barcodeRequest struct {
	Code string `json:"code"`
}

// Credentials are managed by the owner or an admin. The account must exist
// before anything is stored for it.
func (a *API) credentialTarget(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := accountID(r)
	if _, ok := requireSelfOr(w, r, id, ledger.PermissionAdmin); !ok {
		return "", false
	}
	if _, err := a.deps.Ledger.Account(r.Context(), id); err != nil {
		handleError(w, r, err)
		return "", false
	}
	return id, true
}

func (a *API) credentialMethods(w http.ResponseWriter, r *http.Request) {
	id, ok := a.credentialTarget(w, r)
	if !ok {
		return
	}
	m, err := a.deps.Resolver.Methods(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) putPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := a.credentialTarget(w, r)
	if !ok {
		return
	}
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Password) > 72 {
		writeError(w, r, http.StatusBadRequest, "password must be at most 72 bytes")
		return
	}
	if err := a.deps.Resolver.RegisterPassword(r.Context(), id, req.Username, req.Password); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.credential.password.set", map[string]any{"account_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deletePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := a.credentialTarget(w, r)
	if !ok {
		return
	}
	if err := a.deps.Resolver.RemovePassword(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.credential.password.remove", map[string]any{"account_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) putBarcode(w http.ResponseWriter, r *http.Request) {
	id, ok := a.credentialTarget(w, r)
	if !ok {
		return
	}
	var req barcodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.deps.Resolver.RegisterBarcode(r.Context(), id, req.Code); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.credential.barcode.set", map[string]any{"account_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteBarcode(w http.ResponseWriter, r *http.Request) {
	id, ok := a.credentialTarget(w, r)
	if !ok {
		return
	}
	if err := a.deps.Resolver.RemoveBarcode(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.credential.barcode.remove", map[string]any{"account_id": id})
	w.WriteHeader(http.StatusNoContent)
}
