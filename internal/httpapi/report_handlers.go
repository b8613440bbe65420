package httpapi

import (
	"errors"
	"net/http"

	"paykiosk.org/internal/ledger"
)

func (a *API) reportTotal(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, ledger.PermissionAdmin); !ok {
		return
	}
	total, err := a.deps.Reports.TotalBalance(r.Context())
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "no accounts")
		return
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total})
}

func (a *API) reportSummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, ledger.PermissionAdmin); !ok {
		return
	}
	s, err := a.deps.Reports.Summary(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) reportReconcile(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, ledger.PermissionAdmin); !ok {
		return
	}
	mismatches, err := a.deps.Reports.Reconcile(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"consistent": len(mismatches) == 0,
		"mismatches": mismatches,
	})
}
