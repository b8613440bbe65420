package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"paykiosk.org/internal/audit"
	"paykiosk.org/internal/ledger"
)

// Amounts on the wire are integers in minor units.

type createAccountRequest struct {
	DisplayName string            `json:"display_name"`
	Limit       ledger.Money      `json:"limit"`
	Permission  ledger.Permission `json:"permission"`
}

type updateAccountRequest struct {
	DisplayName *string            `json:"display_name"`
	Limit       *ledger.Money      `json:"limit"`
	Permission  *ledger.Permission `json:"permission"`
}

type applyRequest struct {
	Amount *ledger.Money `json:"amount"`
}

type balanceResponse struct {
	AccountID string       `json:"account_id"`
	Balance   ledger.Money `json:"balance"`
	Limit     ledger.Money `json:"limit"`
	Available ledger.Money `json:"available"`
}

type listEntriesResponse struct {
	Items     []ledger.Entry `json:"items"`
	NextAfter uint64         `json:"next_after,omitempty"`
}

const maxDisplayName = 128

func accountID(r *http.Request) string {
	return strings.TrimSpace(mux.Vars(r)["id"])
}

func (a *API) listAccounts(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, ledger.PermissionAdmin); !ok {
		return
	}
	accs, err := a.deps.Ledger.Accounts(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if accs == nil {
		accs = []ledger.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": accs})
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, ledger.PermissionAdmin); !ok {
		return
	}
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "display_name is required")
		return
	}
	if len(name) > maxDisplayName {
		writeError(w, r, http.StatusBadRequest, "display_name too long")
		return
	}

	acc, err := a.deps.Ledger.CreateAccount(r.Context(), ledger.NewAccount{
		DisplayName: name,
		Limit:       req.Limit,
		Permission:  req.Permission,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "ledger.account.create", map[string]any{
		"account_id": acc.ID,
		"limit":      acc.Limit.String(),
		"permission": acc.Permission.String(),
	})
	w.Header().Set("Location", "/v1/accounts/"+acc.ID)
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	id := accountID(r)
	if _, ok := requireSelfOr(w, r, id, ledger.PermissionMember); !ok {
		return
	}
	acc, err := a.deps.Ledger.Account(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) updateAccount(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, ledger.PermissionAdmin); !ok {
		return
	}
	var req updateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" || len(name) > maxDisplayName {
			writeError(w, r, http.StatusBadRequest, "display_name must be 1-128 characters")
			return
		}
	}

	id := accountID(r)
	acc, err := a.deps.Ledger.UpdateAccount(r.Context(), id, ledger.AccountUpdate{
		DisplayName: req.DisplayName,
		Limit:       req.Limit,
		Permission:  req.Permission,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrLimitExceeded) {
			writeError(w, r, http.StatusConflict, "balance is below the requested limit")
			return
		}
		handleError(w, r, err)
		return
	}

	fields := map[string]any{"account_id": id}
	if req.Limit != nil {
		fields["limit"] = req.Limit.String()
	}
	if req.Permission != nil {
		fields["permission"] = req.Permission.String()
	}
	_ = audit.LogEvent(r.Context(), "ledger.account.update", fields)
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) getBalance(w http.ResponseWriter, r *http.Request) {
	id := accountID(r)
	if _, ok := requireSelfOr(w, r, id, ledger.PermissionMember); !ok {
		return
	}
	acc, err := a.deps.Ledger.Account(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	// Limit is never negative, so Add can only overflow upwards.
	available, err := acc.Balance.Add(acc.Limit)
	if err != nil {
		available = ledger.Money(math.MaxInt64)
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		AccountID: acc.ID,
		Balance:   acc.Balance,
		Limit:     acc.Limit,
		Available: available,
	})
}

// apply: members charge or credit any account; everyone else may only
// charge their own.
func (a *API) apply(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req applyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount == nil {
		writeError(w, r, http.StatusBadRequest, "amount is required")
		return
	}
	id := accountID(r)
	amount := *req.Amount
	if !p.Can(ledger.PermissionMember) && (!p.Owns(id) || amount > 0) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	snap, err := a.deps.Ledger.Apply(r.Context(), id, amount, ledger.WithCashier(p.AccountID))
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ledger.apply", map[string]any{
		"account_id": id,
		"amount":     amount.String(),
		"entry_id":   snap.EntryID,
	})
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) listEntries(w http.ResponseWriter, r *http.Request) {
	id := accountID(r)
	if _, ok := requireSelfOr(w, r, id, ledger.PermissionAdmin); !ok {
		return
	}
	q, err := parseEntryQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	resp := listEntriesResponse{Items: make([]ledger.Entry, 0, min(q.Limit, 64))}
	for e, err := range a.deps.Ledger.Entries(r.Context(), id, q) {
		if err != nil {
			handleError(w, r, err)
			return
		}
		resp.Items = append(resp.Items, e)
	}
	if len(resp.Items) == q.Limit {
		resp.NextAfter = resp.Items[len(resp.Items)-1].Sequence
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseEntryQuery(r *http.Request) (ledger.EntryQuery, error) {
	values := r.URL.Query()
	var q ledger.EntryQuery
	var err error
	if q.Limit, err = parsePositiveInt(values.Get("limit"), 100, 1, 1000); err != nil {
		return q, err
	}
	if raw := strings.TrimSpace(values.Get("after")); raw != "" {
		if q.After, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return q, errors.New("after must be a non-negative integer")
		}
	}
	if q.From, err = parseTime(values.Get("from")); err != nil {
		return q, errors.New("from must be RFC 3339")
	}
	if q.To, err = parseTime(values.Get("to")); err != nil {
		return q, errors.New("to must be RFC 3339")
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return q, errors.New("from must be before to")
	}
	return q, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}
