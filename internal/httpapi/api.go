package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"paykiosk.org/internal/auth"
	"paykiosk.org/internal/events"
	"paykiosk.org/internal/ledger"
	"paykiosk.org/internal/obs"
	"paykiosk.org/internal/report"
)

// Reports is served by report.Reporter and report.Cached.
type Reports interface {
	TotalBalance(ctx context.Context) (ledger.Money, error)
	Summary(ctx context.Context) (report.Summary, error)
	Reconcile(ctx context.Context) ([]report.Mismatch, error)
}

// ReadyFunc reports whether backing services are reachable.
type ReadyFunc func(ctx context.Context) error

// Deps are the collaborators the HTTP layer calls into.
type Deps struct {
	Ledger   *ledger.Service
	Resolver *auth.Resolver
	Tokens   *auth.Tokens
	Reports  Reports
	Hub      *events.Hub
	Ready    ReadyFunc
}

// Limits tune the outer middleware.
type Limits struct {
	RatePerSecond  float64
	RateBurst      int
	MaxBodyBytes   int64
	CORSOrigins    []string
	// TrustedProxies may set the client address through X-Forwarded-For.
	TrustedProxies []string
}

func DefaultLimits() Limits {
	return Limits{RatePerSecond: 20, RateBurst: 40, MaxBodyBytes: 1 << 20, CORSOrigins: []string{"*"}}
}

// API: HTTP слой поверх ledger и auth.
type API struct {
	deps    Deps
	limits  Limits
	version string
	router  *mux.Router
}

func New(deps Deps, limits Limits, version string) *API {
	a := &API{deps: deps, limits: limits, version: version, router: mux.NewRouter()}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Use(obs.Instrument)

	// health/ready/info
	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/auth/token", a.issueToken).Methods(http.MethodPost)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(a.authenticate)
	v1.HandleFunc("/me", a.me).Methods(http.MethodGet)

	v1.HandleFunc("/accounts", a.listAccounts).Methods(http.MethodGet)
	v1.HandleFunc("/accounts", a.createAccount).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id}", a.getAccount).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}", a.updateAccount).Methods(http.MethodPatch)
	v1.HandleFunc("/accounts/{id}/balance", a.getBalance).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}/apply", a.apply).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id}/entries", a.listEntries).Methods(http.MethodGet)

	v1.HandleFunc("/accounts/{id}/credentials", a.credentialMethods).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}/credentials/password", a.putPassword).Methods(http.MethodPut)
	v1.HandleFunc("/accounts/{id}/credentials/password", a.deletePassword).Methods(http.MethodDelete)
	v1.HandleFunc("/accounts/{id}/credentials/barcode", a.putBarcode).Methods(http.MethodPut)
	v1.HandleFunc("/accounts/{id}/credentials/barcode", a.deleteBarcode).Methods(http.MethodDelete)

	v1.HandleFunc("/reports/total", a.reportTotal).Methods(http.MethodGet)
	v1.HandleFunc("/reports/summary", a.reportSummary).Methods(http.MethodGet)
	v1.HandleFunc("/reports/reconcile", a.reportReconcile).Methods(http.MethodGet)

	v1.HandleFunc("/events", a.Stream).Methods(http.MethodGet)
}

// Handler returns the router wrapped in the outer middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.limits.MaxBodyBytes)
	h = RateLimit(h, a.limits.RateBurst, a.limits.RatePerSecond)
	h = CORS(h, a.limits.CORSOrigins)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return RealIP(h, a.limits.TrustedProxies)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "kioskd",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.deps.Ready(ctx); err != nil {
			obs.Logger().WarnContext(ctx, "readiness check failed", "error", err.Error())
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "kioskd",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &tooLarge):
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleError maps domain errors to responses. Internal detail is logged, never sent.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid input")
		return
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "credential already in use")
		return
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "credential not found")
		return
	}
	switch ledger.KindOf(err) {
	case ledger.KindNotFound:
		writeError(w, r, http.StatusNotFound, "account not found")
	case ledger.KindLimitExceeded:
		writeError(w, r, http.StatusConflict, "insufficient balance")
	case ledger.KindInvalid:
		writeError(w, r, http.StatusBadRequest, err.Error())
	case ledger.KindConflict, ledger.KindBusy:
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	case ledger.KindCanceled:
		writeError(w, r, http.StatusServiceUnavailable, "request canceled")
	default:
		obs.Logger().ErrorContext(r.Context(), "request failed",
			"request_id", RequestIDFromContext(r.Context()), "error", err.Error())
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
