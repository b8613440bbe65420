package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paykiosk.org/internal/ledger"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ledgerApplyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_apply_total",
			Help: "Ledger apply calls by result kind.",
		},
		[]string{"result"},
	)

	ledgerApplyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_apply_duration_seconds",
		Help:    "Ledger apply latency including conflict retries.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	ledgerConflictRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_conflict_retries_total",
		Help: "Units of work retried after a serialization conflict.",
	})

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			ledgerApplyTotal, ledgerApplyDuration, ledgerConflictRetries,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CanonicalPath returns the route template so ids do not explode label cardinality.
func CanonicalPath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Instrument measures RPS, latency and in-flight requests.
// Use it as router middleware so CanonicalPath sees the matched route.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := CanonicalPath(r)
		status := strconv.Itoa(sw.Code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// StatusWriter records the response code.
type StatusWriter struct {
	http.ResponseWriter
	Code  int
	Bytes int
}

func (w *StatusWriter) WriteHeader(code int) {
	w.Code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.Bytes += n
	return n, err
}

// Flush keeps server-sent events working through the wrapper.
func (w *StatusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *StatusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// LedgerMetrics implements ledger.Observer on the shared registry.
type LedgerMetrics struct{}

var _ ledger.Observer = LedgerMetrics{}

func (LedgerMetrics) ObserveApply(kind ledger.Kind, elapsed time.Duration) {
	ledgerApplyTotal.WithLabelValues(string(kind)).Inc()
	ledgerApplyDuration.Observe(elapsed.Seconds())
}

func (LedgerMetrics) ObserveRetry() { ledgerConflictRetries.Inc() }
