package api

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Middleware wraps a handler. Authentication and idempotency are passed in
// from main so the router has no opinion about how they are backed.
type Middleware = func(http.Handler) http.Handler

// NewRouter wires every route. authn is required; idem may be nil.
func NewRouter(h *Handler, authn Middleware, idem Middleware) *mux.Router {
	r := mux.NewRouter()
	r.Use(Recoverer, instrument)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.Ready).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)

	pr := apiV1.NewRoute().Subrouter()
	pr.Use(authn)
	if idem != nil {
		pr.Use(idem)
	}
	pr.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
	pr.HandleFunc("/wallet", h.Wallet).Methods(http.MethodGet)
	pr.HandleFunc("/transfers", h.CreateTransfer).Methods(http.MethodPost)
	pr.HandleFunc("/payment-references", h.CreatePaymentReference).Methods(http.MethodPost)
	pr.HandleFunc("/payments/qr", h.PayQR).Methods(http.MethodPost)
	pr.HandleFunc("/transactions", h.ListTransactions).Methods(http.MethodGet)
	pr.HandleFunc("/transactions/{id}", h.GetTransaction).Methods(http.MethodGet)
	pr.HandleFunc("/offline-intents", h.CreateOfflineIntent).Methods(http.MethodPost)
	pr.HandleFunc("/offline-intents", h.ListOfflineIntents).Methods(http.MethodGet)
	pr.HandleFunc("/offline-intents/sync", h.SyncOfflineIntents).Methods(http.MethodPost)

	return r
}

// Recoverer turns a handler panic into a 500.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic: %v\n%s", rec, debug.Stack())
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := "unmatched"
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}
