package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aimeter",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aimeter",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	tokensAccrued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aimeter",
			Name:      "tokens_accrued_total",
			Help:      "Tokens recorded against user ledgers",
		},
		[]string{"model"},
	)

	costAccrued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aimeter",
			Name:      "cost_accrued_usd_total",
			Help:      "USD cost recorded against user ledgers",
		},
		[]string{"model"},
	)

	budgetRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aimeter",
			Name:      "budget_rejections_total",
			Help:      "Requests refused because the monthly cap was reached",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(tokensAccrued)
	prometheus.MustRegister(costAccrued)
	prometheus.MustRegister(budgetRejections)
}

// ObserveAccrual records a successful metered call.
func ObserveAccrual(model string, tokens int64, cost float64) {
	tokensAccrued.WithLabelValues(model).Add(float64(tokens))
	costAccrued.WithLabelValues(model).Add(cost)
}

// ObserveBudgetRejection counts a request refused at the budget gate.
func ObserveBudgetRejection() {
	budgetRejections.Inc()
}

// Middleware records HTTP request duration and count.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(ww.status)

			// Use chi route pattern for path normalization
			routePattern := chi.RouteContext(r.Context()).RoutePattern()
			path := normalizePath(routePattern)
			method := r.Method

			httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
			httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		})
	}
}

// normalizePath normalizes paths to prevent high cardinality in metrics labels.
func normalizePath(path string) string {
	if path == "" {
		return "unknown"
	}
	return path
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}
