// Package metrics provides Prometheus instrumentation for the PnL engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReportsTotal counts computed reports, partitioned by operation.
	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_reports_total",
		Help: "Total number of reports computed",
	}, []string{"op"})

	// ReportDuration tracks report computation latency by operation.
	ReportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pnl_report_duration_seconds",
		Help:    "Report computation latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"op"})

	// FetchErrors counts failed upstream fetches by view.
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_fetch_errors_total",
		Help: "Failed query-service fetches",
	}, []string{"op"})

	// BalanceReadFailures counts degraded-to-zero chain balance reads.
	BalanceReadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_balance_read_failures_total",
		Help: "Chain balance reads that degraded to a zero contribution",
	})

	// PollRuns counts poller iterations by result.
	PollRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_poll_runs_total",
		Help: "Poller iterations",
	}, []string{"result"})

	// NotificationsSent counts outbound chat notifications.
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_notifications_sent_total",
		Help: "Chat notifications sent",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pnl_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; route cardinality is low.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
