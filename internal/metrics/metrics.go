// Package metrics provides Prometheus instrumentation for fundtrack.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	// RefreshRuns counts refresh cycles by result (ok, partial, failed).
	RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundtrack_refresh_runs_total",
		Help: "Total number of price refresh cycles",
	}, []string{"result"})

	// RefreshDuration tracks how long a refresh cycle takes.
	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fundtrack_refresh_duration_seconds",
		Help:    "Price refresh cycle duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// FeedErrors counts failed quote fetches by reason.
	FeedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundtrack_feed_errors_total",
		Help: "Failed price feed requests",
	}, []string{"reason"})

	// StaleFunds tracks funds whose price is older than one refresh interval.
	StaleFunds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundtrack_stale_funds",
		Help: "Number of held funds with a stale price",
	})

	// PortfolioValue is the total current value of all positions.
	PortfolioValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundtrack_portfolio_value",
		Help: "Total current portfolio value",
	})

	// PortfolioDailyGain is today's estimated gain across all positions.
	PortfolioDailyGain = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundtrack_portfolio_daily_gain",
		Help: "Estimated portfolio gain for the current day",
	})

	// Positions tracks the number of positions held.
	Positions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundtrack_positions",
		Help: "Number of positions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundtrack_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundtrack_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fundtrack_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// SetDecimal sets a gauge from a decimal amount.
func SetDecimal(g prometheus.Gauge, v decimal.Decimal) {
	f, _ := v.Float64()
	g.Set(f)
}

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

		// Route pattern, not the raw path, to keep label cardinality bounded.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack passes through to the underlying writer for WebSocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
