// Package metrics provides Prometheus instrumentation for the exchange.
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
)

var (
	// OrdersTotal counts submitted orders by side and outcome.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_orders_total",
		Help: "Total number of orders submitted",
	}, []string{"side", "result"})

	// OrderLatency measures matching latency per order.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_order_latency_seconds",
		Help:    "Order matching latency in seconds",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
	}, []string{"side"})

	// TradesTotal counts fills per market.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_trades_total",
		Help: "Total number of trades executed",
	}, []string{"market_id"})

	// MarketVolume tracks cumulative traded contracts per market.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_market_volume_total",
		Help: "Cumulative trade volume in contracts",
	}, []string{"market_id"})

	// MarketNotional tracks cumulative traded value (price × quantity) per market.
	MarketNotional = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_market_notional_total",
		Help: "Cumulative traded value in dollars",
	}, []string{"market_id"})

	// RestingOrders tracks the resting orders in each book.
	RestingOrders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "exchange_resting_orders",
		Help: "Number of resting orders per market",
	}, []string{"market_id"})

	// ActiveMarkets tracks the number of registered markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_active_markets",
		Help: "Number of registered markets",
	})

	// RegisteredPlayers tracks the number of participants.
	RegisteredPlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_registered_players",
		Help: "Number of registered players, admins included",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// PositionLimitRejections counts orders rejected by the position limit.
	PositionLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_position_limit_rejections_total",
		Help: "Orders rejected by the position limit",
	}, []string{"market_id"})

	// JournalErrors counts failed journal writes and reads.
	JournalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_journal_errors_total",
		Help: "Failed trade journal operations",
	}, []string{"op"})

	// EventPublishErrors counts events the stream could not accept.
	EventPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_event_publish_errors_total",
		Help: "Events that failed to publish",
	}, []string{"type"})

	// GamesResolved counts resolved games.
	GamesResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_games_resolved_total",
		Help: "Games resolved against true values",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := RoutePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RoutePattern returns the matched chi route (e.g. /api/v1/markets/{marketID})
// so ids do not explode label cardinality. Unrouted requests report the raw
// path.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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

// Hijack passes through to the underlying writer so WebSocket upgrades
// work behind the middleware.
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
