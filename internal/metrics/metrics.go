// Package metrics declares the Prometheus collectors of the service and the
// HTTP middleware that feeds the request-level ones.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// the default registry panics on duplicate registration
	once sync.Once

	// HTTPRequestsTotal is labeled with the route pattern, never the raw path.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Number of HTTP requests served.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distributions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPInflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	ShortURLsRegistered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shortener_urls_registered_total",
			Help: "Short URLs successfully registered.",
		},
	)

	// IdentifierCollisions counts generated identifiers rejected by the store
	// as duplicates, by kind.
	IdentifierCollisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortener_identifier_collisions_total",
			Help: "Generated identifiers that collided with an existing row.",
		},
		[]string{"kind"},
	)

	Redirects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortener_redirects_total",
			Help: "Short code resolutions by result.",
		},
		[]string{"result"},
	)

	ClicksFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shortener_clicks_flushed_total",
			Help: "Clicks written to the store.",
		},
	)

	ClicksDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shortener_clicks_dropped_total",
			Help: "Clicks discarded because the queue was full or the flush failed.",
		},
	)
)

// Init registers the collectors with the default registry. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			HTTPInflightRequests,
			ShortURLsRegistered,
			IdentifierCollisions,
			Redirects,
			ClicksFlushed,
			ClicksDropped,
		)
	})
}

// WithMetricsHTTPMiddleware records count, latency and in-flight gauge per route.
func WithMetricsHTTPMiddleware(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPInflightRequests.Inc()
		defer HTTPInflightRequests.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h.ServeHTTP(ww, r)

		route := "UNMATCHED"
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	}

	return http.HandlerFunc(fn)
}
