package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outbound (client-side) metrics.
var (
	clientInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "console_client_in_flight_requests",
		Help: "In-flight requests issued through console request clients.",
	}, []string{"client"})

	clientRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_client_requests_total",
			Help: "Requests issued through console request clients.",
		},
		[]string{"client", "method", "code"},
	)

	clientRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "console_client_request_duration_seconds",
			Help:    "Latency of requests issued through console request clients.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"client", "method"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_credential_invalidations_total",
			Help: "Credential rejections seen by request clients, by outcome.",
		},
		[]string{"outcome"},
	)

	sessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_session_transitions_total",
			Help: "Session manager state transitions.",
		},
		[]string{"event"},
	)
)

// Inbound metrics for the development dashboard server.
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
)

var initOnce sync.Once

// Init registers all console metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			clientInFlight, clientRequestsTotal, clientRequestDuration,
			invalidationsTotal, sessionTransitionsTotal,
			httpInFlight, httpRequestsTotal, httpRequestDuration,
		)
	})
}

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ClientRequestStarted marks an outbound request as in flight and returns the
// function that records its completion. code is 0 for transport failures.
func ClientRequestStarted(client, method string) func(code int) {
	start := time.Now()
	clientInFlight.WithLabelValues(client).Inc()
	return func(code int) {
		clientInFlight.WithLabelValues(client).Dec()
		label := "error"
		if code > 0 {
			label = strconv.Itoa(code)
		}
		clientRequestsTotal.WithLabelValues(client, method, label).Inc()
		clientRequestDuration.WithLabelValues(client, method).Observe(time.Since(start).Seconds())
	}
}

// Invalidation counts a credential rejection. outcome is "teardown", "redirect"
// or "ignored".
func Invalidation(outcome string) {
	invalidationsTotal.WithLabelValues(outcome).Inc()
}

// SessionTransition counts a session manager transition.
func SessionTransition(event string) {
	sessionTransitionsTotal.WithLabelValues(event).Inc()
}

// Instrument wraps an inbound handler with RPS/latency/in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath strips query strings and collapses unknown paths so label
// cardinality stays bounded.
func CanonicalPath(raw string) string {
	if raw == "" {
		return "/"
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] == '?' {
			raw = raw[:i]
			break
		}
	}
	switch raw {
	case "/", "/metrics", "/healthz",
		"/auth/login", "/auth/logout", "/auth/me",
		"/auth/totp/setup", "/auth/totp/verify",
		"/organizations/basic":
		return raw
	}
	return "/other"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
