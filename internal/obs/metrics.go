package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "portal_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// GuardDecisions counts allow/deny outcomes per guard stage (auth, role, permission).
	GuardDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_guard_decisions_total",
			Help: "Guard decisions by stage and result.",
		},
		[]string{"stage", "result"},
	)

	RateLimitChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_rate_limit_checks_total",
			Help: "Rate limit checks by attempt type and result (allowed, limited, fail_open).",
		},
		[]string{"type", "result"},
	)

	AuditWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_audit_write_failures_total",
			Help: "Audit and security-event writes that failed and were swallowed.",
		},
		[]string{"stream"},
	)

	ElevationTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_elevation_transitions_total",
			Help: "PIM transitions by action (elevate, drop, expire, denied).",
		},
		[]string{"action"},
	)

	RBACFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portal_rbac_override_fallbacks_total",
		Help: "Override lookups that failed and fell back to the static route table.",
	})

	RevocationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_session_revocation_failures_total",
			Help: "Session revocation writes that failed, by side (deactivate, metadata).",
		},
		[]string{"side"},
	)
)

var initOnce sync.Once

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			GuardDecisions, RateLimitChecks, AuditWriteFailures,
			ElevationTransitions, RBACFallbacks, RevocationFailures,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count, latency and in-flight gauge, labelled by
// the chi route pattern so path parameters do not explode cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
