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
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tollgate",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by method, path, and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tollgate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	EventsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tollgate",
		Name:      "events_ingested_total",
		Help:      "Approval-need events accepted into the ledger, by channel.",
	}, []string{"channel"})

	EventsDeduplicatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tollgate",
		Name:      "events_deduplicated_total",
		Help:      "Inbound events dropped because a pending entry with the same identity key already existed.",
	})

	EventsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tollgate",
		Name:      "events_rejected_total",
		Help:      "Inbound payloads rejected before normalization, by reason.",
	}, []string{"reason"})

	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tollgate",
		Name:      "resolutions_total",
		Help:      "Resolution attempts by decision and outcome (resolved, local_only, stale, error).",
	}, []string{"decision", "outcome"})

	RequestsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tollgate",
		Name:      "requests_expired_total",
		Help:      "Pending requests dropped by the expiry sweeper.",
	})

	SettingsUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tollgate",
		Name:      "settings_updates_total",
		Help:      "Authoritative settings payloads applied, by source (push, command, refresh).",
	}, []string{"source"})

	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tollgate",
		Name:      "pending_requests",
		Help:      "Approval requests currently awaiting a human decision.",
	})
)

// Handler returns an http.Handler that serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware wraps an http.Handler to record request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		duration := time.Since(start).Seconds()

		path := normalizePath(r.URL.Path)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath buckets URL paths to avoid high cardinality.
// It keeps the first two path segments and replaces the rest with a placeholder.
func normalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	switch {
	case p == "/healthz" || p == "/readyz" || p == "/metrics":
		return p
	}
	// For API paths like /v1/requests/req_123/resolve, keep /v1/requests
	segments := 0
	for i := 1; i < len(p); i++ {
		if p[i] == '/' {
			segments++
			if segments >= 2 {
				return p[:i]
			}
		}
	}
	return p
}
