// Package metrics holds the Prometheus collectors shared by the worker, api and CLI.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zorro_sync_passes_total",
			Help: "Profile sync passes by outcome",
		},
		[]string{"outcome"},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zorro_transitions_total",
			Help: "Lifecycle transitions derived by sync passes",
		},
		[]string{"event_type"},
	)

	NotificationClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zorro_notification_claims_total",
			Help: "Dedup claims by event type and result (claimed or duplicate)",
		},
		[]string{"event_type", "result"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zorro_deliveries_total",
			Help: "Notification send attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	AnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zorro_anomalies_total",
			Help: "Anomalies recorded for operator attention",
		},
		[]string{"kind"},
	)

	SyncPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zorro_sync_pass_duration_seconds",
			Help:    "Duration of one profile sync pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zorro_http_requests_total",
			Help: "HTTP requests by route, method and status code",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zorro_http_request_duration_seconds",
			Help:    "HTTP request duration by route and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SyncPassesTotal,
			TransitionsTotal,
			NotificationClaimsTotal,
			DeliveriesTotal,
			AnomaliesTotal,
			SyncPassDuration,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument records request count and latency under route.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
