package obs

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hmsauth.org/internal/auth"
)

var (
	initOnce sync.Once

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

	authEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Authentication events by type, outcome and reason.",
		},
		[]string{"event", "outcome", "reason"},
	)

	refreshTokensSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_tokens_swept_total",
		Help: "Expired refresh tokens removed by the sweeper.",
	})

	serviceReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hmsauth_ready",
		Help: "1 when every backing store answered the last readiness check.",
	})
)

// Init registers the metrics in the default registry. Repeated calls are no-ops.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, authEventsTotal, refreshTokensSwept, serviceReady)
	})
}

// SetReady records the outcome of the latest readiness check.
func SetReady(ok bool) {
	if ok {
		serviceReady.Set(1)
		return
	}
	serviceReady.Set(0)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" || parts[1] != "users" {
		return raw
	}
	parts[2] = ":id"
	switch {
	case len(parts) == 3:
	case len(parts) == 4 && (parts[3] == "roles" || parts[3] == "enable" || parts[3] == "disable"):
	case len(parts) == 5 && parts[3] == "roles":
		parts[4] = ":role"
	default:
		return raw
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// MetricsSink counts authentication events.
type MetricsSink struct{}

var _ auth.EventSink = MetricsSink{}

func (MetricsSink) Emit(_ context.Context, ev auth.Event) {
	authEventsTotal.WithLabelValues(ev.Type, ev.Outcome, ev.Reason).Inc()
	if ev.Type == auth.EventSweep {
		if removed, ok := ev.Fields["removed"].(int64); ok && removed > 0 {
			refreshTokensSwept.Add(float64(removed))
		}
	}
}
