// Package metrics exposes Prometheus counters for the economy and its
// background workers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "homequest"

type Metrics struct {
	registry *prometheus.Registry

	awards           prometheus.Counter
	levelUps         prometheus.Counter
	purchases        *prometheus.CounterVec
	retentionDeleted prometheus.Counter
	pushSent         *prometheus.CounterVec
	redeliveries     prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		awards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "economy",
			Name:      "awards_total",
			Help:      "Task completions paid out.",
		}),
		levelUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "economy",
			Name:      "level_ups_total",
			Help:      "Level-ups granted by task completions.",
		}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "economy",
			Name:      "purchases_total",
			Help:      "Coupon purchase attempts by result.",
		}, []string{"result"}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "deleted_total",
			Help:      "Feed entries removed by retention.",
		}),
		pushSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "sent_total",
			Help:      "Push notifications sent by result.",
		}, []string{"result"}),
		redeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "redeliveries_total",
			Help:      "Change events that failed delivery and will be retried.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		m.awards,
		m.levelUps,
		m.purchases,
		m.retentionDeleted,
		m.pushSent,
		m.redeliveries,
		m.httpRequests,
		m.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Award(levelUp bool) {
	if m == nil {
		return
	}
	m.awards.Inc()
	if levelUp {
		m.levelUps.Inc()
	}
}

// Purchase records a purchase attempt; result is "ok" or an error kind.
func (m *Metrics) Purchase(result string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(result).Inc()
}

func (m *Metrics) RetentionDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.retentionDeleted.Add(float64(n))
}

// PushSent records one delivery attempt; result is "ok", "expired" or "error".
func (m *Metrics) PushSent(result string) {
	if m == nil {
		return
	}
	m.pushSent.WithLabelValues(result).Inc()
}

func (m *Metrics) Redelivery() {
	if m == nil {
		return
	}
	m.redeliveries.Inc()
}

// Instrument wraps next with request count and duration collection.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// websocket upgrade needs.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
