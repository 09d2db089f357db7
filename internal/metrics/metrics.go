// Package metrics exposes Prometheus collectors for the fetchqueue service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/fetchqueue/internal/crawler"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the API request collectors on the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// StatsFunc reports a snapshot of engine state.
type StatsFunc func() crawler.Stats

var (
	poolSizeDesc    = prometheus.NewDesc("fetchqueue_pool_slots", "Slots created by the resource pool.", nil, nil)
	poolWaitingDesc = prometheus.NewDesc("fetchqueue_pool_waiting", "Admissions waiting for a pool slot.", nil, nil)
	poolIdleDesc    = prometheus.NewDesc("fetchqueue_pool_available", "Idle pool slots.", nil, nil)
	poolCapDesc     = prometheus.NewDesc("fetchqueue_pool_capacity", "Maximum concurrent transport calls.", nil, nil)
	outstandingDesc = prometheus.NewDesc("fetchqueue_outstanding", "Outstanding units of work.", nil, nil)
	pendingDesc     = prometheus.NewDesc("fetchqueue_limiter_pending", "Requests queued per limiter key.", []string{"limiter"}, nil)
)

// EngineCollector exports read-only engine gauges, read at scrape time.
type EngineCollector struct {
	stats StatsFunc
}

// NewEngineCollector wraps stats.
func NewEngineCollector(stats StatsFunc) *EngineCollector {
	return &EngineCollector{stats: stats}
}

// Describe implements prometheus.Collector.
func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{poolSizeDesc, poolWaitingDesc, poolIdleDesc, poolCapDesc, outstandingDesc, pendingDesc} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(poolSizeDesc, prometheus.GaugeValue, float64(s.PoolSize))
	ch <- prometheus.MustNewConstMetric(poolWaitingDesc, prometheus.GaugeValue, float64(s.Waiting))
	ch <- prometheus.MustNewConstMetric(poolIdleDesc, prometheus.GaugeValue, float64(s.Available))
	ch <- prometheus.MustNewConstMetric(poolCapDesc, prometheus.GaugeValue, float64(s.Capacity))
	ch <- prometheus.MustNewConstMetric(outstandingDesc, prometheus.GaugeValue, float64(s.Outstanding))
	for key, n := range s.Pending {
		ch <- prometheus.MustNewConstMetric(pendingDesc, prometheus.GaugeValue, float64(n), key)
	}
}
