package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/fetchqueue/internal/progress"
)

// PrometheusSink turns lifecycle events into counters and histograms.
type PrometheusSink struct {
	requests      *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	retries       *prometheus.CounterVec
	drains        prometheus.Counter
	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetchqueue_requests_total",
			Help: "Requests accepted, partitioned by limiter and admission result.",
		}, []string{"limiter", "result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetchqueue_request_outcomes_total",
			Help: "Completed requests partitioned by limiter and result.",
		}, []string{"limiter", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetchqueue_retries_total",
			Help: "Planned retries partitioned by limiter.",
		}, []string{"limiter"}),
		drains: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetchqueue_drains_total",
			Help: "Times the engine became idle.",
		}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetchqueue_fetch_requests_total",
			Help: "Transport completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetchqueue_fetch_bytes_total",
			Help: "Buffered response bytes per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fetchqueue_fetch_duration_seconds",
			Help:    "Transport call duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 15},
		}, []string{"site", "status_class"}),
	}
	for _, collector := range []prometheus.Collector{
		s.requests,
		s.outcomes,
		s.retries,
		s.drains,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	limiter := evt.Limiter
	if limiter == "" {
		limiter = "default"
	}
	switch evt.Stage {
	case progress.StageQueued:
		s.requests.WithLabelValues(limiter, "queued").Inc()
	case progress.StageSkipped:
		s.requests.WithLabelValues(limiter, "skipped").Inc()
	case progress.StageDone:
		s.outcomes.WithLabelValues(limiter, "success").Inc()
	case progress.StageError:
		s.outcomes.WithLabelValues(limiter, "error").Inc()
	case progress.StageRetry:
		s.retries.WithLabelValues(limiter).Inc()
	case progress.StageDrain:
		s.drains.Inc()
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
