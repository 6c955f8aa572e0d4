package dispatch

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type dispatchMetrics struct {
	mentions      *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	responses     prometheus.Counter
}

var (
	dispatchMetricsOnce sync.Once
	dispatchMetricsInst *dispatchMetrics
)

func globalDispatchMetrics() *dispatchMetrics {
	dispatchMetricsOnce.Do(func() {
		dispatchMetricsInst = newDispatchMetrics()
	})
	return dispatchMetricsInst
}

func newDispatchMetrics() *dispatchMetrics {
	return &dispatchMetrics{
		mentions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketbot",
			Subsystem: "dispatch",
			Name:      "mentions_total",
			Help:      "Ticket mentions seen in chat, labeled by outcome",
		}, []string{"outcome"}),
		fetchFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketbot",
			Subsystem: "dispatch",
			Name:      "fetch_failures_total",
			Help:      "Ticket fetches that failed, labeled by reason",
		}, []string{"reason"}),
		fetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ticketbot",
			Subsystem: "dispatch",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of ticket fetches against the tracker",
			Buckets:   prometheus.DefBuckets,
		}),
		responses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketbot",
			Subsystem: "dispatch",
			Name:      "responses_total",
			Help:      "Response batches posted back to chat",
		}),
	}
}

func (m *dispatchMetrics) recordMentions(outcome string, count int) {
	if m == nil || count < 1 {
		return
	}
	m.mentions.WithLabelValues(outcome).Add(float64(count))
}

func (m *dispatchMetrics) recordFetch(started time.Time, reason string) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(time.Since(started).Seconds())
	if reason != "" {
		m.fetchFailures.WithLabelValues(reason).Inc()
	}
}

func (m *dispatchMetrics) recordResponse() {
	if m == nil {
		return
	}
	m.responses.Inc()
}
