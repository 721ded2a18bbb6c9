// Package metrics holds the Prometheus collectors shared by the service.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the counters for cache reuse, reviewer calls and notifications.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CacheHits          *prometheus.CounterVec // hits by cache kind
	CacheMisses        *prometheus.CounterVec // misses by cache kind
	ReviewerCalls      *prometheus.CounterVec // calls by provider and outcome
	NotificationsTotal *prometheus.CounterVec // deliveries by channel and outcome
	RequestTransitions *prometheus.CounterVec // transitions by content kind and target status
}

// NewMetrics creates the collectors and registers them with registry.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safetunes_moderation_cache_hits_total",
				Help: "Moderation cache hits by cache kind",
			},
			[]string{"kind"}, // song, album, lyrics, search, recommendation
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safetunes_moderation_cache_misses_total",
				Help: "Moderation cache misses by cache kind",
			},
			[]string{"kind"},
		),
		ReviewerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safetunes_reviewer_calls_total",
				Help: "AI reviewer calls by provider and outcome",
			},
			[]string{"provider", "outcome"}, // outcome: success, error, parse_error
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safetunes_notifications_total",
				Help: "Notification deliveries by channel and outcome",
			},
			[]string{"channel", "outcome"}, // outcome: sent, failed, dropped, deduplicated
		),
		RequestTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safetunes_request_transitions_total",
				Help: "Request state transitions by content kind and resulting status",
			},
			[]string{"kind", "status"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.CacheHits, m.CacheMisses, m.ReviewerCalls, m.NotificationsTotal, m.RequestTransitions,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) CacheHit(kind string) {
	if m != nil {
		m.CacheHits.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) CacheMiss(kind string) {
	if m != nil {
		m.CacheMisses.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ReviewerCall(provider, outcome string) {
	if m != nil {
		m.ReviewerCalls.WithLabelValues(provider, outcome).Inc()
	}
}

func (m *Metrics) Notification(channel, outcome string) {
	if m != nil {
		m.NotificationsTotal.WithLabelValues(channel, outcome).Inc()
	}
}

func (m *Metrics) Transition(kind, status string) {
	if m != nil {
		m.RequestTransitions.WithLabelValues(kind, status).Inc()
	}
}
