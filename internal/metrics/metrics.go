// Package metrics holds the Prometheus collectors shared by the session,
// queue, and transport layers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cardroom"

// Metrics is the collector set. One instance is built per process and
// threaded through the constructors that report on it.
type Metrics struct {
	ActiveGames       prometheus.Gauge
	ActiveConnections prometheus.Gauge
	QueueWaiting      *prometheus.GaugeVec

	HandsStarted  prometheus.Counter
	ActionsTotal  *prometheus.CounterVec
	MatchesTotal  *prometheus.CounterVec
	AutoFolds     prometheus.Counter
	WatchdogKills *prometheus.CounterVec

	PersistFailures     prometheus.Counter
	InvariantViolations prometheus.Counter

	HandDuration prometheus.Histogram
}

// New registers the collector set on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveGames: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "games_active",
			Help:      "Sessions currently held in the registry.",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open websocket connections.",
		}),
		QueueWaiting: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_waiting",
			Help:      "Players waiting in the matchmaking queue.",
		}, []string{"variant"}),
		HandsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hands_started_total",
			Help:      "Hands dealt across all sessions.",
		}),
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Player actions applied by the engine.",
		}, []string{"action"}),
		MatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Games created from the matchmaking queue.",
		}, []string{"variant"}),
		AutoFolds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_folds_total",
			Help:      "Turns folded by the deadline enforcer.",
		}),
		WatchdogKills: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_closures_total",
			Help:      "Sessions closed by the idle watchdog.",
		}, []string{"status"}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Persistence jobs dropped after exhausting retries.",
		}),
		InvariantViolations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Engine invariant violations that quarantined a session.",
		}),
		HandDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hand_duration_seconds",
			Help:      "Wall time from first deal to hand completion.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// NewNop returns a collector set on a private registry, for tests and
// callers that do not scrape.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
