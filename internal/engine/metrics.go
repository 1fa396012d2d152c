package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the engine's prometheus instrumentation, adapted from
// the teacher's background.WorkerPoolMetrics Namespace/Subsystem/Name
// registration pattern and generalized from one pool's worker counters
// to the full admission/transport/state-machine surface.
type Metrics struct {
	DedupChecks    *prometheus.CounterVec // result=unique|duplicate
	RateLimitTries *prometheus.CounterVec // result=granted|rejected
	OrderingParks  prometheus.Counter
	OrderingReleases prometheus.Counter
	Transitions    *prometheus.CounterVec // from, to, event
	TerminalOutcomes *prometheus.CounterVec // outcome
	SchedulerTaskLatency prometheus.Histogram
	ActiveMessages prometheus.Gauge
}

// NewMetrics registers the engine's collectors against reg. Passing a
// fresh prometheus.NewRegistry() in tests avoids collisions with the
// global DefaultRegisterer across repeated construction.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DedupChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgflow",
			Subsystem: "dedup",
			Name:      "checks_total",
			Help:      "Deduplication checks by result.",
		}, []string{"result"}),

		RateLimitTries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgflow",
			Subsystem: "rate_limit",
			Name:      "acquire_total",
			Help:      "Rate limiter acquire attempts by result.",
		}, []string{"result"}),

		OrderingParks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "msgflow",
			Subsystem: "ordering",
			Name:      "parked_total",
			Help:      "Messages parked waiting for their turn.",
		}),

		OrderingReleases: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "msgflow",
			Subsystem: "ordering",
			Name:      "released_total",
			Help:      "Messages released by a completion cascade.",
		}),

		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgflow",
			Subsystem: "state_machine",
			Name:      "transitions_total",
			Help:      "State machine transitions by from/to/event.",
		}, []string{"from", "to", "event"}),

		TerminalOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgflow",
			Subsystem: "processor",
			Name:      "outcomes_total",
			Help:      "Messages resolved by outcome.",
		}, []string{"outcome"}),

		SchedulerTaskLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "msgflow",
			Subsystem: "scheduler",
			Name:      "task_latency_seconds",
			Help:      "Latency of scheduler-submitted tasks.",
			Buckets:   prometheus.DefBuckets,
		}),

		ActiveMessages: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "msgflow",
			Subsystem: "processor",
			Name:      "active_messages",
			Help:      "Messages currently tracked by the processor.",
		}),
	}
}

// Listener returns a Listener that records every transition, wiring
// Metrics into a StateMachine the same way a Scheduler attaches.
func (m *Metrics) Listener() Listener {
	return func(msg *Message, from, to State, event Event, _ map[string]interface{}) {
		m.Transitions.WithLabelValues(string(from), string(to), string(event)).Inc()
	}
}
