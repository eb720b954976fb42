// Package metrics exposes Prometheus collectors for the simulation runtime.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors the runtime reports into.
type Metrics struct {
	TicksTotal        prometheus.Counter
	MessagesDelivered prometheus.Counter
	MessagesBlocked   prometheus.Counter
	EventsAppended    *prometheus.CounterVec
	LLMCostUSD        prometheus.Counter
	DispatchTimeouts  prometheus.Counter
	AgentConnections  prometheus.Gauge
	SessionsActive    prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the shared package instance registered with the global
// Prometheus registry. Constructed once so repeated wiring (tests, multiple
// servers in one process) cannot trip duplicate-registration panics.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = MustNew(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// MustNew constructs the collector set against the given registerer. Tests
// pass a fresh registry. A collector that is already registered is reused
// rather than treated as a conflict; any other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vibeforge",
			Name:      "ticks_total",
			Help:      "Number of simulation ticks advanced across all sessions.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vibeforge",
			Name:      "messages_delivered_total",
			Help:      "Number of inter-agent messages delivered.",
		}),
		MessagesBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vibeforge",
			Name:      "messages_blocked_total",
			Help:      "Number of messages blocked by graph validation.",
		}),
		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibeforge",
			Name:      "events_appended_total",
			Help:      "Number of events appended to session logs, by type.",
		}, []string{"event_type"}),
		LLMCostUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vibeforge",
			Name:      "llm_cost_usd_total",
			Help:      "Accumulated LLM spend in USD across all sessions.",
		}),
		DispatchTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vibeforge",
			Name:      "dispatch_timeouts_total",
			Help:      "Number of remote dispatches resolved by the stale sweep.",
		}),
		AgentConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vibeforge",
			Name:      "agent_connections",
			Help:      "Remote agent connections currently registered.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vibeforge",
			Name:      "sessions_active",
			Help:      "Live sessions held in memory.",
		}),
	}

	register := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}

	m.TicksTotal = register(m.TicksTotal).(prometheus.Counter)
	m.MessagesDelivered = register(m.MessagesDelivered).(prometheus.Counter)
	m.MessagesBlocked = register(m.MessagesBlocked).(prometheus.Counter)
	m.EventsAppended = register(m.EventsAppended).(*prometheus.CounterVec)
	m.LLMCostUSD = register(m.LLMCostUSD).(prometheus.Counter)
	m.DispatchTimeouts = register(m.DispatchTimeouts).(prometheus.Counter)
	m.AgentConnections = register(m.AgentConnections).(prometheus.Gauge)
	m.SessionsActive = register(m.SessionsActive).(prometheus.Gauge)

	return m
}
