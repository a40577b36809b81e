package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	// BreakerState is 0 while closed, 1 while open and 2 while half-open.
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "configurator",
		Subsystem: "collaborator",
		Name:      "breaker_state",
		Help:      "Current breaker state per collaborator.",
	}, []string{"target"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "configurator",
		Subsystem: "collaborator",
		Name:      "breaker_transitions_total",
		Help:      "Breaker state changes per collaborator.",
	}, []string{"target", "from", "to"})
	// BreakerRejected counts calls refused without reaching the collaborator.
	BreakerRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "configurator",
		Subsystem: "collaborator",
		Name:      "breaker_rejected_total",
		Help:      "Calls short-circuited by an open breaker.",
	}, []string{"target"})
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerRejected)
}
