package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProfilesGenerated counts published profiles by reason (boot, regenerate).
	ProfilesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chameleon",
		Subsystem: "lifecycle",
		Name:      "profiles_generated_total",
		Help:      "Total profiles published, by reason.",
	}, []string{"reason"})

	// InterceptorInits counts interceptor init attempts by interceptor and outcome.
	InterceptorInits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chameleon",
		Subsystem: "orchestrator",
		Name:      "interceptor_inits_total",
		Help:      "Interceptor init attempts by interceptor and outcome.",
	}, []string{"interceptor", "outcome"})

	// OrchestrationState exposes the current state as a one-hot gauge.
	OrchestrationState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chameleon",
		Subsystem: "engine",
		Name:      "state",
		Help:      "Orchestration state (1 for the current state, 0 otherwise).",
	}, []string{"state"})

	// ControlRequests counts control channel requests by action and result.
	ControlRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chameleon",
		Subsystem: "control",
		Name:      "requests_total",
		Help:      "Control channel requests by action and result.",
	}, []string{"action", "result"})
)
