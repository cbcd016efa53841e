package telemetry

import "github.com/prometheus/client_golang/prometheus"

var ProbesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "probe",
		Name:      "total",
		Help:      "Total number of health probes by resulting state.",
	},
	[]string{"state"},
)

var ProbeDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "registry",
		Subsystem: "probe",
		Name:      "duration_seconds",
		Help:      "Health probe duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"transport"},
)

var BackendCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "registry",
		Subsystem: "backend",
		Name:      "call_duration_seconds",
		Help:      "Backend driver call duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	},
	[]string{"driver", "op"},
)

var EmbeddingsCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "embeddings",
		Name:      "calls_total",
		Help:      "Total embeddings driver calls by provider and outcome.",
	},
	[]string{"provider", "outcome"},
)

// All returns every registry-specific metric for registration against the
// default or a caller-supplied prometheus.Registerer.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ProbesTotal,
		ProbeDuration,
		BackendCallDuration,
		EmbeddingsCallsTotal,
	}
}
