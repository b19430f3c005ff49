package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CircuitState tracks the current breaker position (0=closed, 1=open, 2=half-open)
	CircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_circuit_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
	)

	// ConnectionFailures tracks classified connection failures
	ConnectionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_connection_failures_total",
			Help: "Total number of connection failures by error category",
		},
		[]string{"category"},
	)

	// Reconnects tracks successful (re)connections to the gateway
	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_reconnects_total",
			Help: "Total number of successful gateway connections",
		},
	)

	// HealthProbes tracks successful liveness probes
	HealthProbes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_health_probes_total",
			Help: "Total number of successful health probes",
		},
	)

	// HealthProbeFailures tracks failed liveness probes
	HealthProbeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_health_probe_failures_total",
			Help: "Total number of failed health probes",
		},
	)

	// CredentialClears tracks session purges forced by auth/conflict errors
	CredentialClears = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_credential_clears_total",
			Help: "Total number of credential purges",
		},
	)

	// ConnectLatency tracks how long connection attempts take
	ConnectLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_connect_latency_seconds",
			Help:    "Gateway connection attempt latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
