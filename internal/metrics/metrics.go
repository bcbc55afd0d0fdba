package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for mudkeep
var (
	// SessionsActive tracks currently open client sessions
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mudkeep_sessions_active",
			Help: "Number of currently open client sessions",
		},
	)

	// SessionsTotal counts accepted client connections
	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mudkeep_sessions_total",
			Help: "Total number of accepted client connections",
		},
	)

	// SessionsClosed counts destroyed sessions by reason
	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mudkeep_sessions_closed_total",
			Help: "Total number of destroyed sessions by reason",
		},
		[]string{"reason"}, // labels: client_eof, booted, stale, no_credentials, shutdown
	)

	// BackendOnline reports whether the heartbeat connection is up
	BackendOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mudkeep_backend_online",
			Help: "1 when the heartbeat connection to the backend is established",
		},
	)

	// FailoversTotal counts failover teardowns
	FailoversTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mudkeep_failovers_total",
			Help: "Total number of failover teardowns",
		},
	)

	// ReconnectsTotal counts successful backend reconnects with credential replay
	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mudkeep_reconnects_total",
			Help: "Total number of successful backend session reconnects",
		},
	)

	// LinesForwarded counts proxied lines by direction
	LinesForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mudkeep_lines_forwarded_total",
			Help: "Total number of lines forwarded by direction",
		},
		[]string{"direction"}, // labels: client_to_backend, backend_to_client
	)

	// LoginsCaptured counts credential pairs captured for replay
	LoginsCaptured = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mudkeep_logins_captured_total",
			Help: "Total number of login credential pairs captured",
		},
	)

	// LinesGagged counts backend lines discarded while reconnecting
	LinesGagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mudkeep_lines_gagged_total",
			Help: "Total number of backend lines suppressed during reconnect",
		},
	)
)

// Helper functions for common operations

// RecordSessionClosed increments the destroyed-session counter for a reason
func RecordSessionClosed(reason string) {
	SessionsClosed.WithLabelValues(reason).Inc()
}

// RecordForwarded increments the forwarded-line counter for a direction
func RecordForwarded(direction string) {
	LinesForwarded.WithLabelValues(direction).Inc()
}

// SetBackendOnline sets the backend online gauge
func SetBackendOnline(online bool) {
	if online {
		BackendOnline.Set(1)
	} else {
		BackendOnline.Set(0)
	}
}
