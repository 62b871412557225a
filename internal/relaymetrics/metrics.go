// Package relaymetrics wires the relay's connection-table counters and
// gauges to Prometheus, grounded on the teacher's sibling go-orchestrator
// service (pkg/metrics/metrics.go) — the only place in the retrieved
// corpus that wires prometheus/client_golang to an actual HTTP handler.
package relaymetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_registered_total",
		Help: "Total number of successful MSG_REGISTER registrations.",
	})

	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_connections_rejected_total",
		Help: "Total number of rejected registrations, by reason.",
	}, []string{"reason"})

	PairingsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_pairings_active",
		Help: "Number of currently paired connection pairs.",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Number of connections currently tracked in the relay's table.",
	})

	BytesForwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bytes_forwarded_total",
		Help: "Total bytes forwarded across all MSG_DATA frames.",
	})

	ConnectionsReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_reaped_total",
		Help: "Total number of connections closed for inactivity by the reaper sweep.",
	})
)

// Handler returns the /metrics HTTP handler for an optional metrics
// listener, the same promhttp.Handler() wiring the teacher uses.
func Handler() http.Handler {
	return promhttp.Handler()
}
