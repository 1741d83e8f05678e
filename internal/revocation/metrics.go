package revocation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the expiration sweep.
type Metrics struct {
	Scans   prometheus.Counter
	Revoked prometheus.Counter
	Failed  prometheus.Counter
}

// NewMetrics creates a Metrics instance with all sweep metrics registered.
func NewMetrics() *Metrics {
	return &Metrics{
		Scans: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entitle_revocation_scans_total",
			Help: "Total number of expiration sweeps executed",
		}),
		Revoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entitle_revocations_total",
			Help: "Total number of requests expired by the sweep",
		}),
		Failed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entitle_revocation_failures_total",
			Help: "Total number of rows the sweep failed to expire",
		}),
	}
}

// ObserveScan records the outcome of one sweep.
func (m *Metrics) ObserveScan(result ScanResult) {
	m.Scans.Inc()
	m.Revoked.Add(float64(result.Revoked))
	m.Failed.Add(float64(result.Failed))
}
