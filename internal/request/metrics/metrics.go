package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the request workflow module.
// Tracks lifecycle transition counts and decision path duration.
type Metrics struct {
	RequestsCreated   prometheus.Counter
	RequestsSubmitted prometheus.Counter
	Decisions         *prometheus.CounterVec
	ConflictBlocks    prometheus.Counter
	DecideDuration    prometheus.Histogram
}

// New creates a new Metrics instance with all request module metrics registered.
func New() *Metrics {
	return &Metrics{
		RequestsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entitle_requests_created_total",
			Help: "Total number of access requests created",
		}),
		RequestsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entitle_requests_submitted_total",
			Help: "Total number of access requests submitted for review",
		}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "entitle_decisions_total",
			Help: "Total number of approval step decisions by outcome",
		}, []string{"decision"}),
		ConflictBlocks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entitle_sod_hard_blocks_total",
			Help: "Total number of request creations rejected by hard-block conflicts",
		}),
		DecideDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "entitle_decide_duration_seconds",
			Help:    "Duration of Decide operations (approval critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementCreated records a successful request creation.
func (m *Metrics) IncrementCreated() {
	m.RequestsCreated.Inc()
}

// IncrementSubmitted records a successful submission.
func (m *Metrics) IncrementSubmitted() {
	m.RequestsSubmitted.Inc()
}

// IncrementDecision records one step decision by outcome label.
func (m *Metrics) IncrementDecision(decision string) {
	m.Decisions.WithLabelValues(decision).Inc()
}

// IncrementConflictBlock records a creation rejected by a hard-block conflict.
func (m *Metrics) IncrementConflictBlock() {
	m.ConflictBlocks.Inc()
}

// ObserveDecide records the duration of a Decide operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveDecide(start time.Time) {
	m.DecideDuration.Observe(time.Since(start).Seconds())
}
