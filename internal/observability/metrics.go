package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/querygate/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records the outcome of an invocation on a private registry.
// There is no scrape endpoint; the registry is written once as a
// textfile-collector file before the process exits.
type Metrics struct {
	registry     *prometheus.Registry
	invocations  *prometheus.CounterVec
	workDuration prometheus.Histogram
}

// NewMetrics creates the querygate metric set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querygate_invocations_total",
				Help: "Total number of invocations by outcome.",
			},
			[]string{"outcome"},
		),
		workDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "querygate_work_duration_seconds",
				Help:    "Time spent waiting on the query engine.",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),
	}
	m.registry.MustRegister(m.invocations, m.workDuration)
	// Pre-create every outcome so the file always lists all of them.
	for _, o := range models.Outcomes {
		m.invocations.WithLabelValues(string(o))
	}
	return m
}

// Observe records an invocation outcome and, for outcomes that raced the
// deadline, how long the supervisor waited.
func (m *Metrics) Observe(outcome models.Outcome, waited time.Duration) {
	m.invocations.WithLabelValues(string(outcome)).Inc()
	if outcome == models.OutcomeCompleted || outcome == models.OutcomeTimedOut {
		m.workDuration.Observe(waited.Seconds())
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteFile writes the metrics in Prometheus text format to path.
func (m *Metrics) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
