// Package metrics holds the Prometheus collectors for analysis and retention.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

const (
	ModeSync  = "sync"
	ModeAsync = "async"

	OutcomeSuccess      = "success"
	OutcomeInvalidMedia = "invalid_media"
	OutcomeModelError   = "model_error"
	OutcomeValidation   = "validation_error"
	OutcomeInternal     = "internal_error"
)

type Metrics struct {
	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec
	SweepDeleted     prometheus.Counter
	SweepErrors      prometheus.Counter
}

// New registers the collectors on the default registry once per process.
//
// Metrics:
//   - foodlog_analyses_total{mode,outcome}
//   - foodlog_analysis_duration_seconds{mode}
//   - foodlog_sweep_deleted_total
//   - foodlog_sweep_errors_total
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			AnalysesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "foodlog_analyses_total",
					Help: "Total number of meal analyses by mode and outcome",
				},
				[]string{"mode", "outcome"},
			),
			AnalysisDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "foodlog_analysis_duration_seconds",
					Help:    "Duration of the analysis pipeline in seconds",
					Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
				},
				[]string{"mode"},
			),
			SweepDeleted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "foodlog_sweep_deleted_total",
				Help: "Total number of expired analysis media removed by the retention sweep",
			}),
			SweepErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "foodlog_sweep_errors_total",
				Help: "Total number of retention sweep deletion failures",
			}),
		}
	})
	return globalMetrics
}

func (m *Metrics) ObserveAnalysis(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(mode, outcome).Inc()
	m.AnalysisDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveSweep(deleted, failed int) {
	if m == nil {
		return
	}
	m.SweepDeleted.Add(float64(deleted))
	m.SweepErrors.Add(float64(failed))
}
