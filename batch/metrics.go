package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all batch metrics
	Namespace = "x509path"

	// Label names
	LabelResult = "result"
	LabelReason = "reason"

	// Result values
	ResultValid   = "valid"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Metrics holds the collectors updated by a Runner.
type Metrics struct {
	// Validations counts finished targets by result and failure reason.
	Validations *prometheus.CounterVec

	// Duration observes the time spent on one target, building included.
	Duration prometheus.Histogram

	// PathsBuilt observes how many candidate paths were found per target.
	PathsBuilt prometheus.Histogram
}

// NewMetrics creates the batch collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Validations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "validations_total",
				Help:      "Total number of validated targets by result and failure reason",
			},
			[]string{LabelResult, LabelReason},
		),
		Duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "validation_duration_seconds",
				Help:      "Duration of building and validating one target in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		PathsBuilt: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "candidate_paths",
				Help:      "Number of candidate certification paths found per target",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
			},
		),
	}
}

func (m *Metrics) record(r *Result) {
	if m == nil {
		return
	}
	result := ResultValid
	switch {
	case r.Err == nil:
	case r.Reason != "":
		result = ResultInvalid
	default:
		result = ResultError
	}
	m.Validations.WithLabelValues(result, r.Reason).Inc()
	m.Duration.Observe(r.Duration.Seconds())
	m.PathsBuilt.Observe(float64(r.Candidates))
}
