// Package metrics exports evaluation counters to Prometheus and sets up
// OpenTelemetry tracing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/signalnine/riskarena/internal/events"
)

// Collector turns evaluation transitions into Prometheus series.
type Collector struct {
	evaluations   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	overallScore  prometheus.Histogram
}

// NewCollector registers the series on reg. A nil reg uses the default
// registerer, which may only happen once per process.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "riskarena_evaluations_total",
			Help: "Evaluation runs by terminal state",
		}, []string{"state"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "riskarena_transitions_total",
			Help: "Evaluation state transitions",
		}, []string{"from", "to"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riskarena_stage_duration_seconds",
			Help:    "Time spent in each evaluation state",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		overallScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskarena_overall_score",
			Help:    "Overall score of completed evaluations",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}

func (c *Collector) Observe(e events.Event) {
	if e.From != "" {
		c.transitions.WithLabelValues(e.From, e.To).Inc()
		c.stageDuration.WithLabelValues(e.From).Observe((time.Duration(e.ElapsedMS) * time.Millisecond).Seconds())
	}
	if e.Terminal {
		c.evaluations.WithLabelValues(e.To).Inc()
	}
	if e.Score != nil {
		c.overallScore.Observe(*e.Score)
	}
}
