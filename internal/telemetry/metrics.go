// Package telemetry exposes Prometheus instrumentation for the batch
// pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles the pipeline's Prometheus metrics.
type Collector struct {
	TransactionsLoaded prometheus.Counter
	CustomersScored    prometheus.Counter
	TrainingRuns       *prometheus.CounterVec
	ScoringDuration    prometheus.Histogram
	LastAUC            *prometheus.GaugeVec
}

// NewCollector creates and registers the pipeline metrics on the given
// registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		TransactionsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "propensity_transactions_loaded_total",
			Help: "Raw transaction rows loaded into the pipeline.",
		}),
		CustomersScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "propensity_customers_scored_total",
			Help: "Customers scored across all artifacts.",
		}),
		TrainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "propensity_training_runs_total",
			Help: "Completed training runs by model.",
		}, []string{"model"}),
		ScoringDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "propensity_scoring_duration_seconds",
			Help:    "Wall time of batch scoring calls.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		LastAUC: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "propensity_last_roc_auc",
			Help: "ROC-AUC of the most recent evaluation by model.",
		}, []string{"model"}),
	}

	reg.MustRegister(
		c.TransactionsLoaded,
		c.CustomersScored,
		c.TrainingRuns,
		c.ScoringDuration,
		c.LastAUC,
	)
	return c
}
