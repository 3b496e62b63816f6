package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.TransactionsLoaded.Add(541909)
	c.CustomersScored.Add(4372)
	c.TrainingRuns.WithLabelValues("stacking").Inc()
	c.TrainingRuns.WithLabelValues("stacking").Inc()
	c.TrainingRuns.WithLabelValues("logistic").Inc()
	c.LastAUC.WithLabelValues("stacking").Set(0.87)

	assert.Equal(t, 541909.0, testutil.ToFloat64(c.TransactionsLoaded))
	assert.Equal(t, 4372.0, testutil.ToFloat64(c.CustomersScored))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.TrainingRuns.WithLabelValues("stacking")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TrainingRuns.WithLabelValues("logistic")))
	assert.Equal(t, 0.87, testutil.ToFloat64(c.LastAUC.WithLabelValues("stacking")))
}

func TestScoringDurationObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ScoringDuration.Observe(0.05)
	c.ScoringDuration.Observe(0.2)

	var m dto.Metric
	require.NoError(t, c.ScoringDuration.Write(&m))
	require.NotNil(t, m.Histogram)
	assert.Equal(t, uint64(2), m.Histogram.GetSampleCount())
	assert.InDelta(t, 0.25, m.Histogram.GetSampleSum(), 1e-9)
}

func TestCollectorDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}
