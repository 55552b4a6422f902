package randomizer

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.partitioned(3)
	m.shuffled(3)
	m.setPhase(StateShuffling)
	m.finished(nil)
}

func TestMetricsSuccessfulRun(t *testing.T) {
	store := newFaultyStore()
	seedInput(t, store, "in/a", 5)
	seedInput(t, store, "in/b", 7)

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	cfg := testConfig("in/a", "in/b")
	cfg.RecordsPerBucket = 4
	_, err := New(cfg, store, WithMetrics(m)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12.0, testutil.ToFloat64(m.recordsPartitioned))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.recordsWritten))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.bucketsShuffled))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.phase))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("succeeded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runs.WithLabelValues("failed")))

	count, err := testutil.GatherAndCount(reg, "segshuffle_bucket_records")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetricsFailedRun(t *testing.T) {
	store := newFaultyStore()
	seedInput(t, store, "in/a", 5)
	store.appendErr = func(path string, n int64) error {
		if path == "out/shuffled" {
			return errors.New("no space")
		}
		return nil
	}

	m := NewMetrics(prometheus.NewRegistry())
	_, err := New(testConfig("in/a"), store, WithMetrics(m)).Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.recordsPartitioned))
	assert.Equal(t, -1.0, testutil.ToFloat64(m.phase))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("failed")))
}
