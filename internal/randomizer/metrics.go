package randomizer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by a run. All methods are
// safe on a nil *Metrics, which disables metrics entirely.
type Metrics struct {
	recordsPartitioned prometheus.Counter
	recordsWritten     prometheus.Counter
	bucketsShuffled    prometheus.Counter
	bucketRecords      prometheus.Histogram
	phase              prometheus.Gauge
	runs               *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// Pass prometheus.DefaultRegisterer to expose them through promhttp.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recordsPartitioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segshuffle_records_partitioned_total",
			Help: "Records assigned to a bucket during the partition phase",
		}),
		recordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segshuffle_records_written_total",
			Help: "Records appended to the output during the shuffle phase",
		}),
		bucketsShuffled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segshuffle_buckets_shuffled_total",
			Help: "Buckets loaded, permuted and appended to the output",
		}),
		bucketRecords: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "segshuffle_bucket_records",
			Help:    "Distribution of records per bucket at shuffle time",
			Buckets: prometheus.ExponentialBuckets(16, 4, 10),
		}),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "segshuffle_phase",
			Help: "Current run phase: 0 init, 1 partitioning, 2 barrier, 3 shuffling, 4 finalizing, 5 done, -1 failed",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segshuffle_runs_total",
			Help: "Completed runs by outcome",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.recordsPartitioned, m.recordsWritten, m.bucketsShuffled, m.bucketRecords, m.phase, m.runs)
	}
	return m
}

func (m *Metrics) partitioned(n int) {
	if m != nil {
		m.recordsPartitioned.Add(float64(n))
	}
}

func (m *Metrics) shuffled(records int) {
	if m != nil {
		m.bucketsShuffled.Inc()
		m.bucketRecords.Observe(float64(records))
		m.recordsWritten.Add(float64(records))
	}
}

func (m *Metrics) setPhase(s State) {
	if m != nil {
		m.phase.Set(s.ordinal())
	}
}

func (m *Metrics) finished(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.runs.WithLabelValues("failed").Inc()
		return
	}
	m.runs.WithLabelValues("succeeded").Inc()
}
