package randomizer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// recordingProgress remembers the phases it was told about.
type recordingProgress struct {
	mu       sync.Mutex
	phases   []State
	expected []int64
	ended    int
	advanced atomic.Int64
}

func (p *recordingProgress) Begin(phase State, _ string, expected int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases = append(p.phases, phase)
	p.expected = append(p.expected, expected)
}

func (p *recordingProgress) Advance(n int64) {
	p.advanced.Add(n)
}

func (p *recordingProgress) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended++
}

func TestProgressLoggerPhaseSummary(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewProgressLogger(zap.New(core), 0)

	p.Begin(StatePartitioning, "records", 10)
	p.Advance(4)
	p.Advance(6)

	snap := p.Snapshot()
	assert.Equal(t, StatePartitioning, snap.Phase)
	assert.Equal(t, "records", snap.Items)
	assert.Equal(t, int64(10), snap.Done)
	assert.Equal(t, int64(10), snap.Expected)

	p.End()

	require.Equal(t, 1, logs.FilterMessage("phase started").Len())
	finished := logs.FilterMessage("phase finished").All()
	require.Len(t, finished, 1)
	fields := finished[0].ContextMap()
	assert.Equal(t, "partitioning", fields["phase"])
	assert.Equal(t, int64(10), fields["records"])

	// No periodic lines with a zero interval.
	assert.Zero(t, logs.FilterMessage("progress").Len())
}

func TestProgressLoggerBeginResetsCounters(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewProgressLogger(zap.New(core), 0)

	p.Begin(StatePartitioning, "records", 100)
	p.Advance(100)
	p.Begin(StateShuffling, "buckets", 6)
	p.Advance(2)

	snap := p.Snapshot()
	assert.Equal(t, StateShuffling, snap.Phase)
	assert.Equal(t, int64(2), snap.Done)
	assert.Equal(t, int64(6), snap.Expected)

	// The first phase was closed by the second Begin.
	assert.Equal(t, 1, logs.FilterMessage("phase finished").Len())
	p.End()
	assert.Equal(t, 2, logs.FilterMessage("phase finished").Len())
}

func TestProgressLoggerEndWithoutBegin(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewProgressLogger(zap.New(core), time.Millisecond)

	p.End()
	p.End()
	assert.Zero(t, logs.Len())
}

func TestProgressLoggerPeriodicLines(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewProgressLogger(zap.New(core), 5*time.Millisecond)
	p.heapInUse = func() uint64 { return 4096 }

	p.Begin(StatePartitioning, "records", 200)
	p.Advance(50)

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("progress").Len() > 0
	}, time.Second, 5*time.Millisecond)
	p.End()

	line := logs.FilterMessage("progress").All()[0].ContextMap()
	assert.Equal(t, uint64(4096), line["heap_in_use_bytes"])
	assert.Equal(t, int64(200), line["expected"])
	assert.InDelta(t, 25.0, line["percent"], 0.001)

	// The ticker stops with End.
	n := logs.FilterMessage("progress").Len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, logs.FilterMessage("progress").Len())
}
