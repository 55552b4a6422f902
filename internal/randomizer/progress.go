// Package randomizer implements the memory-bounded shuffle of segment files.
// This file implements progress reporting for the long-running phases.
package randomizer

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Progress receives incremental progress of a run. The orchestrator calls
// Begin at the start of each long phase, Advance as items complete, and End
// when the phase finishes (successfully or not).
type Progress interface {
	Begin(phase State, itemsName string, expected int64)
	Advance(n int64)
	End()
}

// NopProgress discards all progress.
type NopProgress struct{}

func (NopProgress) Begin(State, string, int64) {}
func (NopProgress) Advance(int64)              {}
func (NopProgress) End()                       {}

// ProgressSnapshot is a point-in-time view of the current phase.
type ProgressSnapshot struct {
	Phase    State         // Phase being reported
	Items    string        // What is being counted: "records", "buckets"
	Done     int64         // Items completed so far
	Expected int64         // Items expected in total
	Elapsed  time.Duration // Time since Begin
}

// ProgressLogger periodically logs the progress of the current phase.
// It reports items done against the expected total, the throughput, and
// the heap in use, so that operators can see whether a run is on track to
// fit in memory.
// Thread-safe: Advance may be called from any goroutine.
type ProgressLogger struct {
	logger    *zap.Logger        // Destination of progress lines
	interval  time.Duration      // How often to log while a phase runs
	heapInUse func() uint64      // Heap sampler, replaceable in tests
	done      atomic.Int64       // Items completed in the current phase
	mu        sync.Mutex         // Protects the fields below
	phase     State              // Current phase
	items     string             // Name of the counted items
	expected  int64              // Items expected in the current phase
	started   time.Time          // Begin timestamp
	cancel    context.CancelFunc // Stops the ticker goroutine
	wg        sync.WaitGroup     // Waits for the ticker goroutine
}

// NewProgressLogger creates a progress logger that logs every interval.
// An interval of zero disables periodic lines; phase summaries are still
// logged by End.
//
// Example:
//
//	progress := NewProgressLogger(logger, 10*time.Second)
//	orch := New(cfg, store, WithProgress(progress))
func NewProgressLogger(logger *zap.Logger, interval time.Duration) *ProgressLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressLogger{
		logger:    logger,
		interval:  interval,
		heapInUse: readHeapInUse,
	}
}

// Begin starts reporting a new phase, ending the previous one if needed.
func (p *ProgressLogger) Begin(phase State, itemsName string, expected int64) {
	p.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.phase = phase
	p.items = itemsName
	p.expected = expected
	p.started = time.Now()
	p.done.Store(0)

	p.logger.Info("phase started",
		zap.String("phase", string(phase)),
		zap.String("items", itemsName),
		zap.Int64("expected", expected),
	)

	if p.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx)
}

// Advance records n more completed items.
func (p *ProgressLogger) Advance(n int64) {
	p.done.Add(n)
}

// End stops the ticker and logs a phase summary. Calling End without an
// active phase is a no-op.
func (p *ProgressLogger) End() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	active := p.phase != ""
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		p.wg.Wait()
	}
	if !active {
		return
	}

	snap := p.Snapshot()
	p.logger.Info("phase finished",
		zap.String("phase", string(snap.Phase)),
		zap.Int64(snap.Items, snap.Done),
		zap.Int64("expected", snap.Expected),
		zap.Duration("elapsed", snap.Elapsed),
		zap.Float64("per_second", rate(snap.Done, snap.Elapsed)),
	)

	p.mu.Lock()
	p.phase = ""
	p.mu.Unlock()
}

// Snapshot returns the progress of the current phase.
func (p *ProgressLogger) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	var elapsed time.Duration
	if !p.started.IsZero() {
		elapsed = time.Since(p.started)
	}
	return ProgressSnapshot{
		Phase:    p.phase,
		Items:    p.items,
		Done:     p.done.Load(),
		Expected: p.expected,
		Elapsed:  elapsed,
	}
}

func (p *ProgressLogger) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.logLine()
		case <-ctx.Done():
			return
		}
	}
}

func (p *ProgressLogger) logLine() {
	snap := p.Snapshot()
	fields := []zap.Field{
		zap.String("phase", string(snap.Phase)),
		zap.Int64(snap.Items, snap.Done),
		zap.Int64("expected", snap.Expected),
		zap.Float64("per_second", rate(snap.Done, snap.Elapsed)),
		zap.Uint64("heap_in_use_bytes", p.heapInUse()),
	}
	if snap.Expected > 0 {
		fields = append(fields, zap.Float64("percent", 100*float64(snap.Done)/float64(snap.Expected)))
		if snap.Done > 0 && snap.Done < snap.Expected {
			remaining := time.Duration(float64(snap.Elapsed) * float64(snap.Expected-snap.Done) / float64(snap.Done))
			fields = append(fields, zap.Duration("eta", remaining.Round(time.Second)))
		}
	}
	p.logger.Info("progress", fields...)
}

func rate(done int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(done) / elapsed.Seconds()
}

func readHeapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}
