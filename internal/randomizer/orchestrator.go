package randomizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/segshuffle/internal/bucket"
	"github.com/dreamware/segshuffle/internal/segment"
)

// State is a stage of the orchestrator state machine:
//
//	Init → Partitioning → BarrierWait → Shuffling → Finalizing → Done
//
// Failed is reachable from every non-terminal state.
type State string

const (
	StateInit         State = "init"
	StatePartitioning State = "partitioning"
	StateBarrierWait  State = "barrier-wait"
	StateShuffling    State = "shuffling"
	StateFinalizing   State = "finalizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

func (s State) ordinal() float64 {
	switch s {
	case StateInit:
		return 0
	case StatePartitioning:
		return 1
	case StateBarrierWait:
		return 2
	case StateShuffling:
		return 3
	case StateFinalizing:
		return 4
	case StateDone:
		return 5
	default:
		return -1
	}
}

// maxConcurrentCounts bounds how many inputs are opened at once in Init.
const maxConcurrentCounts = 8

// ErrAlreadyRun is returned when Run is called on a used orchestrator.
var ErrAlreadyRun = errors.New("orchestrator already ran")

// Result summarizes a successful run.
type Result struct {
	RunID           string        // Identifier used in logs and the temp dir name
	TempDir         string        // Directory that held the bucket files
	Buckets         int           // Bucket count N
	Expected        int64         // Sum over inputs of min(cap, count)
	Partitioned     int64         // Records assigned to buckets
	Written         int64         // Records appended to the output
	BucketSizes     []int64       // Records per bucket, by ordinal
	PeakResident    int64         // Largest number of records held in memory
	CompanionCopied bool          // Whether the first input had a companion
	Duration        time.Duration // Wall time of the run
}

// Orchestrator sequences one randomization run: it sizes and creates the
// bucket set, drives the partitioner over all inputs, waits on the barrier,
// drives the shuffler over all buckets, and finalizes the output.
//
// An Orchestrator runs once. State may be queried concurrently with Run.
//
// Failure policy: any error moves the run to StateFailed and is returned
// wrapped with the phase it happened in. Unless KeepTempOnFailure is set,
// the temporary bucket directory and the partial output are removed on a
// best-effort basis; cleanup errors are logged, never returned in place of
// the original cause.
type Orchestrator struct {
	cfg      Config
	store    segment.Store
	logger   *zap.Logger
	progress Progress
	metrics  *Metrics
	runID    func() string

	mu    sync.RWMutex
	state State
	ran   bool
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithProgress sets the progress collaborator. The default is NopProgress.
func WithProgress(p Progress) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.progress = p
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithRunID overrides run id generation, mainly for tests that need a
// predictable temporary directory.
func WithRunID(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.runID = fn
		}
	}
}

// New creates an orchestrator for cfg on store.
func New(cfg Config, store segment.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		logger:   zap.NewNop(),
		progress: NopProgress{},
		runID:    func() string { return uuid.NewString() },
		state:    StateInit,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(logger *zap.Logger, s State) {
	o.mu.Lock()
	from := o.state
	o.state = s
	o.mu.Unlock()

	o.metrics.setPhase(s)
	logger.Debug("state transition", zap.String("from", string(from)), zap.String("to", string(s)))
}

// run holds the resources of one Run so that failure cleanup can reach them.
type run struct {
	logger *zap.Logger
	set    *BucketSet
	out    segment.Writer
}

// Run executes the full randomization. On success the output is complete
// and sealed, its companion is copied from the first input, and the
// temporary directory is gone.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	o.ran = true
	o.mu.Unlock()

	start := time.Now()
	res := &Result{RunID: o.runID()}
	r := &run{logger: o.logger.With(zap.String("run_id", res.RunID))}
	o.metrics.setPhase(StateInit)

	err := o.execute(ctx, r, res)
	o.metrics.finished(err)
	if err != nil {
		phase := o.State()
		o.setState(r.logger, StateFailed)
		o.cleanupAfterFailure(r)
		r.logger.Error("run failed", zap.String("phase", string(phase)), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", phase, err)
	}

	res.Duration = time.Since(start)
	o.setState(r.logger, StateDone)
	r.logger.Info("run complete",
		zap.String("output", segment.DataPath(o.cfg.Output)),
		zap.Int64("records", res.Written),
		zap.Int("buckets", res.Buckets),
		zap.Int64("peak_resident", res.PeakResident),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, res *Result) error {
	cfg := o.cfg

	// Init: validate, size the run, create the buckets and the output.
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	counts, err := o.countInputs(ctx)
	if err != nil {
		return err
	}
	for _, n := range counts {
		res.Expected += cfg.capFor(n)
	}
	res.Buckets = BucketCount(res.Expected, cfg.RecordsPerBucket)
	res.TempDir = cfg.tempDirFor(res.RunID)
	src := NewSource(cfg.Seed)
	r.logger.Info("randomizing",
		zap.Strings("inputs", cfg.Inputs),
		zap.Int64("records", res.Expected),
		zap.Int("buckets", res.Buckets),
		zap.Int64("seed", src.Seed()),
		zap.String("temp_dir", res.TempDir),
	)

	r.set, err = NewBucketSet(o.store, res.TempDir, res.Buckets, cfg.ChunkSize, r.logger)
	if err != nil {
		return err
	}
	r.out, err = o.store.OpenWriter(cfg.Output, cfg.OutputChunkSize)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}

	// Partitioning.
	o.setState(r.logger, StatePartitioning)
	o.progress.Begin(StatePartitioning, "records", res.Expected)
	partitioner := NewPartitioner(o.store, r.set, src, cfg.ReadN, o.progress, o.metrics, r.logger)
	res.Partitioned, err = partitioner.Partition(ctx, cfg.Inputs)
	o.progress.End()
	if err != nil {
		return err
	}
	if res.Partitioned != res.Expected {
		return fmt.Errorf("partitioned %d records, inputs reported %d", res.Partitioned, res.Expected)
	}
	r.logger.Debug("partition complete", zap.Int64("records", res.Partitioned), zap.Uint64("draws", src.Draws()))

	// BarrierWait: every writer is flushed and closed before any read.
	o.setState(r.logger, StateBarrierWait)
	if err := r.set.Seal(); err != nil {
		return fmt.Errorf("seal buckets: %w", err)
	}
	res.BucketSizes = r.set.Sizes()
	if total := r.set.Total(); total != res.Partitioned {
		return fmt.Errorf("buckets hold %d records, partitioned %d", total, res.Partitioned)
	}
	r.logger.Info("buckets sealed",
		zap.Int("buckets", r.set.Len()),
		zap.Int64("largest_bucket", r.set.Largest()),
	)

	// Shuffling.
	o.setState(r.logger, StateShuffling)
	o.progress.Begin(StateShuffling, "buckets", int64(res.Buckets))
	shuffler := NewShuffler(o.store, src, o.progress, o.metrics, r.logger)
	err = shuffler.Shuffle(ctx, r.set, r.out)
	o.progress.End()
	res.PeakResident = shuffler.PeakResident()
	res.Written = shuffler.Written()
	if err != nil {
		return err
	}

	// Finalizing.
	o.setState(r.logger, StateFinalizing)
	if err := r.out.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if res.Written != res.Partitioned {
		return fmt.Errorf("wrote %d records, partitioned %d", res.Written, res.Partitioned)
	}
	res.CompanionCopied, err = o.store.CopyCompanion(cfg.Inputs[0], cfg.Output)
	if err != nil {
		return err
	}
	if !res.CompanionCopied {
		r.logger.Warn("first input has no companion metadata, output has none",
			zap.String("input", segment.CompanionPath(cfg.Inputs[0])))
	}
	if err := r.set.Remove(); err != nil {
		return err
	}
	return nil
}

// countInputs reads each input's record count from its metadata. The
// sources are not consumed; they are reopened by the partitioner.
func (o *Orchestrator) countInputs(ctx context.Context) ([]int64, error) {
	counts := make([]int64, len(o.cfg.Inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCounts)
	for i, in := range o.cfg.Inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := o.store.OpenReader(in)
			if err != nil {
				return fmt.Errorf("input %s: %w", in, err)
			}
			counts[i] = r.TotalRecords()
			return r.Close()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (o *Orchestrator) cleanupAfterFailure(r *run) {
	if o.cfg.KeepTempOnFailure {
		fields := []zap.Field{zap.String("output", segment.DataPath(o.cfg.Output))}
		if r.set != nil {
			readable := 0
			for _, info := range r.set.Infos() {
				if info.State == bucket.StateSealed || info.State == bucket.StateDrained {
					readable++
				}
			}
			fields = append(fields, zap.String("temp_dir", r.set.Dir()), zap.Int("sealed_buckets", readable))
		}
		r.logger.Warn("keeping temporary files after failure", fields...)
		return
	}
	if r.set != nil {
		if err := r.set.Remove(); err != nil {
			r.logger.Warn("could not remove temp dir", zap.String("dir", r.set.Dir()), zap.Error(err))
		}
	}
	// The output writer is abandoned unsealed so that it can never be
	// mistaken for a complete file.
	if r.out != nil {
		if err := o.store.Remove(o.cfg.Output); err != nil {
			r.logger.Warn("could not remove partial output", zap.String("output", o.cfg.Output), zap.Error(err))
		}
	}
}
