package randomizer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/segshuffle/internal/segment"
)

// Shuffler drains a sealed BucketSet into the output, one bucket at a time.
//
// Output order is two-tier: buckets are emitted in ascending ordinal order,
// and within a bucket the records follow a fresh uniform permutation. This
// is an approximation of a global shuffle that bounds memory to the largest
// bucket; cross-bucket order is not randomized.
type Shuffler struct {
	store    segment.Store
	src      *Source
	progress Progress
	metrics  *Metrics
	logger   *zap.Logger

	peak    int64
	written int64
}

// NewShuffler wires a shuffler. progress, metrics and logger may be nil.
func NewShuffler(store segment.Store, src *Source, progress Progress, metrics *Metrics, logger *zap.Logger) *Shuffler {
	if progress == nil {
		progress = NopProgress{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shuffler{
		store:    store,
		src:      src,
		progress: progress,
		metrics:  metrics,
		logger:   logger,
	}
}

// Shuffle loads each bucket of set in ordinal order, permutes it in memory
// and appends it to out. The set must be sealed. Only one bucket is
// resident at a time; its slice is released before the next is loaded.
func (s *Shuffler) Shuffle(ctx context.Context, set *BucketSet, out segment.Writer) error {
	if !set.Sealed() {
		return fmt.Errorf("shuffle: bucket set %s is not sealed", set.Dir())
	}
	for i := 0; i < set.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.shuffleBucket(set, i, out); err != nil {
			return err
		}
		s.progress.Advance(1)
	}
	return nil
}

func (s *Shuffler) shuffleBucket(set *BucketSet, i int, out segment.Writer) error {
	recs, err := set.Bucket(i).Load(s.store)
	if err != nil {
		return fmt.Errorf("shuffle: %w", err)
	}
	s.peak = max(s.peak, int64(len(recs)))

	s.src.Permute(len(recs), func(a, b int) {
		recs[a], recs[b] = recs[b], recs[a]
	})

	for _, rec := range recs {
		if err := out.Append(rec); err != nil {
			return fmt.Errorf("shuffle: bucket %d: write output: %w", i, err)
		}
	}
	s.written += int64(len(recs))
	s.metrics.shuffled(len(recs))
	s.logger.Debug("bucket shuffled", zap.Int("bucket", i), zap.Int("records", len(recs)))
	return nil
}

// PeakResident returns the largest number of records held in memory at
// once, which equals the largest bucket shuffled so far.
func (s *Shuffler) PeakResident() int64 {
	return s.peak
}

// Written returns the number of records appended to the output.
func (s *Shuffler) Written() int64 {
	return s.written
}
