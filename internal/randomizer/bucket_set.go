// Package randomizer implements the memory-bounded shuffle of segment files.
// See doc.go for complete package documentation.
package randomizer

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dreamware/segshuffle/internal/bucket"
	"github.com/dreamware/segshuffle/internal/segment"
)

// BucketSet owns the ephemeral per-bucket stores that exist only for the
// duration of a run, serving as the single place where bucket files are
// created, sealed, enumerated and removed.
//
// Architecture:
//
//	┌─────────────────────────────────────┐
//	│            BucketSet                │
//	├─────────────────────────────────────┤
//	│  dir:     <out-dir>/tmp-<run-id>    │
//	│  buckets: [0] [1] ... [N-1]         │
//	│  sealed:  barrier reached?          │
//	├─────────────────────────────────────┤
//	│  record → Intn(N) → bucket → file   │
//	└─────────────────────────────────────┘
//
// Invariants:
//   - N is fixed at creation and never changes
//   - Every bucket writer is opened at creation
//   - No bucket may be loaded until Seal has closed every writer
//
// Thread Safety:
// Buckets serialize their own appends, so a BucketSet may be fed from
// several goroutines. Seal and Remove must not race with appends.
type BucketSet struct {
	// store backs every bucket file.
	store segment.Store

	// dir is the temporary directory holding the bucket files.
	// Removed by Remove at the end of a run.
	dir string

	// buckets is indexed by ordinal.
	buckets []*bucket.Bucket

	// sealed records that the partition/shuffle barrier was reached.
	sealed bool

	logger *zap.Logger
}

// BucketCount returns the number of buckets for total records and a target
// capacity: floor(total/perBucket)+1. The +1 keeps the count at least one
// and biases each bucket to hold at most about perBucket records.
//
// Examples:
//
//	BucketCount(0, 4)  // 1
//	BucketCount(12, 4) // 4
//	BucketCount(11, 4) // 3
func BucketCount(total, perBucket int64) int {
	if perBucket <= 0 {
		return 1
	}
	if total < 0 {
		total = 0
	}
	return int(total/perBucket) + 1
}

// NewBucketSet creates dir and opens n bucket writers inside it.
//
// The parent of dir is created if missing, but dir itself must not exist:
// the set owns everything below it and Remove deletes it wholesale.
// Bucket files are named "bucket<i>" after their ordinal, so the directory
// can be inspected when a run is kept around after a failure.
//
// Parameters:
//   - store: Segment store backing the buckets
//   - dir: Temporary directory, must not exist yet
//   - n: Bucket count (must be > 0)
//   - recordsPerChunk: Chunk size of each bucket writer
//
// Returns:
//   - The open BucketSet
//   - Error if the directory or any writer can't be created; buckets
//     created before the failure are removed together with dir
func NewBucketSet(store segment.Store, dir string, n, recordsPerChunk int, logger *zap.Logger) (*BucketSet, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: bucket count must be positive, got %d", ErrInvalidConfig, n)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := store.MkdirAll(filepath.Dir(dir)); err != nil {
		return nil, fmt.Errorf("create temp dir parent %s: %w", filepath.Dir(dir), err)
	}
	if err := store.Mkdir(dir); err != nil {
		return nil, fmt.Errorf("create temp dir %s: %w", dir, err)
	}

	s := &BucketSet{
		store:   store,
		dir:     dir,
		buckets: make([]*bucket.Bucket, 0, n),
		logger:  logger,
	}
	for i := 0; i < n; i++ {
		b, err := bucket.Create(store, i, s.pathFor(i), recordsPerChunk)
		if err != nil {
			if rmErr := store.RemoveAll(dir); rmErr != nil {
				logger.Warn("could not remove temp dir after failed setup", zap.String("dir", dir), zap.Error(rmErr))
			}
			return nil, err
		}
		s.buckets = append(s.buckets, b)
	}
	logger.Debug("bucket set created", zap.String("dir", dir), zap.Int("buckets", n))
	return s, nil
}

func (s *BucketSet) pathFor(i int) string {
	return filepath.Join(s.dir, fmt.Sprintf("bucket%d", i))
}

// Len returns the bucket count N.
func (s *BucketSet) Len() int {
	return len(s.buckets)
}

// Dir returns the temporary directory holding the bucket files.
func (s *BucketSet) Dir() string {
	return s.dir
}

// Bucket returns the bucket with ordinal i.
func (s *BucketSet) Bucket(i int) *bucket.Bucket {
	return s.buckets[i]
}

// Append writes rec to bucket i.
func (s *BucketSet) Append(i int, rec segment.Record) error {
	if i < 0 || i >= len(s.buckets) {
		return fmt.Errorf("invalid bucket %d, must be in range [0, %d)", i, len(s.buckets))
	}
	return s.buckets[i].Append(rec)
}

// Seal closes every bucket writer. This is the barrier between the
// partition and shuffle phases: it returns only after every writer has been
// flushed and closed, and the shuffle phase must not start if it fails.
//
// All buckets are attempted even if some fail; the errors are joined.
func (s *BucketSet) Seal() error {
	var errs []error
	for _, b := range s.buckets {
		if err := b.Seal(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.sealed = true
	return nil
}

// Sealed reports whether the barrier has been reached.
func (s *BucketSet) Sealed() bool {
	return s.sealed
}

// Sizes returns the number of records appended to each bucket, by ordinal.
func (s *BucketSet) Sizes() []int64 {
	sizes := make([]int64, len(s.buckets))
	for i, b := range s.buckets {
		sizes[i] = b.Len()
	}
	return sizes
}

// Total returns the number of records appended across all buckets.
func (s *BucketSet) Total() int64 {
	var total int64
	for _, b := range s.buckets {
		total += b.Len()
	}
	return total
}

// Largest returns the size of the fullest bucket, which bounds the number
// of records resident during the shuffle phase.
func (s *BucketSet) Largest() int64 {
	var largest int64
	for _, b := range s.buckets {
		largest = max(largest, b.Len())
	}
	return largest
}

// Infos returns a snapshot of every bucket.
func (s *BucketSet) Infos() []bucket.Info {
	infos := make([]bucket.Info, len(s.buckets))
	for i, b := range s.buckets {
		infos[i] = b.Info()
	}
	return infos
}

// Remove deletes every bucket file, then the temporary directory and
// anything else left in it. Open writers are abandoned unflushed.
func (s *BucketSet) Remove() error {
	var errs []error
	for _, b := range s.buckets {
		if err := b.Delete(s.store); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.store.RemoveAll(s.dir); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("remove temp dir %s: %w", s.dir, err)
	}
	s.logger.Debug("bucket set removed", zap.String("dir", s.dir))
	return nil
}
