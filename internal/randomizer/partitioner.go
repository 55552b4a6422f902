package randomizer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/segshuffle/internal/segment"
)

// cancelCheckEvery is how many records are processed between context checks.
const cancelCheckEvery = 1024

// Partitioner streams input sources into a BucketSet, drawing one bucket
// ordinal per record from the shared Source.
type Partitioner struct {
	store    segment.Store
	set      *BucketSet
	src      *Source
	readN    int64
	progress Progress
	metrics  *Metrics
	logger   *zap.Logger
}

// NewPartitioner wires a partitioner. readN caps the records read from each
// source; zero means no cap. progress, metrics and logger may be nil.
func NewPartitioner(store segment.Store, set *BucketSet, src *Source, readN int64, progress Progress, metrics *Metrics, logger *zap.Logger) *Partitioner {
	if progress == nil {
		progress = NopProgress{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Partitioner{
		store:    store,
		set:      set,
		src:      src,
		readN:    readN,
		progress: progress,
		metrics:  metrics,
		logger:   logger,
	}
}

// Partition reads every input in order and appends each record to a
// uniformly drawn bucket. Inputs are opened one at a time and closed before
// the next is opened. It returns the number of records partitioned, which
// is also the number returned on error up to the failing record.
func (p *Partitioner) Partition(ctx context.Context, inputs []string) (int64, error) {
	var total int64
	for _, in := range inputs {
		n, err := p.partitionSource(ctx, in)
		total += n
		if err != nil {
			return total, fmt.Errorf("partition %s: %w", in, err)
		}
		p.logger.Debug("source partitioned", zap.String("input", in), zap.Int64("records", n))
	}
	return total, nil
}

// partitionSource handles one input. The cap is a literal early stop: the
// first readN records in the source's own order are used and nothing after
// them is read or drawn for.
func (p *Partitioner) partitionSource(ctx context.Context, path string) (int64, error) {
	r, err := p.store.OpenReader(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := p.set.Len()
	var count int64
	pending := 0
	flush := func() {
		p.metrics.partitioned(pending)
		pending = 0
	}
	defer flush()

	for p.readN == 0 || count < p.readN {
		if count%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return count, err
			}
		}
		if !r.Next() {
			break
		}
		if err := p.set.Append(p.src.Intn(n), r.Record()); err != nil {
			return count, err
		}
		count++
		pending++
		p.progress.Advance(1)
		if pending == cancelCheckEvery {
			flush()
		}
	}
	if err := r.Err(); err != nil {
		return count, err
	}
	return count, nil
}
