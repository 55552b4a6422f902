package bucket

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dreamware/segshuffle/internal/segment"
)

// State represents the lifecycle stage of a bucket
type State string

const (
	// StateOpen means the bucket accepts appends
	StateOpen State = "open"
	// StateSealed means the writer is closed and the bucket may be loaded
	StateSealed State = "sealed"
	// StateDrained means the bucket has been loaded for shuffling
	StateDrained State = "drained"
	// StateDeleted means the backing store has been removed
	StateDeleted State = "deleted"
)

var (
	// ErrNotOpen is returned by Append once the bucket is sealed
	ErrNotOpen = errors.New("bucket is not open for appends")
	// ErrNotSealed is returned by Load unless the bucket is sealed
	ErrNotSealed = errors.New("bucket is not sealed")
)

// Bucket is one temporary partition of the dataset, sized to fit in memory.
// It owns a segment writer during the partition phase and is read back in
// full exactly once during the shuffle phase.
type Bucket struct {
	ID     int            // Bucket ordinal in [0, N)
	Path   string         // Backing logical file
	State  State          // Current lifecycle state
	Stats  *Stats         // Operation statistics
	writer segment.Writer // Live until Seal
	mu     sync.Mutex     // Protects State and writer
}

// Stats tracks operation counts
type Stats struct {
	Appended uint64 // Records appended during partitioning
	Loaded   uint64 // Records loaded during shuffling
}

// Info contains metadata about a bucket
type Info struct {
	ID       int
	Path     string
	State    State
	Appended uint64
	Loaded   uint64
}

// Create opens the backing writer and returns an open bucket.
func Create(store segment.Store, id int, path string, recordsPerChunk int) (*Bucket, error) {
	w, err := store.OpenWriter(path, recordsPerChunk)
	if err != nil {
		return nil, fmt.Errorf("bucket %d: %w", id, err)
	}
	return &Bucket{
		ID:     id,
		Path:   path,
		State:  StateOpen,
		Stats:  &Stats{},
		writer: w,
	}, nil
}

// Append adds a record to the bucket's backing store
// Increments appended counter for statistics
func (b *Bucket) Append(rec segment.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.State != StateOpen {
		return fmt.Errorf("bucket %d (%s): %w", b.ID, b.State, ErrNotOpen)
	}
	if err := b.writer.Append(rec); err != nil {
		return fmt.Errorf("bucket %d: append: %w", b.ID, err)
	}
	atomic.AddUint64(&b.Stats.Appended, 1)
	return nil
}

// Seal flushes and closes the writer, making the bucket readable.
// Sealing an already sealed bucket is a no-op.
func (b *Bucket) Seal() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.State != StateOpen {
		return nil
	}
	err := b.writer.Close()
	b.writer = nil
	if err != nil {
		return fmt.Errorf("bucket %d: seal: %w", b.ID, err)
	}
	b.State = StateSealed
	return nil
}

// Load reads every record of a sealed bucket into memory, in insertion
// order, and closes the reader. The bucket moves to StateDrained.
func (b *Bucket) Load(store segment.Store) ([]segment.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.State != StateSealed {
		return nil, fmt.Errorf("bucket %d (%s): %w", b.ID, b.State, ErrNotSealed)
	}

	r, err := store.OpenReader(b.Path)
	if err != nil {
		return nil, fmt.Errorf("bucket %d: %w", b.ID, err)
	}
	defer r.Close()

	recs := make([]segment.Record, 0, r.TotalRecords())
	for r.Next() {
		recs = append(recs, r.Record())
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("bucket %d: read: %w", b.ID, err)
	}

	atomic.AddUint64(&b.Stats.Loaded, uint64(len(recs)))
	b.State = StateDrained
	return recs, nil
}

// Delete removes the backing store. An open writer is abandoned without
// flushing.
func (b *Bucket) Delete(store segment.Store) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := store.Remove(b.Path); err != nil {
		return fmt.Errorf("bucket %d: delete: %w", b.ID, err)
	}
	b.writer = nil
	b.State = StateDeleted
	return nil
}

// Len returns the number of records appended so far
func (b *Bucket) Len() int64 {
	return int64(atomic.LoadUint64(&b.Stats.Appended))
}

// Info returns metadata about the bucket
func (b *Bucket) Info() Info {
	b.mu.Lock()
	state := b.State
	b.mu.Unlock()

	return Info{
		ID:       b.ID,
		Path:     b.Path,
		State:    state,
		Appended: atomic.LoadUint64(&b.Stats.Appended),
		Loaded:   atomic.LoadUint64(&b.Stats.Loaded),
	}
}
