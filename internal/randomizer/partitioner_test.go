package randomizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/segshuffle/internal/segment"
)

// drainSet seals set and returns the records of every bucket by ordinal.
func drainSet(t *testing.T, store segment.Store, set *BucketSet) [][]string {
	t.Helper()
	require.NoError(t, set.Seal())
	out := make([][]string, set.Len())
	for i := range out {
		recs, err := set.Bucket(i).Load(store)
		require.NoError(t, err)
		for _, r := range recs {
			out[i] = append(out[i], string(r))
		}
	}
	return out
}

func TestPartitionerAssignsEveryRecord(t *testing.T) {
	store := segment.NewMemoryStore()
	a := seedInput(t, store, "in/a", 25)
	b := seedInput(t, store, "in/b", 40)

	set, err := NewBucketSet(store, "tmp", 4, 5, nil)
	require.NoError(t, err)
	src := NewSource(99)

	n, err := NewPartitioner(store, set, src, 0, nil, nil, nil).Partition(context.Background(), []string{"in/a", "in/b"})
	require.NoError(t, err)
	assert.Equal(t, int64(65), n)
	assert.Equal(t, int64(65), set.Total())
	assert.Equal(t, uint64(65), src.Draws())

	// Each record sits in the bucket drawn for it, in input order.
	want := replayAssignments(99, 4, a, b)
	for i, recs := range drainSet(t, store, set) {
		for _, r := range recs {
			assert.Equal(t, want[r], i, "record %s", r)
		}
	}
}

func TestPartitionerCapIsLiteralPrefix(t *testing.T) {
	store := segment.NewMemoryStore()
	a := seedInput(t, store, "in/a", 100)
	b := seedInput(t, store, "in/b", 4)

	set, err := NewBucketSet(store, "tmp", 3, 5, nil)
	require.NoError(t, err)
	src := NewSource(1)

	n, err := NewPartitioner(store, set, src, 10, nil, nil, nil).Partition(context.Background(), []string{"in/a", "in/b"})
	require.NoError(t, err)
	assert.Equal(t, int64(14), n)
	assert.Equal(t, uint64(14), src.Draws(), "no draws for records past the cap")

	var got []string
	for _, recs := range drainSet(t, store, set) {
		got = append(got, recs...)
	}
	var want []string
	for _, r := range append(a[:10:10], b...) {
		want = append(want, string(r))
	}
	assert.ElementsMatch(t, want, got)
}

func TestPartitionerProgress(t *testing.T) {
	store := segment.NewMemoryStore()
	seedInput(t, store, "in/a", 7)

	set, err := NewBucketSet(store, "tmp", 2, 5, nil)
	require.NoError(t, err)

	progress := &recordingProgress{}
	_, err = NewPartitioner(store, set, NewSource(1), 0, progress, nil, nil).Partition(context.Background(), []string{"in/a"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), progress.advanced.Load())
}

func TestPartitionerMissingInput(t *testing.T) {
	store := segment.NewMemoryStore()
	set, err := NewBucketSet(store, "tmp", 1, 5, nil)
	require.NoError(t, err)

	_, err = NewPartitioner(store, set, NewSource(1), 0, nil, nil, nil).Partition(context.Background(), []string{"in/missing"})
	assert.ErrorIs(t, err, segment.ErrNotFound)
	assert.Contains(t, err.Error(), "in/missing")
}

func TestPartitionerCancelled(t *testing.T) {
	store := segment.NewMemoryStore()
	seedInput(t, store, "in/a", 10)
	set, err := NewBucketSet(store, "tmp", 1, 5, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := NewPartitioner(store, set, NewSource(1), 0, nil, nil, nil).Partition(ctx, []string{"in/a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}
