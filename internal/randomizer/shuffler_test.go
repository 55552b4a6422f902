package randomizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/segshuffle/internal/bucket"
	"github.com/dreamware/segshuffle/internal/segment"
)

// fillSet creates a set whose bucket i holds sizes[i] records "b<i>-<j>".
func fillSet(t *testing.T, store segment.Store, sizes ...int) *BucketSet {
	t.Helper()
	set, err := NewBucketSet(store, "tmp", len(sizes), 2, nil)
	require.NoError(t, err)
	for i, n := range sizes {
		for j := 0; j < n; j++ {
			require.NoError(t, set.Append(i, segment.Record(fmt.Sprintf("b%d-%d", i, j))))
		}
	}
	return set
}

func TestShufflerRequiresSealedSet(t *testing.T) {
	store := segment.NewMemoryStore()
	set := fillSet(t, store, 2)
	out, err := store.OpenWriter("out", 4)
	require.NoError(t, err)

	err = NewShuffler(store, NewSource(1), nil, nil, nil).Shuffle(context.Background(), set, out)
	assert.ErrorContains(t, err, "not sealed")
}

func TestShufflerBucketOrder(t *testing.T) {
	store := segment.NewMemoryStore()
	set := fillSet(t, store, 3, 0, 5, 1)
	require.NoError(t, set.Seal())

	out, err := store.OpenWriter("out", 4)
	require.NoError(t, err)
	progress := &recordingProgress{}
	sh := NewShuffler(store, NewSource(5), progress, nil, nil)
	require.NoError(t, sh.Shuffle(context.Background(), set, out))
	require.NoError(t, out.Close())

	got := readOutput(t, store, "out")
	require.Len(t, got, 9)

	// Buckets are emitted whole and in ordinal order.
	prefixes := make([]string, len(got))
	for i, r := range got {
		prefixes[i] = r[:strings.Index(r, "-")]
	}
	assert.Equal(t, []string{"b0", "b0", "b0", "b2", "b2", "b2", "b2", "b2", "b3"}, prefixes)
	assert.ElementsMatch(t, []string{"b0-0", "b0-1", "b0-2"}, got[:3])
	assert.ElementsMatch(t, []string{"b2-0", "b2-1", "b2-2", "b2-3", "b2-4"}, got[3:8])

	assert.Equal(t, int64(5), sh.PeakResident())
	assert.Equal(t, int64(9), sh.Written())
	assert.Equal(t, int64(4), progress.advanced.Load())
	for _, info := range set.Infos() {
		assert.Equal(t, bucket.StateDrained, info.State)
	}
}

func TestShufflerOutputFailure(t *testing.T) {
	store := newFaultyStore()
	boom := errors.New("write failed")
	store.appendErr = func(path string, n int64) error {
		if path == "out" && n == 2 {
			return boom
		}
		return nil
	}
	set := fillSet(t, store, 4)
	require.NoError(t, set.Seal())
	out, err := store.OpenWriter("out", 4)
	require.NoError(t, err)

	err = NewShuffler(store, NewSource(1), nil, nil, nil).Shuffle(context.Background(), set, out)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bucket 0")
}

func TestShufflerCancelled(t *testing.T) {
	store := segment.NewMemoryStore()
	set := fillSet(t, store, 2, 2)
	require.NoError(t, set.Seal())
	out, err := store.OpenWriter("out", 4)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sh := NewShuffler(store, NewSource(1), nil, nil, nil)
	assert.ErrorIs(t, sh.Shuffle(ctx, set, out), context.Canceled)
	assert.Zero(t, sh.Written())
}
