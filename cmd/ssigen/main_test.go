package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dreamware/segshuffle/internal/segment"
)

func TestEncodeDecodeRecord(t *testing.T) {
	payload := []byte{0, 1, 2, 254, 255}
	b := encodeRecord(nil, 3, 70000, payload)

	file, index, got, err := decodeRecord(b)
	require.NoError(t, err)
	assert.Equal(t, 3, file)
	assert.Equal(t, 70000, index)
	assert.Equal(t, payload, got)

	_, _, _, err = decodeRecord(b[:len(b)-2])
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	store := segment.NewMemoryStore()
	opts := genOptions{dir: "data", files: 3, records: 50, size: 8, chunk: 7, seed: 5}

	paths, err := generate(context.Background(), opts, store, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"data/part-000", "data/part-001", "data/part-002"}, paths)
	assert.True(t, store.HasDir("data"))

	for f, p := range paths {
		r, err := store.OpenReader(p)
		require.NoError(t, err)
		assert.Equal(t, int64(50), r.TotalRecords())

		i := 0
		for r.Next() {
			file, index, payload, err := decodeRecord(r.Record())
			require.NoError(t, err)
			assert.Equal(t, f, file)
			assert.Equal(t, i, index)
			assert.Len(t, payload, 8)
			i++
		}
		require.NoError(t, r.Err())
		require.NoError(t, r.Close())
		assert.Equal(t, 50, i)
	}

	data, ok := store.Companion(paths[0])
	require.True(t, ok)
	props, err := segment.DecodeProperties(data)
	require.NoError(t, err)
	assert.Equal(t, "50", props["recordsPerFile"])
	assert.Equal(t, "3", props["files"])
	assert.NotEmpty(t, props["dataset"])

	_, ok = store.Companion(paths[1])
	assert.False(t, ok)
}

func TestGenerateDeterministicPayload(t *testing.T) {
	read := func() []byte {
		store := segment.NewMemoryStore()
		opts := genOptions{dir: "d", files: 1, records: 10, size: 4, chunk: 3, seed: 11}
		paths, err := generate(context.Background(), opts, store, nil)
		require.NoError(t, err)
		r, err := store.OpenReader(paths[0])
		require.NoError(t, err)
		defer r.Close()
		var all []byte
		for r.Next() {
			all = append(all, r.Record()...)
		}
		return all
	}
	assert.True(t, bytes.Equal(read(), read()))
}

func TestGenerateRejectsBadOptions(t *testing.T) {
	_, err := generate(context.Background(), genOptions{dir: "d", files: 0}, segment.NewMemoryStore(), zap.NewNop())
	assert.Error(t, err)

	_, err = generate(context.Background(), genOptions{dir: "d", files: 1, records: 1, chunk: 0}, segment.NewMemoryStore(), zap.NewNop())
	assert.ErrorIs(t, err, segment.ErrInvalidChunkSize)
}

func TestDryRun(t *testing.T) {
	dir := t.TempDir()
	opts := genOptions{dir: filepath.Join(dir, "data"), files: 2, records: 12, size: 5, chunk: 4, seed: 3}

	core, logs := observer.New(zap.InfoLevel)
	stats, err := dryRun(context.Background(), opts, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, int64(24), stats.Records)
	// Indices stay below 128, so every record encodes to the same length.
	assert.Equal(t, int64(24*len(encodeRecord(nil, 1, 11, make([]byte, 5)))), stats.Bytes)

	entries := logs.FilterMessage("dry run").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(24), entries[0].ContextMap()["records"])

	// Nothing reaches the disk.
	_, err = os.Stat(opts.dir)
	assert.True(t, os.IsNotExist(err))
}
