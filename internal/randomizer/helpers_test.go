package randomizer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/segshuffle/internal/segment"
)

// seedInput writes n records named "<name>-<i>" to a logical file.
func seedInput(t *testing.T, store segment.Store, name string, n int) []segment.Record {
	t.Helper()
	w, err := store.OpenWriter(name, 3)
	require.NoError(t, err)
	recs := make([]segment.Record, n)
	for i := range recs {
		recs[i] = segment.Record(fmt.Sprintf("%s-%d", name, i))
		require.NoError(t, w.Append(recs[i]))
	}
	require.NoError(t, w.Close())
	return recs
}

// readOutput returns every record of a logical file as strings.
func readOutput(t *testing.T, store segment.Store, name string) []string {
	t.Helper()
	r, err := store.OpenReader(name)
	require.NoError(t, err)
	defer r.Close()

	var out []string
	for r.Next() {
		out = append(out, string(r.Record()))
	}
	require.NoError(t, r.Err())
	return out
}

// replayAssignments recomputes the bucket of every record by replaying the
// bucket draws of a run with the given seed.
func replayAssignments(seed int64, n int, inputs ...[]segment.Record) map[string]int {
	src := NewSource(seed)
	assigned := make(map[string]int)
	for _, recs := range inputs {
		for _, r := range recs {
			assigned[string(r)] = src.Intn(n)
		}
	}
	return assigned
}

// faultyStore wraps a MemoryStore and injects errors by path.
type faultyStore struct {
	*segment.MemoryStore
	openWriterErr func(path string) error
	openReaderErr func(path string) error
	appendErr     func(path string, n int64) error
	closeErr      func(path string) error
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: segment.NewMemoryStore()}
}

func (s *faultyStore) OpenWriter(path string, chunk int) (segment.Writer, error) {
	if s.openWriterErr != nil {
		if err := s.openWriterErr(path); err != nil {
			return nil, err
		}
	}
	w, err := s.MemoryStore.OpenWriter(path, chunk)
	if err != nil {
		return nil, err
	}
	return &faultyWriter{Writer: w, path: path, store: s}, nil
}

func (s *faultyStore) OpenReader(path string) (segment.Reader, error) {
	if s.openReaderErr != nil {
		if err := s.openReaderErr(path); err != nil {
			return nil, err
		}
	}
	return s.MemoryStore.OpenReader(path)
}

type faultyWriter struct {
	segment.Writer
	path  string
	store *faultyStore
}

func (w *faultyWriter) Append(rec segment.Record) error {
	if w.store.appendErr != nil {
		if err := w.store.appendErr(w.path, w.Count()); err != nil {
			return err
		}
	}
	return w.Writer.Append(rec)
}

func (w *faultyWriter) Close() error {
	if w.store.closeErr != nil {
		if err := w.store.closeErr(w.path); err != nil {
			return err
		}
	}
	return w.Writer.Close()
}
