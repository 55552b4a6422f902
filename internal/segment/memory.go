package segment

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// MemoryStore implements Store with in-memory logical files.
// Uses sync.RWMutex for thread-safe concurrent access.
//
// Writers publish their file on Close, mirroring the visibility rule of
// FileStore. Directories are implicit: RemoveAll drops every file whose
// path lies below the directory.
type MemoryStore struct {
	mu         sync.RWMutex        // Protects files and companions
	files      map[string][]Record // Sealed logical files
	companions map[string][]byte   // Companion metadata per basename
	dirs       map[string]bool     // Directories created with MkdirAll
}

var _ Store = (*MemoryStore)(nil)

// StoreStats contains statistics about a MemoryStore
type StoreStats struct {
	Files   int   // Number of sealed logical files
	Records int64 // Total records across files
	Bytes   int64 // Total payload size in bytes
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:      make(map[string][]Record),
		companions: make(map[string][]byte),
		dirs:       make(map[string]bool),
	}
}

// OpenWriter returns a writer that publishes the file on Close.
// An existing file with the same name stays readable until then.
func (m *MemoryStore) OpenWriter(path string, recordsPerChunk int) (Writer, error) {
	if recordsPerChunk <= 0 {
		return nil, ErrInvalidChunkSize
	}
	return &memWriter{store: m, path: cleanBase(path)}, nil
}

// OpenReader returns a reader over a sealed file.
// Returns ErrNotFound if no writer has closed the file yet.
func (m *MemoryStore) OpenReader(path string) (Reader, error) {
	base := cleanBase(path)

	m.mu.RLock()
	recs, ok := m.files[base]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, base)
	}
	return &memReader{recs: recs}, nil
}

// CopyCompanion copies the companion bytes of src to dst.
func (m *MemoryStore) CopyCompanion(src, dst string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.companions[cleanBase(src)]
	if !ok {
		return false, nil
	}
	m.companions[cleanBase(dst)] = slices.Clone(data)
	return true, nil
}

// PutCompanion stores companion metadata for a logical file.
// Makes a copy of the value to prevent external modification.
func (m *MemoryStore) PutCompanion(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.companions[cleanBase(path)] = stored
	return nil
}

// Companion returns a copy of the companion metadata of a logical file.
func (m *MemoryStore) Companion(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.companions[cleanBase(path)]
	if !ok {
		return nil, false
	}
	return slices.Clone(data), true
}

// MkdirAll records the directory.
func (m *MemoryStore) MkdirAll(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[filepath.Clean(dir)] = true
	return nil
}

// Mkdir records dir, failing if dir or anything below it is already
// stored.
func (m *MemoryStore) Mkdir(dir string) error {
	dir = filepath.Clean(dir)
	prefix := dir + string(filepath.Separator)

	m.mu.Lock()
	defer m.mu.Unlock()

	exists := m.dirs[dir]
	for p := range m.files {
		exists = exists || p == dir || strings.HasPrefix(p, prefix)
	}
	for p := range m.companions {
		exists = exists || p == dir || strings.HasPrefix(p, prefix)
	}
	if exists {
		return &fs.PathError{Op: "mkdir", Path: dir, Err: fs.ErrExist}
	}
	m.dirs[dir] = true
	return nil
}

// RemoveAll removes every file and directory at or below dir.
func (m *MemoryStore) RemoveAll(dir string) error {
	dir = filepath.Clean(dir)
	prefix := dir + string(filepath.Separator)

	m.mu.Lock()
	defer m.mu.Unlock()

	below := func(p string) bool { return p == dir || strings.HasPrefix(p, prefix) }
	for p := range m.files {
		if below(p) {
			delete(m.files, p)
		}
	}
	for p := range m.companions {
		if below(p) {
			delete(m.companions, p)
		}
	}
	for p := range m.dirs {
		if below(p) {
			delete(m.dirs, p)
		}
	}
	return nil
}

// Remove deletes a logical file and its companion.
// No error if the file doesn't exist (idempotent)
func (m *MemoryStore) Remove(path string) error {
	base := cleanBase(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, base)
	delete(m.companions, base)
	return nil
}

// HasDir reports whether dir was created and not yet removed.
func (m *MemoryStore) HasDir(dir string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[filepath.Clean(dir)]
}

// List returns the sealed logical files in sorted order.
func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := StoreStats{Files: len(m.files)}
	for _, recs := range m.files {
		stats.Records += int64(len(recs))
		for _, r := range recs {
			stats.Bytes += int64(len(r))
		}
	}
	return stats
}

func (m *MemoryStore) publish(path string, recs []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = recs
}

type memWriter struct {
	store  *MemoryStore
	path   string
	recs   []Record
	count  int64
	closed bool
}

func (w *memWriter) Append(rec Record) error {
	if w.closed {
		return ErrClosed
	}
	cp := make(Record, len(rec))
	copy(cp, rec)
	w.recs = append(w.recs, cp)
	w.count++
	return nil
}

func (w *memWriter) Count() int64 {
	return w.count
}

func (w *memWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.store.publish(w.path, w.recs)
	w.recs = nil
	return nil
}

type memReader struct {
	recs   []Record
	pos    int
	cur    Record
	closed bool
}

func (r *memReader) TotalRecords() int64 {
	return int64(len(r.recs))
}

func (r *memReader) Next() bool {
	if r.closed || r.pos >= len(r.recs) {
		r.cur = nil
		return false
	}
	r.cur = r.recs[r.pos]
	r.pos++
	return true
}

// Record returns a copy so callers cannot modify the stored file.
func (r *memReader) Record() Record {
	if r.cur == nil {
		return nil
	}
	return slices.Clone(r.cur)
}

func (r *memReader) Err() error {
	return nil
}

func (r *memReader) Close() error {
	r.closed = true
	return nil
}
