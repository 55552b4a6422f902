package segment

import (
	"errors"
	"path/filepath"
	"strings"
)

const (
	// DataExt is the extension of the chunked record file.
	DataExt = ".ssi"
	// CompanionExt is the extension of the companion metadata file.
	CompanionExt = ".ssip"
)

var (
	// ErrNotFound is returned when a logical segment file doesn't exist
	// or has not been closed by its writer yet.
	ErrNotFound = errors.New("segment not found")

	// ErrCorrupt is returned when a chunk or trailer fails validation.
	ErrCorrupt = errors.New("segment corrupt")

	// ErrClosed is returned by operations on a closed writer or reader.
	ErrClosed = errors.New("segment closed")

	// ErrInvalidChunkSize is returned when a writer is opened with a
	// non-positive records-per-chunk value.
	ErrInvalidChunkSize = errors.New("records per chunk must be positive")
)

// Record is an opaque, schema-defined binary payload.
// The store never inspects it; it only copies and counts.
type Record []byte

// Writer appends records to a logical segment file.
// Records become readable only after Close returns successfully.
type Writer interface {
	// Append adds one record. The record is copied, so the caller may
	// reuse its buffer.
	Append(rec Record) error

	// Count returns the number of records appended so far.
	Count() int64

	// Close flushes buffered records and seals the file.
	// Calling Close more than once is a no-op.
	Close() error
}

// Reader is a lazy, finite, forward-only sequence of records.
// It is not restartable; open a new Reader to iterate again.
//
//	r, err := store.OpenReader("data/sample")
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	for r.Next() {
//	    consume(r.Record())
//	}
//	return r.Err()
type Reader interface {
	// TotalRecords reports the record count stored in the file metadata
	// without materializing the sequence.
	TotalRecords() int64

	// Next advances to the next record. It returns false at the end of
	// the sequence or on error; check Err afterwards.
	Next() bool

	// Record returns the current record. The returned slice stays valid
	// after subsequent calls to Next.
	Record() Record

	// Err returns the first error encountered while iterating.
	Err() error

	// Close releases the underlying resources.
	Close() error
}

// Store opens writers and readers on logical segment files and manages
// the directories and companion files that surround them.
// Paths are basenames: a trailing .ssi or .ssip is ignored.
type Store interface {
	// OpenWriter creates (or truncates) a logical file.
	OpenWriter(path string, recordsPerChunk int) (Writer, error)

	// OpenReader opens a sealed logical file for iteration.
	// Returns ErrNotFound if the file doesn't exist.
	OpenReader(path string) (Reader, error)

	// CopyCompanion copies the companion metadata of src to dst byte for
	// byte. It reports false without error when src has no companion.
	CopyCompanion(src, dst string) (bool, error)

	// PutCompanion writes the companion metadata of a logical file,
	// replacing any existing one.
	PutCompanion(path string, data []byte) error

	// MkdirAll creates a directory and its parents.
	MkdirAll(dir string) error

	// Mkdir creates a single directory whose parent exists. It fails with
	// an error matching fs.ErrExist if anything is already stored at dir.
	Mkdir(dir string) error

	// RemoveAll removes a directory and everything stored below it.
	// No error if the directory doesn't exist.
	RemoveAll(dir string) error

	// Remove deletes a logical file and its companion.
	// No error if the file doesn't exist (idempotent).
	Remove(path string) error
}

// Basename strips the segment extensions from a path, so that
// "out/sample.ssi", "out/sample.ssip" and "out/sample" all name the same
// logical file.
func Basename(path string) string {
	for _, ext := range []string{DataExt, CompanionExt} {
		if strings.HasSuffix(path, ext) {
			return strings.TrimSuffix(path, ext)
		}
	}
	return path
}

// DataPath returns the path of the record file for a logical file.
func DataPath(path string) string {
	return Basename(path) + DataExt
}

// CompanionPath returns the path of the companion file for a logical file.
func CompanionPath(path string) string {
	return Basename(path) + CompanionExt
}

func cleanBase(path string) string {
	return filepath.Clean(Basename(path))
}
