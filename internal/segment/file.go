package segment

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	chunkMagic    = "SSIC"
	trailerMagic  = "SSIE"
	formatVersion = 1

	// trailerSize is total records, chunk count, data length, magic, version.
	trailerSize = 8 + 8 + 8 + 4 + 4

	// recordField is the protobuf field number each record is framed as.
	recordField protowire.Number = 1

	// minRecordSize is a record's smallest framing: one tag byte and one
	// length byte.
	minRecordSize = 2

	// minChunkSize is an empty chunk: magic, two one-byte varints and the
	// checksum.
	minChunkSize = 4 + 1 + 1 + 8

	// maxChunkPayload bounds a single chunk allocation when reading
	// untrusted lengths.
	maxChunkPayload = 1 << 31

	readBufferSize = 64 * 1024
)

// FileStore implements Store on the local filesystem.
//
// A logical file "base" is stored as base.ssi, holding a sequence of
// checksummed chunks followed by a fixed trailer, plus an optional
// base.ssip companion file holding auxiliary metadata.
//
// Writers keep no descriptor open between chunk flushes, so thousands of
// bucket writers can be live at once without exhausting file descriptors.
type FileStore struct{}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store rooted at the process working directory.
func NewFileStore() *FileStore {
	return &FileStore{}
}

// OpenWriter creates or truncates base.ssi. The parent directory must exist.
func (s *FileStore) OpenWriter(path string, recordsPerChunk int) (Writer, error) {
	if recordsPerChunk <= 0 {
		return nil, ErrInvalidChunkSize
	}
	dataPath := DataPath(cleanBase(path))
	f, err := os.Create(dataPath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dataPath, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("create %s: %w", dataPath, err)
	}
	return &fileWriter{
		path:      dataPath,
		chunkSize: recordsPerChunk,
		pending:   make([]Record, 0, recordsPerChunk),
	}, nil
}

// OpenReader opens base.ssi and validates its trailer.
func (s *FileStore) OpenReader(path string) (Reader, error) {
	dataPath := DataPath(cleanBase(path))
	f, err := os.Open(dataPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dataPath)
		}
		return nil, fmt.Errorf("open %s: %w", dataPath, err)
	}

	r, err := newFileReader(f, dataPath)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// CopyCompanion copies src.ssip to dst.ssip.
func (s *FileStore) CopyCompanion(src, dst string) (bool, error) {
	srcPath := CompanionPath(cleanBase(src))
	in, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("open companion %s: %w", srcPath, err)
	}
	defer in.Close()

	dstPath := CompanionPath(cleanBase(dst))
	out, err := os.Create(dstPath)
	if err != nil {
		return false, fmt.Errorf("create companion %s: %w", dstPath, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return false, fmt.Errorf("copy companion %s -> %s: %w", srcPath, dstPath, err)
	}
	if err := out.Close(); err != nil {
		return false, fmt.Errorf("close companion %s: %w", dstPath, err)
	}
	return true, nil
}

// PutCompanion writes data to base.ssip.
func (s *FileStore) PutCompanion(path string, data []byte) error {
	p := CompanionPath(cleanBase(path))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write companion %s: %w", p, err)
	}
	return nil
}

// MkdirAll creates dir and any missing parents.
func (s *FileStore) MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// Mkdir creates dir, failing if it already exists.
func (s *FileStore) Mkdir(dir string) error {
	return os.Mkdir(dir, 0o755)
}

// RemoveAll removes dir recursively.
func (s *FileStore) RemoveAll(dir string) error {
	return os.RemoveAll(dir)
}

// Remove deletes base.ssi and base.ssip.
func (s *FileStore) Remove(path string) error {
	base := cleanBase(path)
	for _, p := range []string{DataPath(base), CompanionPath(base)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

type fileWriter struct {
	path      string
	chunkSize int
	pending   []Record
	count     int64
	chunks    uint64
	written   uint64
	closed    bool
}

func (w *fileWriter) Append(rec Record) error {
	if w.closed {
		return ErrClosed
	}
	cp := make(Record, len(rec))
	copy(cp, rec)
	w.pending = append(w.pending, cp)
	w.count++
	if len(w.pending) >= w.chunkSize {
		return w.flush()
	}
	return nil
}

func (w *fileWriter) Count() int64 {
	return w.count
}

func (w *fileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if len(w.pending) > 0 {
		if err := w.flush(); err != nil {
			return err
		}
	}

	trailer := make([]byte, 0, trailerSize)
	trailer = binary.LittleEndian.AppendUint64(trailer, uint64(w.count))
	trailer = binary.LittleEndian.AppendUint64(trailer, w.chunks)
	trailer = binary.LittleEndian.AppendUint64(trailer, w.written)
	trailer = append(trailer, trailerMagic...)
	trailer = binary.LittleEndian.AppendUint32(trailer, formatVersion)
	return w.appendBytes(trailer)
}

// flush encodes the pending records as one chunk and appends it.
func (w *fileWriter) flush() error {
	chunk := encodeChunk(w.pending)
	if err := w.appendBytes(chunk); err != nil {
		return err
	}
	w.written += uint64(len(chunk))
	w.chunks++
	// Drop references so flushed records can be collected.
	clear(w.pending)
	w.pending = w.pending[:0]
	return nil
}

func (w *fileWriter) appendBytes(b []byte) error {
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", w.path, err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	return nil
}

func encodeChunk(recs []Record) []byte {
	size := 0
	for _, r := range recs {
		size += protowire.SizeTag(recordField) + protowire.SizeBytes(len(r))
	}
	payload := make([]byte, 0, size)
	for _, r := range recs {
		payload = protowire.AppendTag(payload, recordField, protowire.BytesType)
		payload = protowire.AppendBytes(payload, r)
	}

	out := make([]byte, 0, len(chunkMagic)+2*binary.MaxVarintLen64+len(payload)+8)
	out = append(out, chunkMagic...)
	out = protowire.AppendVarint(out, uint64(len(recs)))
	out = protowire.AppendVarint(out, uint64(len(payload)))
	out = append(out, payload...)
	out = binary.LittleEndian.AppendUint64(out, xxhash.Sum64(payload))
	return out
}

type fileReader struct {
	f          *os.File
	br         *bufio.Reader
	path       string
	total      int64
	chunks     uint64
	chunkIndex uint64
	recs       []Record
	pos        int
	cur        Record
	seen       int64
	err        error
	closed     bool
}

func newFileReader(f *os.File, path string) (*fileReader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() < trailerSize {
		return nil, fmt.Errorf("%w: %s: missing trailer", ErrCorrupt, path)
	}

	trailer := make([]byte, trailerSize)
	if _, err := f.ReadAt(trailer, info.Size()-trailerSize); err != nil {
		return nil, fmt.Errorf("read trailer %s: %w", path, err)
	}
	total := binary.LittleEndian.Uint64(trailer[0:8])
	chunks := binary.LittleEndian.Uint64(trailer[8:16])
	dataLen := binary.LittleEndian.Uint64(trailer[16:24])
	if string(trailer[24:28]) != trailerMagic {
		return nil, fmt.Errorf("%w: %s: bad trailer magic", ErrCorrupt, path)
	}
	if v := binary.LittleEndian.Uint32(trailer[28:32]); v != formatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported format version %d", ErrCorrupt, path, v)
	}
	if dataLen+trailerSize != uint64(info.Size()) {
		return nil, fmt.Errorf("%w: %s: data length %d does not match file size %d", ErrCorrupt, path, dataLen, info.Size())
	}
	if int64(total) < 0 || total > dataLen/minRecordSize {
		return nil, fmt.Errorf("%w: %s: %d records cannot fit in %d bytes", ErrCorrupt, path, total, dataLen)
	}
	if chunks > dataLen/minChunkSize {
		return nil, fmt.Errorf("%w: %s: %d chunks cannot fit in %d bytes", ErrCorrupt, path, chunks, dataLen)
	}

	section := io.NewSectionReader(f, 0, int64(dataLen))
	return &fileReader{
		f:      f,
		br:     bufio.NewReaderSize(section, readBufferSize),
		path:   path,
		total:  int64(total),
		chunks: chunks,
	}, nil
}

func (r *fileReader) TotalRecords() int64 {
	return r.total
}

func (r *fileReader) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	for r.pos >= len(r.recs) {
		if r.chunkIndex >= r.chunks {
			if r.seen != r.total {
				r.err = fmt.Errorf("%w: %s: read %d records, trailer says %d", ErrCorrupt, r.path, r.seen, r.total)
			}
			r.cur = nil
			return false
		}
		if err := r.readChunk(); err != nil {
			r.err = err
			r.cur = nil
			return false
		}
	}
	r.cur = r.recs[r.pos]
	r.recs[r.pos] = nil
	r.pos++
	r.seen++
	return true
}

func (r *fileReader) Record() Record {
	return r.cur
}

func (r *fileReader) Err() error {
	return r.err
}

func (r *fileReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.recs = nil
	r.cur = nil
	return r.f.Close()
}

// readChunk decodes the next chunk into r.recs. The payload buffer is
// freshly allocated per chunk, so records handed out earlier stay valid.
func (r *fileReader) readChunk() error {
	idx := r.chunkIndex
	corrupt := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s chunk %d: %s", ErrCorrupt, r.path, idx, fmt.Sprintf(format, args...))
	}

	magic := make([]byte, len(chunkMagic))
	if _, err := io.ReadFull(r.br, magic); err != nil {
		return corrupt("read header: %v", err)
	}
	if string(magic) != chunkMagic {
		return corrupt("bad magic %q", magic)
	}
	count, err := binary.ReadUvarint(r.br)
	if err != nil {
		return corrupt("read record count: %v", err)
	}
	length, err := binary.ReadUvarint(r.br)
	if err != nil {
		return corrupt("read payload length: %v", err)
	}
	if length > maxChunkPayload || count > length {
		return corrupt("implausible header count=%d length=%d", count, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.br, payload); err != nil {
		return corrupt("read payload: %v", err)
	}
	var sum [8]byte
	if _, err := io.ReadFull(r.br, sum[:]); err != nil {
		return corrupt("read checksum: %v", err)
	}
	if binary.LittleEndian.Uint64(sum[:]) != xxhash.Sum64(payload) {
		return corrupt("checksum mismatch")
	}

	recs := make([]Record, 0, count)
	for b := payload; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return corrupt("bad record tag: %v", protowire.ParseError(n))
		}
		if num != recordField || typ != protowire.BytesType {
			return corrupt("unexpected field %d type %d", num, typ)
		}
		b = b[n:]
		v, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return corrupt("bad record: %v", protowire.ParseError(m))
		}
		recs = append(recs, Record(v[:len(v):len(v)]))
		b = b[m:]
	}
	if uint64(len(recs)) != count {
		return corrupt("header says %d records, decoded %d", count, len(recs))
	}

	r.recs = recs
	r.pos = 0
	r.chunkIndex++
	return nil
}
