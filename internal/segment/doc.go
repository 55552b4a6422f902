// Package segment defines the storage interfaces for chunked binary record
// files and provides the on-disk and in-memory implementations used by the
// randomizer.
//
// # Overview
//
// A segment is a logical file of opaque records. It is written once, in
// append-only fashion, and read back as a forward-only sequence. Each
// logical file may carry a companion metadata file with the same basename;
// this package only copies companions, it never merges them.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│      Randomizer (buckets, output)   │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│    Store / Writer / Reader          │
//	└─────────────────────────────────────┘
//	         │                  │
//	         ▼                  ▼
//	┌────────────────┐  ┌────────────────┐
//	│   FileStore    │  │  MemoryStore   │
//	│  base.ssi      │  │  map of sealed │
//	│  base.ssip     │  │  record slices │
//	└────────────────┘  └────────────────┘
//
// # File Format
//
// base.ssi holds a sequence of chunks followed by a fixed-size trailer:
//
//	chunk   := "SSIC" uvarint(count) uvarint(len) payload[len] xxhash64(payload)
//	payload := { tag(1, bytes) uvarint(len(record)) record }
//	trailer := u64(total) u64(chunks) u64(dataLen) "SSIE" u32(version)
//
// Integers in the trailer and checksums are little-endian. Records are
// framed as protobuf length-delimited fields so that files can also be
// inspected with generic protobuf tooling.
//
// The trailer lets Reader.TotalRecords answer without scanning the file.
// A file without a valid trailer was never closed and is reported as
// ErrCorrupt.
//
// # Visibility
//
// A writer's records become readable only after Close. Readers must never
// be opened on a file that still has a live writer; the randomizer enforces
// this with a barrier between its partition and shuffle phases.
//
// # Errors
//
// ErrNotFound: the logical file doesn't exist (or hasn't been sealed)
//
// ErrCorrupt: a chunk or the trailer failed validation
//
// ErrClosed: operation on a closed writer
//
// ErrInvalidChunkSize: writer opened with recordsPerChunk <= 0
//
// # Usage Examples
//
//	store := segment.NewFileStore()
//	w, err := store.OpenWriter("out/sample", 1000)
//	if err != nil {
//	    return err
//	}
//	for _, rec := range records {
//	    if err := w.Append(rec); err != nil {
//	        return err
//	    }
//	}
//	if err := w.Close(); err != nil {
//	    return err
//	}
//
//	r, err := store.OpenReader("out/sample.ssi")
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	fmt.Println("records:", r.TotalRecords())
package segment
