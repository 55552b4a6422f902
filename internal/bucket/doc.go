// Package bucket implements the unit of in-memory shuffling: a temporary,
// segment-backed partition of the dataset that is filled during the
// partition phase and read back in full during the shuffle phase.
//
// # Lifecycle
//
//	Create ──► open ──Seal──► sealed ──Load──► drained
//	             │               │                │
//	             └───────────────┴─────Delete─────┴──► deleted
//
// Append is accepted only while open; Load only once sealed. The transition
// from open to sealed is the point where the backing writer is flushed and
// closed, which is what makes the bucket safe to read. A bucket is loaded
// at most once.
//
// # Concurrency
//
// A bucket serializes its own operations with a mutex, so concurrent
// partitioners may share one. Statistics are updated atomically and may be
// read at any time through Info.
//
// # Memory
//
// Only Load materializes records. The slice it returns holds exactly the
// bucket's records and is the dominant memory cost of a shuffle.
package bucket
