// Package ledger implements the append-only, hash-chained audit log at the
// heart of Veritas.
//
// Every entry records the SHA-256 of its predecessor, so the chain begins at
// a well-known genesis constant (GenesisHash, 64 hex zeros) and any post-append
// mutation of an entry is detectable by recomputation. The Recorder is the
// only write entry point: it validates and canonicalizes incoming events and
// hands them to a Ledger backend, which assigns the sequence id and previous
// hash inside a single-writer critical section.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, for production use.
package ledger
