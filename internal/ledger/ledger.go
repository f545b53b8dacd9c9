package ledger

import "context"

// Reader provides read access to the chain. Reads never take the append
// lock and may run concurrently with appends and with each other.
type Reader interface {
	// Entry returns the entry with the given sequence id, or ErrNotFound.
	Entry(ctx context.Context, seq int64) (*LogEntry, error)

	// Range returns entries with seq in [from, to] inclusive, in order.
	// Every id in the range must exist; otherwise ErrNotFound.
	Range(ctx context.Context, from, to int64) ([]*LogEntry, error)

	// Tail returns the current tail: the last sequence id and its hash.
	// An empty ledger reports (0, GenesisHash).
	Tail(ctx context.Context) (int64, string, error)

	// Len returns the number of entries.
	Len(ctx context.Context) (int64, error)
}

// Ledger is the append-only hash-chained entry store. Append is exposed only
// through a single mutual-exclusion boundary per backend: two concurrent
// appends must never observe the same tail, since that forks the chain and
// permanently breaks verifiability.
type Ledger interface {
	Reader

	// Append assigns the next sequence id and the tail's hash to e, computes
	// e.Hash over the canonical preimage, and persists the entry — all within
	// the backend's critical section. payload must be the canonical JSON of
	// e.EventData, produced by the Recorder outside the lock. The steps are
	// all-or-nothing: on error no id is consumed and the tail is unchanged.
	Append(ctx context.Context, e *LogEntry, payload []byte) (*LogEntry, error)
}
