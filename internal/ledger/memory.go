package ledger

import (
	"context"
	"sync"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation. Entries
// live in a flat slice indexed by sequence id (entries[i].Seq == i+1), so the
// chain is an arena: no pointers between entries, no deletion, ever.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []*LogEntry
	byHash  map[string]int64
}

// NewMemoryLedger creates an empty MemoryLedger. The first appended entry
// receives sequence id 1 and GenesisHash as its previous hash.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{byHash: make(map[string]int64)}
}

// Append implements Ledger. The whole compute-then-commit step runs under
// the write lock so no two appends can observe the same tail.
func (l *MemoryLedger) Append(_ context.Context, e *LogEntry, payload []byte) (*LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := GenesisHash
	if n := len(l.entries); n > 0 {
		prevHash = l.entries[n-1].Hash
	}

	e.Seq = int64(len(l.entries)) + 1
	e.PrevHash = prevHash
	e.Hash = hashEntry(e, payload)

	// Mirrors the UNIQUE(entry_hash) constraint of the durable store.
	if _, dup := l.byHash[e.Hash]; dup {
		return nil, ErrConflict
	}

	l.entries = append(l.entries, e)
	l.byHash[e.Hash] = e.Seq
	return e, nil
}

// Entry implements Reader.
func (l *MemoryLedger) Entry(_ context.Context, seq int64) (*LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq < 1 || seq > int64(len(l.entries)) {
		return nil, ErrNotFound
	}
	return l.entries[seq-1], nil
}

// Range implements Reader.
func (l *MemoryLedger) Range(_ context.Context, from, to int64) ([]*LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from < 1 || to < from || to > int64(len(l.entries)) {
		return nil, ErrNotFound
	}
	out := make([]*LogEntry, 0, to-from+1)
	out = append(out, l.entries[from-1:to]...)
	return out, nil
}

// Tail implements Reader.
func (l *MemoryLedger) Tail(_ context.Context) (int64, string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.entries)
	if n == 0 {
		return 0, GenesisHash, nil
	}
	return l.entries[n-1].Seq, l.entries[n-1].Hash, nil
}

// Len implements Reader.
func (l *MemoryLedger) Len(_ context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.entries)), nil
}
