package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veritas-audit/veritas/internal/ledger"
)

// MemoryStore is an in-memory, thread-safe checkpoint Store for testing and
// single-process deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	cps  []*Checkpoint // ordered by FirstSeq
	byID map[uuid.UUID]*Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]*Checkpoint)}
}

// Create implements Store. Contiguity with the latest stored checkpoint is
// re-checked under the write lock so a range seals exactly once even when
// two builders race.
func (s *MemoryStore) Create(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := int64(1)
	if n := len(s.cps); n > 0 {
		want = s.cps[n-1].LastSeq + 1
	}
	if cp.FirstSeq != want {
		return &ledger.RangeError{From: cp.FirstSeq, To: cp.LastSeq,
			Msg: fmt.Sprintf("not contiguous: next checkpoint must start at %d", want)}
	}

	c := *cp
	s.cps = append(s.cps, &c)
	s.byID[c.ID] = &c
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byID[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	c := *cp
	return &c, nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(_ context.Context) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.cps) == 0 {
		return nil, ledger.ErrNotFound
	}
	c := *s.cps[len(s.cps)-1]
	return &c, nil
}

// Before implements Store.
func (s *MemoryStore) Before(_ context.Context, firstSeq int64) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cp := range s.cps {
		if cp.LastSeq == firstSeq-1 {
			c := *cp
			return &c, nil
		}
	}
	return nil, ledger.ErrNotFound
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(s.cps) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.cps) {
		end = len(s.cps)
	}
	out := make([]*Checkpoint, 0, end-offset)
	for _, cp := range s.cps[offset:end] {
		c := *cp
		out = append(out, &c)
	}
	return out, nil
}

// UpdateVerification implements Store.
func (s *MemoryStore) UpdateVerification(_ context.Context, id uuid.UUID, status Status, details string, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.byID[id]
	if !ok {
		return ledger.ErrNotFound
	}
	cp.Status = status
	cp.Details = details
	t := verifiedAt
	cp.VerifiedAt = &t
	return nil
}
