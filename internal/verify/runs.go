package verify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veritas-audit/veritas/internal/ledger"
)

// Run is the durable progress marker of an in-flight full verification.
// It exists for crash recovery: a restarted VerifyAll resumes from Cursor.
// The marker is cleared on completion and on cancellation.
type Run struct {
	ID        uuid.UUID `json:"id"`
	StartedAt time.Time `json:"started_at"`

	// Cursor is the last sequence id whose checks completed.
	Cursor int64 `json:"cursor"`
}

// RunStore persists the verification progress marker. At most one run is
// in flight per ledger at a time.
type RunStore interface {
	// Save upserts the marker.
	Save(ctx context.Context, run *Run) error

	// Load returns the in-flight run, or ledger.ErrNotFound.
	Load(ctx context.Context) (*Run, error)

	// Clear removes the marker.
	Clear(ctx context.Context, id uuid.UUID) error
}

// MemoryRunStore is an in-memory RunStore for testing and single-process use.
type MemoryRunStore struct {
	mu  sync.Mutex
	run *Run
}

// NewMemoryRunStore creates an empty MemoryRunStore.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{}
}

// Save implements RunStore.
func (s *MemoryRunStore) Save(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *run
	s.run = &r
	return nil
}

// Load implements RunStore.
func (s *MemoryRunStore) Load(_ context.Context) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil, ledger.ErrNotFound
	}
	r := *s.run
	return &r, nil
}

// Clear implements RunStore.
func (s *MemoryRunStore) Clear(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil && s.run.ID == id {
		s.run = nil
	}
	return nil
}
