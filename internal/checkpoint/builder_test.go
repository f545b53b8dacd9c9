package checkpoint_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-audit/veritas/internal/checkpoint"
	"github.com/veritas-audit/veritas/internal/ledger"
)

// okChecker accepts every range.
type okChecker struct{}

func (okChecker) CheckRange(context.Context, int64, int64) error { return nil }

// corruptChecker reports the chain broken at a fixed id.
type corruptChecker struct{ at int64 }

func (c corruptChecker) CheckRange(context.Context, int64, int64) error {
	return &ledger.IntegrityError{EntrySeq: c.at, Msg: "hash mismatch"}
}

func seedLedger(t *testing.T, n int) *ledger.MemoryLedger {
	t.Helper()
	l := ledger.NewMemoryLedger()
	r := ledger.NewRecorder(l, zap.NewNop())
	for i := 0; i < n; i++ {
		if _, err := r.Submit(context.Background(), ledger.Event{
			Type:     "user.login",
			Category: "auth",
			Severity: ledger.SeverityInfo,
		}); err != nil {
			t.Fatalf("seed entry %d: %v", i, err)
		}
	}
	return l
}

func TestBuild_firstCheckpoint(t *testing.T) {
	l := seedLedger(t, 5)
	store := checkpoint.NewMemoryStore()
	b := checkpoint.NewBuilder(l, store, okChecker{}, zap.NewNop())

	cp, err := b.Build(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if cp.FirstSeq != 1 || cp.LastSeq != 5 {
		t.Errorf("range = [%d, %d], want [1, 5]", cp.FirstSeq, cp.LastSeq)
	}
	if cp.PrevHash != ledger.GenesisHash {
		t.Errorf("first checkpoint prev_hash = %s, want genesis", cp.PrevHash)
	}
	if cp.Status != checkpoint.StatusUnverified {
		t.Errorf("status = %s, want unverified", cp.Status)
	}
	if cp.Algorithm != ledger.HashAlgorithm {
		t.Errorf("algorithm = %s, want %s", cp.Algorithm, ledger.HashAlgorithm)
	}
	if checkpoint.Rehash(cp) != cp.Hash {
		t.Error("checkpoint hash does not recompute from its fields")
	}

	entries, _ := l.Range(context.Background(), 1, 5)
	leaves := make([]string, len(entries))
	for i, e := range entries {
		leaves[i] = e.Hash
	}
	root, _ := checkpoint.MerkleRoot(leaves)
	if cp.MerkleRoot != root {
		t.Errorf("merkle root = %s, want %s", cp.MerkleRoot, root)
	}
}

// timestamptz columns keep microsecond precision, so created_at must
// already be exact at the microsecond or Rehash would diverge once the
// checkpoint comes back from Postgres.
func TestBuild_hashSurvivesTimestamptzRoundTrip(t *testing.T) {
	l := seedLedger(t, 3)
	b := checkpoint.NewBuilder(l, checkpoint.NewMemoryStore(), okChecker{}, zap.NewNop())

	cp, err := b.Build(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	stored := *cp
	stored.CreatedAt = stored.CreatedAt.Truncate(time.Microsecond)
	if !stored.CreatedAt.Equal(cp.CreatedAt) {
		t.Fatalf("created_at %s carries sub-microsecond precision", cp.CreatedAt.Format(time.RFC3339Nano))
	}
	if checkpoint.Rehash(&stored) != cp.Hash {
		t.Error("checkpoint hash does not survive a storage round trip")
	}
}

func TestBuild_chainsToPrevious(t *testing.T) {
	l := seedLedger(t, 6)
	store := checkpoint.NewMemoryStore()
	b := checkpoint.NewBuilder(l, store, okChecker{}, zap.NewNop())
	ctx := context.Background()

	first, err := b.Build(ctx, 1, 3)
	if err != nil {
		t.Fatalf("build first: %v", err)
	}
	second, err := b.Build(ctx, 4, 6)
	if err != nil {
		t.Fatalf("build second: %v", err)
	}
	if second.PrevHash != first.Hash {
		t.Errorf("second checkpoint prev_hash = %s, want %s", second.PrevHash, first.Hash)
	}
}

func TestBuild_rejectsBadRanges(t *testing.T) {
	l := seedLedger(t, 6)
	store := checkpoint.NewMemoryStore()
	b := checkpoint.NewBuilder(l, store, okChecker{}, zap.NewNop())
	ctx := context.Background()

	if _, err := b.Build(ctx, 1, 3); err != nil {
		t.Fatalf("build: %v", err)
	}

	cases := []struct {
		name     string
		from, to int64
	}{
		{"inverted", 5, 4},
		{"zero", 0, 3},
		{"gap after last seal", 5, 6},
		{"overlaps last seal", 3, 6},
		{"past the tail", 4, 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.Build(ctx, tc.from, tc.to)
			var rerr *ledger.RangeError
			if !errors.As(err, &rerr) {
				t.Errorf("expected RangeError, got %v", err)
			}
		})
	}
}

func TestBuild_firstMustStartAtOne(t *testing.T) {
	l := seedLedger(t, 4)
	b := checkpoint.NewBuilder(l, checkpoint.NewMemoryStore(), okChecker{}, zap.NewNop())

	_, err := b.Build(context.Background(), 2, 4)
	var rerr *ledger.RangeError
	if !errors.As(err, &rerr) {
		t.Errorf("expected RangeError, got %v", err)
	}
}

func TestBuild_refusesCorruptRange(t *testing.T) {
	l := seedLedger(t, 5)
	store := checkpoint.NewMemoryStore()
	b := checkpoint.NewBuilder(l, store, corruptChecker{at: 3}, zap.NewNop())

	_, err := b.Build(context.Background(), 1, 5)
	var ierr *ledger.IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ierr.EntrySeq != 3 {
		t.Errorf("integrity error at %d, want 3", ierr.EntrySeq)
	}
	if _, err := store.Latest(context.Background()); !errors.Is(err, ledger.ErrNotFound) {
		t.Error("corrupt range must not be sealed")
	}
}

func TestMemoryStore_rejectsConcurrentDoubleSeal(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ctx := context.Background()

	cp1 := &checkpoint.Checkpoint{FirstSeq: 1, LastSeq: 3, Status: checkpoint.StatusUnverified}
	if err := store.Create(ctx, cp1); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Same range again: a racing builder that passed the pre-check.
	cp2 := &checkpoint.Checkpoint{FirstSeq: 1, LastSeq: 3, Status: checkpoint.StatusUnverified}
	err := store.Create(ctx, cp2)
	var rerr *ledger.RangeError
	if !errors.As(err, &rerr) {
		t.Errorf("expected RangeError on double seal, got %v", err)
	}
}

func TestBuild_recordsMetric(t *testing.T) {
	l := seedLedger(t, 2)
	b := checkpoint.NewBuilder(l, checkpoint.NewMemoryStore(), okChecker{}, zap.NewNop())
	built := 0
	b.SetBuildMetric(func() { built++ })

	if _, err := b.Build(context.Background(), 1, 2); err != nil {
		t.Fatalf("build: %v", err)
	}
	if built != 1 {
		t.Errorf("metric fired %d times, want 1", built)
	}
}
