package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-audit/veritas/internal/ledger"
)

func newTestRecorder() (*ledger.Recorder, *ledger.MemoryLedger) {
	l := ledger.NewMemoryLedger()
	return ledger.NewRecorder(l, zap.NewNop()), l
}

func submitN(t *testing.T, r *ledger.Recorder, n int) []*ledger.LogEntry {
	t.Helper()
	out := make([]*ledger.LogEntry, 0, n)
	for i := 0; i < n; i++ {
		e, err := r.Submit(context.Background(), ledger.Event{
			Type:     "user.login",
			Category: "auth",
			Severity: ledger.SeverityInfo,
			Data:     map[string]any{"attempt": i},
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		out = append(out, e)
	}
	return out
}

// ── Validation ───────────────────────────────────────────────────────────

func TestSubmit_rejectsInvalidEvents(t *testing.T) {
	r, l := newTestRecorder()

	cases := []struct {
		name string
		ev   ledger.Event
	}{
		{"missing type", ledger.Event{Category: "auth", Severity: ledger.SeverityInfo}},
		{"missing category", ledger.Event{Type: "user.login", Severity: ledger.SeverityInfo}},
		{"bad severity", ledger.Event{Type: "user.login", Category: "auth", Severity: "urgent"}},
		{"unencodable data", ledger.Event{Type: "user.login", Category: "auth", Severity: ledger.SeverityInfo,
			Data: map[string]any{"fn": func() {}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Submit(context.Background(), tc.ev)
			var verr *ledger.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}

	// No entry was created for any rejected submission.
	if n, _ := l.Len(context.Background()); n != 0 {
		t.Errorf("expected empty ledger after rejections, got %d entries", n)
	}
}

// ── Chain shape ──────────────────────────────────────────────────────────

func TestSubmit_genesisAndChaining(t *testing.T) {
	r, _ := newTestRecorder()
	entries := submitN(t, r, 5)

	if entries[0].Seq != 1 {
		t.Errorf("first entry seq = %d, want 1", entries[0].Seq)
	}
	if entries[0].PrevHash != ledger.GenesisHash {
		t.Errorf("first entry prev_hash = %s, want genesis", entries[0].PrevHash)
	}

	for i := 1; i < len(entries); i++ {
		if entries[i].Seq != entries[i-1].Seq+1 {
			t.Errorf("seq gap at %d: %d after %d", i, entries[i].Seq, entries[i-1].Seq)
		}
		if entries[i].PrevHash != entries[i-1].Hash {
			t.Errorf("chain broken at seq %d", entries[i].Seq)
		}
	}
}

func TestSubmit_hashRecomputes(t *testing.T) {
	r, _ := newTestRecorder()
	e, err := r.Submit(context.Background(), ledger.Event{
		Type:     "doc.update",
		Category: "data",
		Severity: ledger.SeverityWarning,
		Data:     map[string]any{"doc": "xyz", "fields": []any{"title"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	recomputed, err := ledger.RecomputeHash(e)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if recomputed != e.Hash {
		t.Errorf("stored hash %s, recomputed %s", e.Hash, recomputed)
	}
}

// timestamptz columns keep microsecond precision, so a stored timestamp
// must already be exact at the microsecond or every Postgres-backed
// verification would flag intact history as tampered.
func TestSubmit_hashSurvivesTimestamptzRoundTrip(t *testing.T) {
	r, _ := newTestRecorder()
	e, err := r.Submit(context.Background(), ledger.Event{
		Type:     "doc.read",
		Category: "data",
		Severity: ledger.SeverityInfo,
		Data:     map[string]any{"doc": "xyz"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	stored := *e
	stored.Timestamp = stored.Timestamp.Truncate(time.Microsecond)
	if !stored.Timestamp.Equal(e.Timestamp) {
		t.Fatalf("timestamp %s carries sub-microsecond precision", e.Timestamp.Format(time.RFC3339Nano))
	}

	recomputed, err := ledger.RecomputeHash(&stored)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if recomputed != e.Hash {
		t.Errorf("hash mismatch after round trip: stored %s, recomputed %s", e.Hash, recomputed)
	}
}

func TestSubmit_sensitiveCiphertextIsHashed(t *testing.T) {
	r, _ := newTestRecorder()
	e, err := r.Submit(context.Background(), ledger.Event{
		Type:      "secret.rotate",
		Category:  "security",
		Severity:  ledger.SeverityCritical,
		Sensitive: []byte{0x01, 0x02, 0x03},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	tampered := *e
	tampered.Sensitive = []byte{0x01, 0x02, 0x04}
	recomputed, err := ledger.RecomputeHash(&tampered)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if recomputed == e.Hash {
		t.Error("changing the ciphertext did not change the hash")
	}
}

func TestSubmit_recordsMetric(t *testing.T) {
	r, _ := newTestRecorder()
	var got ledger.Severity
	r.SetAppendMetric(func(s ledger.Severity) { got = s })

	submitN(t, r, 1)
	if got != ledger.SeverityInfo {
		t.Errorf("metric severity = %q, want info", got)
	}
}

// ── Concurrency ──────────────────────────────────────────────────────────

// N concurrent submissions must yield exactly N entries forming one
// unbroken chain, in some serial order.
func TestSubmit_concurrentAppendsStaySerial(t *testing.T) {
	r, l := newTestRecorder()
	const n = 64

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Submit(context.Background(), ledger.Event{
				Type:     "job.run",
				Category: "ops",
				Severity: ledger.SeverityInfo,
				Data:     map[string]any{"worker": fmt.Sprintf("w-%d", i)},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent submit: %v", err)
		}
	}

	ctx := context.Background()
	count, _ := l.Len(ctx)
	if count != n {
		t.Fatalf("expected %d entries, got %d", n, count)
	}

	entries, err := l.Range(ctx, 1, n)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	prev := ledger.GenesisHash
	for _, e := range entries {
		if e.PrevHash != prev {
			t.Fatalf("chain broken at seq %d", e.Seq)
		}
		recomputed, err := ledger.RecomputeHash(e)
		if err != nil || recomputed != e.Hash {
			t.Fatalf("hash mismatch at seq %d", e.Seq)
		}
		prev = e.Hash
	}
}

// ── Reader edges ─────────────────────────────────────────────────────────

func TestMemoryLedger_emptyTail(t *testing.T) {
	l := ledger.NewMemoryLedger()
	seq, hash, err := l.Tail(context.Background())
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if seq != 0 || hash != ledger.GenesisHash {
		t.Errorf("empty tail = (%d, %s), want (0, genesis)", seq, hash)
	}
}

func TestMemoryLedger_rangeBounds(t *testing.T) {
	r, l := newTestRecorder()
	submitN(t, r, 3)

	ctx := context.Background()
	if _, err := l.Range(ctx, 2, 5); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("range past tail: expected ErrNotFound, got %v", err)
	}
	if _, err := l.Range(ctx, 0, 2); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("range from 0: expected ErrNotFound, got %v", err)
	}
	if _, err := l.Entry(ctx, 4); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("missing entry: expected ErrNotFound, got %v", err)
	}
}
