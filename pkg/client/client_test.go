package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/veritas-audit/veritas/pkg/client"
)

// newStubServer routes requests through mux and returns a client.Client pointed at it.
func newStubServer(t *testing.T, mux *http.ServeMux, opts ...client.Option) (*client.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := client.New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv
}

func TestSubmitEvent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		var ev client.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode event: %v", err)
		}
		if ev.Type != "user.login" || ev.Category != "auth" {
			t.Errorf("event = %+v", ev)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(client.Entry{
			Seq:       1,
			EventType: ev.Type,
			PrevHash:  strings.Repeat("0", 64),
			Hash:      "abc123",
		})
	})

	c, _ := newStubServer(t, mux)
	entry, err := c.SubmitEvent(context.Background(), client.Event{
		Type:     "user.login",
		Category: "auth",
		Severity: "info",
		Actor:    &client.Actor{DisplayName: "alice"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if entry.Seq != 1 || entry.Hash != "abc123" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestGetEntry_notFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/ledger/entries/9", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	})

	c, _ := newStubServer(t, mux)
	if _, err := c.GetEntry(context.Background(), 9); err == nil {
		t.Error("expected error for missing entry")
	}
}

func TestVerifyRange_tamperBecomesError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/verify/range", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(client.RangeResult{
			Valid:    false,
			BrokenAt: 3,
			Checked:  2,
			Details:  "stored hash does not match recomputation",
		})
	})

	c, _ := newStubServer(t, mux, client.WithBearerToken("tok"))
	res, err := c.VerifyRange(context.Background(), 1, 5)
	if !errors.Is(err, client.ErrTamperDetected) {
		t.Fatalf("expected ErrTamperDetected, got %v", err)
	}
	if res == nil || res.BrokenAt != 3 {
		t.Errorf("result = %+v, want broken at 3", res)
	}
}

func TestVerifyFull_validReport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/verify/full", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(client.Report{
			Valid:              true,
			EntriesChecked:     100,
			CheckpointsChecked: 4,
		})
	})

	c, _ := newStubServer(t, mux, client.WithBearerToken("tok"))
	report, err := c.VerifyFull(context.Background())
	if err != nil {
		t.Fatalf("verify full: %v", err)
	}
	if report.EntriesChecked != 100 || report.CheckpointsChecked != 4 {
		t.Errorf("report = %+v", report)
	}
}

// The client exchanges the admin secret once and reuses the cached token on
// subsequent operator calls.
func TestOperatorSecret_autoTokenExchange(t *testing.T) {
	exchanges := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		var req struct {
			Secret string `json:"secret"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Secret != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid secret"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "issued-token"})
	})
	mux.HandleFunc("POST /api/v1/checkpoints", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer issued-token" {
			t.Errorf("authorization = %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(client.Checkpoint{FirstSeq: 1, LastSeq: 5, Status: "unverified"})
	})

	c, _ := newStubServer(t, mux, client.WithOperatorSecret("s3cret"))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.BuildCheckpoint(ctx, 0, 0); err != nil {
			t.Fatalf("build %d: %v", i, err)
		}
	}
	if exchanges != 1 {
		t.Errorf("token exchanges = %d, want 1 (cached afterwards)", exchanges)
	}
}

func TestOperatorCall_withoutCredentials(t *testing.T) {
	c, _ := newStubServer(t, http.NewServeMux())
	if _, err := c.BuildCheckpoint(context.Background(), 1, 5); err == nil {
		t.Error("expected error without operator credentials")
	}
}

func TestGetOverview(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/ledger", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(client.Overview{
			Entries:   12,
			TailSeq:   12,
			TailHash:  "deadbeef",
			Algorithm: "sha256-v1",
		})
	})

	c, _ := newStubServer(t, mux)
	ov, err := c.GetOverview(context.Background())
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.TailSeq != 12 || ov.Algorithm != "sha256-v1" {
		t.Errorf("overview = %+v", ov)
	}
}
