package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/veritas-audit/veritas/internal/api"
	"github.com/veritas-audit/veritas/internal/checkpoint"
	"github.com/veritas-audit/veritas/internal/ledger"
	"github.com/veritas-audit/veritas/internal/verify"
	"go.uber.org/zap"
)

const testAdminSecret = "test-admin-secret"

type testServer struct {
	router *gin.Engine
	ledger *ledger.MemoryLedger
	store  *checkpoint.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	l := ledger.NewMemoryLedger()
	recorder := ledger.NewRecorder(l, logger)
	store := checkpoint.NewMemoryStore()

	verifier := verify.New(l, store, verify.NewMemoryRunStore(), logger)
	builder := checkpoint.NewBuilder(l, store, verifier, logger)
	tokens := api.NewOperatorTokenIssuer([]byte("test-signing-key"), "https://ledger.test", time.Hour)

	router := gin.New()
	v1 := router.Group("/api/v1")
	api.NewAuthHandler(testAdminSecret, tokens, logger).Register(v1)
	api.NewEventHandler(recorder, l, logger).Register(v1)
	api.NewCheckpointHandler(builder, store, l, tokens, logger).Register(v1)
	api.NewVerifyHandler(verifier, tokens, logger).Register(v1)

	return &testServer{router: router, ledger: l, store: store}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) operatorToken(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/auth/token", "", gin.H{"secret": testAdminSecret})
	if w.Code != http.StatusOK {
		t.Fatalf("token exchange: status %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return resp.Token
}

func (s *testServer) submitEvents(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		w := s.do(t, http.MethodPost, "/api/v1/events", "", gin.H{
			"type":     "user.login",
			"category": "auth",
			"severity": "info",
			"data":     gin.H{"attempt": i},
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("submit %d: status %d: %s", i, w.Code, w.Body)
		}
	}
}

// ── Events ───────────────────────────────────────────────────────────────

func TestSubmitEvent_createsChainedEntries(t *testing.T) {
	s := newTestServer(t)

	var prev ledger.LogEntry
	for i := 0; i < 3; i++ {
		w := s.do(t, http.MethodPost, "/api/v1/events", "", gin.H{
			"type":     "doc.update",
			"category": "data",
			"severity": "warning",
			"actor":    gin.H{"display_name": "alice"},
			"data":     gin.H{"doc": fmt.Sprintf("d-%d", i)},
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("status %d: %s", w.Code, w.Body)
		}

		var e ledger.LogEntry
		if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
			t.Fatalf("decode entry: %v", err)
		}
		if e.Seq != int64(i+1) {
			t.Errorf("seq = %d, want %d", e.Seq, i+1)
		}
		want := ledger.GenesisHash
		if i > 0 {
			want = prev.Hash
		}
		if e.PrevHash != want {
			t.Errorf("entry %d prev_hash = %s, want %s", e.Seq, e.PrevHash, want)
		}
		prev = e
	}
}

func TestSubmitEvent_validationFailures(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		body gin.H
	}{
		{"missing type", gin.H{"category": "auth"}},
		{"missing category", gin.H{"type": "user.login"}},
		{"bad severity", gin.H{"type": "user.login", "category": "auth", "severity": "urgent"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/events", "", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", w.Code, w.Body)
			}
		})
	}
}

func TestLedgerOverview(t *testing.T) {
	s := newTestServer(t)
	s.submitEvents(t, 4)

	w := s.do(t, http.MethodGet, "/api/v1/ledger", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Entries   int64  `json:"entries"`
		TailSeq   int64  `json:"tail_seq"`
		TailHash  string `json:"tail_hash"`
		Algorithm string `json:"algorithm"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Entries != 4 || resp.TailSeq != 4 {
		t.Errorf("overview = %+v, want 4 entries, tail 4", resp)
	}
	if resp.Algorithm != ledger.HashAlgorithm {
		t.Errorf("algorithm = %q, want %q", resp.Algorithm, ledger.HashAlgorithm)
	}
}

func TestGetEntry(t *testing.T) {
	s := newTestServer(t)
	s.submitEvents(t, 2)

	if w := s.do(t, http.MethodGet, "/api/v1/ledger/entries/2", "", nil); w.Code != http.StatusOK {
		t.Errorf("existing entry: status %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/ledger/entries/7", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing entry: status %d, want 404", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/ledger/entries/zero", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("non-numeric seq: status %d, want 400", w.Code)
	}
}

func TestListEntries_rangeValidation(t *testing.T) {
	s := newTestServer(t)
	s.submitEvents(t, 3)

	w := s.do(t, http.MethodGet, "/api/v1/ledger/entries?from=1&to=3", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Entries []ledger.LogEntry `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 3 {
		t.Errorf("got %d entries, want 3", len(resp.Entries))
	}

	if w := s.do(t, http.MethodGet, "/api/v1/ledger/entries?from=3&to=1", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("inverted range: status %d, want 400", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/ledger/entries?from=1&to=5000", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("oversized range: status %d, want 400", w.Code)
	}
}

// ── Operator auth ────────────────────────────────────────────────────────

func TestIssueToken_badSecret(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/auth/token", "", gin.H{"secret": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status %d, want 401", w.Code)
	}
}

func TestOperatorRoutes_requireToken(t *testing.T) {
	s := newTestServer(t)
	s.submitEvents(t, 2)

	if w := s.do(t, http.MethodPost, "/api/v1/checkpoints", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("checkpoint build without token: status %d, want 401", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/v1/verify/range", "garbage-token",
		gin.H{"from": 1, "to": 2}); w.Code != http.StatusUnauthorized {
		t.Errorf("verify with garbage token: status %d, want 401", w.Code)
	}
}

// ── Checkpoints ──────────────────────────────────────────────────────────

func TestBuildCheckpoint_explicitAndAutoRange(t *testing.T) {
	s := newTestServer(t)
	s.submitEvents(t, 5)
	token := s.operatorToken(t)

	w := s.do(t, http.MethodPost, "/api/v1/checkpoints", token, gin.H{"from": 1, "to": 3})
	if w.Code != http.StatusCreated {
		t.Fatalf("explicit build: status %d: %s", w.Code, w.Body)
	}
	var first checkpoint.Checkpoint
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.FirstSeq != 1 || first.LastSeq != 3 {
		t.Errorf("range = [%d, %d], want [1, 3]", first.FirstSeq, first.LastSeq)
	}

	// Empty body seals whatever is not yet covered.
	w = s.do(t, http.MethodPost, "/api/v1/checkpoints", token, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("auto build: status %d: %s", w.Code, w.Body)
	}
	var second checkpoint.Checkpoint
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.FirstSeq != 4 || second.LastSeq != 5 {
		t.Errorf("auto range = [%d, %d], want [4, 5]", second.FirstSeq, second.LastSeq)
	}
	if second.PrevHash != first.Hash {
		t.Error("second checkpoint does not chain to the first")
	}

	// Nothing left to seal.
	if w := s.do(t, http.MethodPost, "/api/v1/checkpoints", token, nil); w.Code != http.StatusConflict {
		t.Errorf("empty auto build: status %d, want 409", w.Code)
	}
}

func TestBuildCheckpoint_badRange(t *testing.T) {
	s := newTestServer(t)
	s.submitEvents(t, 2)
	token := s.operatorToken(t)

	w := s.do(t, http.MethodPost, "/api/v1/checkpoints", token, gin.H{"from": 1, "to": 9})
	if w.Code != http.StatusBadRequest {
		t.Errorf("range past tail: status %d, want 400: %s", w.Code, w.Body)
	}
}

func TestListAndGetCheckpoints(t *testing.T) {
	s := newTestServer(t)
	s.submitEvents(t, 3)
	token := s.operatorToken(t)

	w := s.do(t, http.MethodPost, "/api/v1/checkpoints", token, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("build: status %d: %s", w.Code, w.Body)
	}
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(w.Body.Bytes(), &cp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Reads are open; no token.
	w = s.do(t, http.MethodGet, "/api/v1/checkpoints", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d", w.Code)
	}
	var listResp struct {
		Checkpoints []checkpoint.Checkpoint `json:"checkpoints"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listResp.Checkpoints) != 1 {
		t.Errorf("got %d checkpoints, want 1", len(listResp.Checkpoints))
	}

	if w := s.do(t, http.MethodGet, "/api/v1/checkpoints/"+cp.ID.String(), "", nil); w.Code != http.StatusOK {
		t.Errorf("get: status %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/checkpoints/not-a-uuid", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: status %d, want 400", w.Code)
	}
}

// ── Verification ─────────────────────────────────────────────────────────

func TestVerifyRangeEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.submitEvents(t, 4)
	token := s.operatorToken(t)

	w := s.do(t, http.MethodPost, "/api/v1/verify/range", token, gin.H{"from": 1, "to": 4})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var res verify.RangeResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Valid || res.Checked != 4 {
		t.Errorf("result = %+v, want 4 valid entries", res)
	}

	if w := s.do(t, http.MethodPost, "/api/v1/verify/range", token, gin.H{"from": 4, "to": 1}); w.Code != http.StatusBadRequest {
		t.Errorf("inverted range: status %d, want 400", w.Code)
	}
}

func TestVerifyFullEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.submitEvents(t, 5)
	token := s.operatorToken(t)

	if w := s.do(t, http.MethodPost, "/api/v1/checkpoints", token, nil); w.Code != http.StatusCreated {
		t.Fatalf("build: status %d: %s", w.Code, w.Body)
	}

	w := s.do(t, http.MethodPost, "/api/v1/verify/full", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var report verify.Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !report.Valid || report.EntriesChecked != 5 || report.CheckpointsChecked != 1 {
		t.Errorf("report = %+v, want 5 entries and 1 checkpoint checked", report)
	}
}

func TestVerifyCheckpointEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.submitEvents(t, 3)
	token := s.operatorToken(t)

	w := s.do(t, http.MethodPost, "/api/v1/checkpoints", token, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("build: status %d: %s", w.Code, w.Body)
	}
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(w.Body.Bytes(), &cp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = s.do(t, http.MethodPost, "/api/v1/verify/checkpoints/"+cp.ID.String(), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var res verify.CheckpointResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Valid {
		t.Errorf("checkpoint verification failed: %s", res.Details)
	}

	got, err := s.store.Get(context.Background(), cp.ID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if got.Status != checkpoint.StatusVerified {
		t.Errorf("status = %s, want verified", got.Status)
	}
}
