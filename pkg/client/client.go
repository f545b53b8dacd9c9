// Package client provides the Veritas Go SDK for submitting audit events
// and operating the ledger service: sealing checkpoints and running
// verification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ErrTamperDetected is returned by verification helpers when the service
// reports a broken chain or a checkpoint mismatch. The accompanying result
// carries the location details.
var ErrTamperDetected = errors.New("ledger integrity violation detected")

// Event is the submission payload for SubmitEvent.
type Event struct {
	Type      string         `json:"type"`
	Category  string         `json:"category"`
	Severity  string         `json:"severity"`
	Actor     *Actor         `json:"actor,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Source    *Source        `json:"source,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Sensitive []byte         `json:"sensitive,omitempty"`
}

// Actor identifies who performed the audited action.
type Actor struct {
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Source describes where the audited action originated.
type Source struct {
	IPAddress string `json:"ip_address,omitempty"`
	Client    string `json:"client,omitempty"`
	Location  string `json:"location,omitempty"`
}

// Entry is a sealed ledger entry as returned by the service.
type Entry struct {
	Seq           int64          `json:"seq"`
	Timestamp     time.Time      `json:"timestamp"`
	EventType     string         `json:"event_type"`
	EventCategory string         `json:"event_category"`
	Severity      string         `json:"severity"`
	Actor         *Actor         `json:"actor,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	Source        *Source        `json:"source,omitempty"`
	EventData     map[string]any `json:"event_data,omitempty"`
	PrevHash      string         `json:"prev_hash"`
	Hash          string         `json:"hash"`
}

// Overview is the ledger summary from GET /api/v1/ledger.
type Overview struct {
	Entries   int64  `json:"entries"`
	TailSeq   int64  `json:"tail_seq"`
	TailHash  string `json:"tail_hash"`
	Algorithm string `json:"algorithm"`
}

// Checkpoint is a sealed checkpoint record.
type Checkpoint struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	FirstSeq   int64      `json:"first_seq"`
	LastSeq    int64      `json:"last_seq"`
	MerkleRoot string     `json:"merkle_root"`
	PrevHash   string     `json:"prev_hash"`
	Hash       string     `json:"hash"`
	Algorithm  string     `json:"algorithm"`
	Status     string     `json:"status"`
	Details    string     `json:"details,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// RangeResult is the outcome of a range verification.
type RangeResult struct {
	Valid    bool   `json:"valid"`
	BrokenAt int64  `json:"broken_at,omitempty"`
	Checked  int64  `json:"checked"`
	Details  string `json:"details,omitempty"`
}

// Report is the outcome of a full verification run.
type Report struct {
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	Resumed            bool      `json:"resumed"`
	EntriesChecked     int64     `json:"entries_checked"`
	CheckpointsChecked int       `json:"checkpoints_checked"`
	Valid              bool      `json:"valid"`
	BrokenAt           int64     `json:"broken_at,omitempty"`
	FailedCheckpoints  []string  `json:"failed_checkpoints,omitempty"`
	Details            []string  `json:"details,omitempty"`
}

// Client is the Veritas SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// token state — guarded by mu
	mu          sync.Mutex
	adminSecret string
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a pre-obtained operator token to every request.
// The token is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// WithOperatorSecret configures the client to exchange the admin secret for
// operator tokens automatically, refreshing as they approach expiry.
func WithOperatorSecret(secret string) Option {
	return func(c *Client) error {
		c.adminSecret = secret
		return nil
	}
}

// New creates a new Veritas SDK Client connected to baseURL.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithOperatorSecret(secret),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// SubmitEvent records an event and returns the sealed entry.
func (c *Client) SubmitEvent(ctx context.Context, ev Event) (*Entry, error) {
	var entry Entry
	if err := c.postJSON(ctx, "/api/v1/events", ev, &entry, false); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetOverview returns the ledger entry count and current tail.
func (c *Client) GetOverview(ctx context.Context) (*Overview, error) {
	var ov Overview
	if err := c.getJSON(ctx, "/api/v1/ledger", &ov); err != nil {
		return nil, err
	}
	return &ov, nil
}

// GetEntry fetches a single entry by sequence id.
func (c *Client) GetEntry(ctx context.Context, seq int64) (*Entry, error) {
	var entry Entry
	path := "/api/v1/ledger/entries/" + strconv.FormatInt(seq, 10)
	if err := c.getJSON(ctx, path, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListEntries fetches the inclusive range [from, to].
func (c *Client) ListEntries(ctx context.Context, from, to int64) ([]Entry, error) {
	var wrapper struct {
		Entries []Entry `json:"entries"`
	}
	path := fmt.Sprintf("/api/v1/ledger/entries?from=%d&to=%d", from, to)
	if err := c.getJSON(ctx, path, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Entries, nil
}

// BuildCheckpoint seals the range [from, to]. Pass (0, 0) to seal everything
// after the previous checkpoint. Requires operator credentials.
func (c *Client) BuildCheckpoint(ctx context.Context, from, to int64) (*Checkpoint, error) {
	body := map[string]int64{"from": from, "to": to}
	var cp Checkpoint
	if err := c.postJSON(ctx, "/api/v1/checkpoints", body, &cp, true); err != nil {
		return nil, err
	}
	return &cp, nil
}

// ListCheckpoints returns sealed checkpoints, newest first.
func (c *Client) ListCheckpoints(ctx context.Context, limit, offset int) ([]Checkpoint, error) {
	var wrapper struct {
		Checkpoints []Checkpoint `json:"checkpoints"`
	}
	path := fmt.Sprintf("/api/v1/checkpoints?limit=%d&offset=%d", limit, offset)
	if err := c.getJSON(ctx, path, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Checkpoints, nil
}

// GetCheckpoint fetches a checkpoint by id.
func (c *Client) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := c.getJSON(ctx, "/api/v1/checkpoints/"+id, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// VerifyRange re-verifies the hash chain over [from, to]. Returns the
// result and ErrTamperDetected when the chain is broken; inspect the result
// for the break location. Requires operator credentials.
func (c *Client) VerifyRange(ctx context.Context, from, to int64) (*RangeResult, error) {
	body := map[string]int64{"from": from, "to": to}
	var res RangeResult
	if err := c.postJSON(ctx, "/api/v1/verify/range", body, &res, true); err != nil {
		return nil, err
	}
	if !res.Valid {
		return &res, ErrTamperDetected
	}
	return &res, nil
}

// VerifyCheckpoint re-verifies a single checkpoint. Requires operator
// credentials.
func (c *Client) VerifyCheckpoint(ctx context.Context, id string) (*RangeResult, error) {
	var res RangeResult
	if err := c.postJSON(ctx, "/api/v1/verify/checkpoints/"+id, nil, &res, true); err != nil {
		return nil, err
	}
	if !res.Valid {
		return &res, ErrTamperDetected
	}
	return &res, nil
}

// VerifyFull runs a complete audit from genesis. Requires operator
// credentials. Returns the report and ErrTamperDetected when any entry or
// checkpoint failed.
func (c *Client) VerifyFull(ctx context.Context) (*Report, error) {
	var report Report
	if err := c.postJSON(ctx, "/api/v1/verify/full", nil, &report, true); err != nil {
		return nil, err
	}
	if !report.Valid {
		return &report, ErrTamperDetected
	}
	return &report, nil
}

// FetchToken exchanges the configured admin secret for an operator token,
// caches it, and returns it. Requires WithOperatorSecret.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	secret := c.adminSecret
	c.mu.Unlock()
	if secret == "" {
		return "", errors.New("no operator secret configured")
	}

	token, err := c.fetchTokenRaw(ctx, secret)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearerToken = token
	// Operator tokens default to an 8 h lifetime server-side; refresh well
	// before that.
	c.tokenExpiry = time.Now().Add(7 * time.Hour)
	c.mu.Unlock()
	return token, nil
}

// fetchTokenRaw exchanges the secret without touching cached state. It
// deliberately bypasses the bearer-token attachment in do.
func (c *Client) fetchTokenRaw(ctx context.Context, secret string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"secret": secret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/token", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("token endpoint error %d: %s", resp.StatusCode, string(body))
	}

	var payloadResp struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payloadResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payloadResp.Error != "" {
		return "", fmt.Errorf("token endpoint error: %s", payloadResp.Error)
	}
	return payloadResp.Token, nil
}

// ensureToken returns a valid bearer token, fetching a new one if the
// cached token is absent or approaching expiry. Thread-safe.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	// tokenExpiry.IsZero() means the token was set manually via
	// WithBearerToken and should never be auto-refreshed.
	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		token := c.bearerToken
		c.mu.Unlock()
		return token, nil
	}
	secret := c.adminSecret
	c.mu.Unlock()

	if secret == "" {
		return "", errors.New("operator credentials required: configure WithBearerToken or WithOperatorSecret")
	}
	return c.FetchToken(ctx)
}

// getJSON performs an unauthenticated GET and decodes the response.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(ctx, req, false)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// postJSON performs a POST with an optional JSON body, decoding the
// response into out when non-nil.
func (c *Client) postJSON(ctx context.Context, path string, in, out any, operator bool) error {
	var bodyReader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(ctx, req, operator)
	if err != nil {
		return err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// do executes an HTTP request, attaching operator credentials when asked.
func (c *Client) do(ctx context.Context, req *http.Request, operator bool) ([]byte, error) {
	if operator {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("not found: %s", req.URL.Path)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
