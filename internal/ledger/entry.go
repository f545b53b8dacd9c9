package ledger

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Severity classifies how serious an audit event is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the three defined severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Actor identifies who caused an event. System-generated events have none.
type Actor struct {
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
}

// Source describes where an event originated.
type Source struct {
	IPAddress string `json:"ip_address,omitempty"`
	Client    string `json:"client,omitempty"`
	Location  string `json:"location,omitempty"`
}

// Event is a submission to the Recorder. It carries everything a caller
// provides; sequence id, timestamps, and hashes are assigned by the ledger.
type Event struct {
	Type      string         `json:"type"`
	Category  string         `json:"category"`
	Severity  Severity       `json:"severity"`
	Actor     *Actor         `json:"actor,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Source    *Source        `json:"source,omitempty"`
	Data      map[string]any `json:"data,omitempty"`

	// Sensitive is a separately-encrypted payload. The ledger stores and
	// hashes the ciphertext verbatim and never inspects it.
	Sensitive []byte `json:"sensitive,omitempty"`
}

// LogEntry is a single immutable record in the audit chain.
type LogEntry struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	// Monotonic is a strictly increasing nanosecond counter used only to
	// break timestamp ties when displaying entries. Ordering for hashing
	// and verification is always by Seq.
	Monotonic int64 `json:"monotonic_ns"`

	EventType     string         `json:"event_type"`
	EventCategory string         `json:"event_category"`
	Severity      Severity       `json:"severity"`
	Actor         *Actor         `json:"actor,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	Source        *Source        `json:"source,omitempty"`
	EventData     map[string]any `json:"event_data,omitempty"`
	Sensitive     []byte         `json:"sensitive,omitempty"`

	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

var (
	monoBase = time.Now()
	lastMono atomic.Int64
)

// nextMonotonic returns a process-local, strictly increasing nanosecond value.
func nextMonotonic() int64 {
	for {
		now := time.Since(monoBase).Nanoseconds()
		prev := lastMono.Load()
		if now <= prev {
			now = prev + 1
		}
		if lastMono.CompareAndSwap(prev, now) {
			return now
		}
	}
}
