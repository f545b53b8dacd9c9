package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AppendMetricFunc is an optional callback recording a successful append.
type AppendMetricFunc func(severity Severity)

// Recorder is the single write entry point of the audit core. It validates
// and canonicalizes incoming events, then performs one serialized append to
// the underlying Ledger. Validation and canonicalization happen outside the
// append boundary so the critical section stays compute-then-commit only.
type Recorder struct {
	ledger   Ledger
	onAppend AppendMetricFunc
	logger   *zap.Logger
}

// NewRecorder creates a Recorder writing to the given ledger backend.
func NewRecorder(l Ledger, logger *zap.Logger) *Recorder {
	return &Recorder{ledger: l, logger: logger}
}

// SetAppendMetric configures the metrics callback.
func (r *Recorder) SetAppendMetric(fn AppendMetricFunc) {
	r.onAppend = fn
}

// Submit validates ev, canonicalizes its payload, and appends one entry.
// It returns a *ValidationError for bad input (no entry created, fix and
// resubmit) or a *StorageError / ErrConflict for persistence failures (no id
// consumed, retry safely).
func (r *Recorder) Submit(ctx context.Context, ev Event) (*LogEntry, error) {
	if ev.Type == "" {
		return nil, &ValidationError{Msg: "event type is required"}
	}
	if ev.Category == "" {
		return nil, &ValidationError{Msg: "event category is required"}
	}
	if !ev.Severity.Valid() {
		return nil, &ValidationError{Msg: "severity must be one of info, warning, critical"}
	}

	payload, err := canonicalJSON(ev.Data)
	if err != nil {
		return nil, &ValidationError{Msg: "event data is not canonicalizable: " + err.Error()}
	}

	entry := &LogEntry{
		// timestamptz keeps microseconds; anything finer would make the hash
		// preimage unrecomputable after a storage round trip.
		Timestamp:     time.Now().UTC().Truncate(time.Microsecond),
		Monotonic:     nextMonotonic(),
		EventType:     ev.Type,
		EventCategory: ev.Category,
		Severity:      ev.Severity,
		Actor:         cloneActor(ev.Actor),
		SessionID:     ev.SessionID,
		Source:        cloneSource(ev.Source),
		EventData:     ev.Data,
		Sensitive:     append([]byte(nil), ev.Sensitive...),
	}

	appended, err := r.ledger.Append(ctx, entry, payload)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("audit entry appended",
		zap.Int64("seq", appended.Seq),
		zap.String("event_type", appended.EventType),
		zap.String("severity", string(appended.Severity)),
	)
	if r.onAppend != nil {
		r.onAppend(appended.Severity)
	}
	return appended, nil
}

func cloneActor(a *Actor) *Actor {
	if a == nil {
		return nil
	}
	c := *a
	if a.UserID != nil {
		id := *a.UserID
		c.UserID = &id
	}
	return &c
}

func cloneSource(s *Source) *Source {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
