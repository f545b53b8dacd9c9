package ledger

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entry or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict signals a transient race on the append boundary or a duplicate
// entry hash. No entry was created; the caller may safely retry.
var ErrConflict = errors.New("append conflict")

// ValidationError reports a rejected submission. No entry was created and no
// sequence id was consumed; the caller may fix the input and resubmit.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// StorageError wraps a persistence failure during an append or checkpoint
// write. No partial state was committed; the caller may retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// RangeError reports a checkpoint build requested over a range that is
// empty, non-contiguous with prior checkpoints, or references entries that
// do not exist.
type RangeError struct {
	From, To int64
	Msg      string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range [%d, %d]: %s", e.From, e.To, e.Msg)
}

// IntegrityError is tamper evidence: a stored hash or chain link does not
// match recomputation. It is never handled silently and never repaired; it
// is surfaced with the precise point where divergence begins.
type IntegrityError struct {
	// EntrySeq is the first entry at which the chain diverges (0 if the
	// divergence is at the checkpoint level only).
	EntrySeq int64
	// CheckpointID names the offending checkpoint, when applicable.
	CheckpointID string
	Msg          string
}

func (e *IntegrityError) Error() string {
	switch {
	case e.EntrySeq > 0:
		return fmt.Sprintf("chain integrity violation at entry %d: %s", e.EntrySeq, e.Msg)
	case e.CheckpointID != "":
		return fmt.Sprintf("checkpoint %s integrity violation: %s", e.CheckpointID, e.Msg)
	default:
		return "chain integrity violation: " + e.Msg
	}
}
