// Package verify independently recomputes entry hashes, Merkle roots, and
// checkpoint chains, and reports where stored history diverges. It never
// repairs anything: a mismatch is tamper evidence to be localized and
// surfaced, not fixed.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/veritas-audit/veritas/internal/checkpoint"
	"github.com/veritas-audit/veritas/internal/ledger"
	"go.uber.org/zap"
)

// defaultBatchSize bounds how many entries are held in memory per step of a
// long walk, and how often the VerifyAll progress marker is persisted.
const defaultBatchSize = 500

// TamperAlertFunc is an optional callback invoked for every integrity
// violation found. Wired to the alert dispatcher by the host.
type TamperAlertFunc func(err *ledger.IntegrityError)

// FailureMetricFunc is an optional callback recording a detected violation.
// kind is "entry" for a broken chain link, "checkpoint" for a seal mismatch.
type FailureMetricFunc func(kind string)

// RangeResult is the outcome of a range verification.
type RangeResult struct {
	Valid bool `json:"valid"`
	// BrokenAt is the first sequence id where a hash or link check fails;
	// 0 when the range is valid.
	BrokenAt int64  `json:"broken_at,omitempty"`
	Checked  int64  `json:"checked"`
	Details  string `json:"details,omitempty"`
}

// CheckpointResult is the outcome of a single checkpoint verification.
type CheckpointResult struct {
	Valid   bool   `json:"valid"`
	Details string `json:"details,omitempty"`
}

// Report summarizes a full-history verification.
type Report struct {
	StartedAt          time.Time   `json:"started_at"`
	FinishedAt         time.Time   `json:"finished_at"`
	Resumed            bool        `json:"resumed"`
	EntriesChecked     int64       `json:"entries_checked"`
	CheckpointsChecked int         `json:"checkpoints_checked"`
	Valid              bool        `json:"valid"`
	BrokenAt           int64       `json:"broken_at,omitempty"`
	FailedCheckpoints  []uuid.UUID `json:"failed_checkpoints,omitempty"`
	Details            []string    `json:"details,omitempty"`
}

// Verifier re-derives ledger and checkpoint integrity. Read-only with
// respect to entries; the only state it mutates is checkpoint verification
// metadata and its own progress marker.
type Verifier struct {
	entries     ledger.Reader
	checkpoints checkpoint.Store
	runs        RunStore
	batchSize   int64
	onTamper    TamperAlertFunc
	onFailure   FailureMetricFunc
	logger      *zap.Logger
}

// New creates a Verifier. runs may be nil, in which case VerifyAll is not
// resumable across restarts (progress is in-memory only).
func New(entries ledger.Reader, checkpoints checkpoint.Store, runs RunStore, logger *zap.Logger) *Verifier {
	return &Verifier{
		entries:     entries,
		checkpoints: checkpoints,
		runs:        runs,
		batchSize:   defaultBatchSize,
		logger:      logger,
	}
}

// SetTamperAlert configures the tamper alert callback.
func (v *Verifier) SetTamperAlert(fn TamperAlertFunc) { v.onTamper = fn }

// SetFailureMetric configures the metrics callback.
func (v *Verifier) SetFailureMetric(fn FailureMetricFunc) { v.onFailure = fn }

// VerifyRange walks [from, to] in order, recomputing every entry hash from
// stored fields and checking both the stored hash and the link to the
// previous entry. The first failing id is reported in the result; an error
// is returned only for bad input or storage trouble, never for tampering.
func (v *Verifier) VerifyRange(ctx context.Context, from, to int64) (*RangeResult, error) {
	if from < 1 || to < from {
		return nil, &ledger.RangeError{From: from, To: to, Msg: "empty or inverted range"}
	}

	prevHash := ledger.GenesisHash
	if from > 1 {
		prev, err := v.entries.Entry(ctx, from-1)
		if err != nil {
			return nil, err
		}
		prevHash = prev.Hash
	}

	res := &RangeResult{Valid: true}
	for lo := from; lo <= to; lo += v.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := lo + v.batchSize - 1
		if hi > to {
			hi = to
		}
		rows, err := v.entries.Range(ctx, lo, hi)
		if err != nil {
			return nil, err
		}
		for _, e := range rows {
			if broken := v.checkEntry(e, prevHash); broken != nil {
				res.Valid = false
				res.BrokenAt = e.Seq
				res.Details = broken.Msg
				v.reportTamper(broken)
				return res, nil
			}
			prevHash = e.Hash
			res.Checked++
		}
	}
	return res, nil
}

// CheckRange adapts VerifyRange for the checkpoint builder: a broken range
// comes back as a *ledger.IntegrityError instead of a result.
func (v *Verifier) CheckRange(ctx context.Context, from, to int64) error {
	res, err := v.VerifyRange(ctx, from, to)
	if err != nil {
		return err
	}
	if !res.Valid {
		return &ledger.IntegrityError{EntrySeq: res.BrokenAt, Msg: res.Details}
	}
	return nil
}

// VerifyCheckpoint recomputes a checkpoint's Merkle root (same leaf and
// odd-node convention as the builder) and its chained hash, after first
// re-verifying the underlying entry range. Stored verification metadata is
// updated with the outcome.
func (v *Verifier) VerifyCheckpoint(ctx context.Context, id uuid.UUID) (*CheckpointResult, error) {
	cp, err := v.checkpoints.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := v.verifyCheckpointAgainstEntries(ctx, cp)
	if err != nil {
		return nil, err
	}

	status := checkpoint.StatusVerified
	if !res.Valid {
		status = checkpoint.StatusFailed
		v.reportTamper(&ledger.IntegrityError{CheckpointID: cp.ID.String(), Msg: res.Details})
	}
	if err := v.checkpoints.UpdateVerification(ctx, cp.ID, status, res.Details, time.Now().UTC()); err != nil {
		return nil, err
	}
	return res, nil
}

func (v *Verifier) verifyCheckpointAgainstEntries(ctx context.Context, cp *checkpoint.Checkpoint) (*CheckpointResult, error) {
	rangeRes, err := v.VerifyRange(ctx, cp.FirstSeq, cp.LastSeq)
	if err != nil {
		return nil, err
	}
	if !rangeRes.Valid {
		return &CheckpointResult{
			Details: fmt.Sprintf("entry chain broken at %d: %s", rangeRes.BrokenAt, rangeRes.Details),
		}, nil
	}

	rows, err := v.entries.Range(ctx, cp.FirstSeq, cp.LastSeq)
	if err != nil {
		return nil, err
	}
	leaves := make([]string, len(rows))
	for i, e := range rows {
		leaves[i] = e.Hash
	}
	root, err := checkpoint.MerkleRoot(leaves)
	if err != nil {
		return nil, err
	}
	if root != cp.MerkleRoot {
		return &CheckpointResult{
			Details: fmt.Sprintf("merkle root mismatch: recomputed %s, stored %s", root, cp.MerkleRoot),
		}, nil
	}

	prevHash := ledger.GenesisHash
	if cp.FirstSeq > 1 {
		prev, err := v.checkpoints.Before(ctx, cp.FirstSeq)
		if errors.Is(err, ledger.ErrNotFound) {
			return &CheckpointResult{Details: "previous checkpoint missing"}, nil
		}
		if err != nil {
			return nil, err
		}
		prevHash = prev.Hash
	}
	if cp.PrevHash != prevHash {
		return &CheckpointResult{
			Details: fmt.Sprintf("checkpoint chain broken: prev_hash %s, predecessor hash %s", cp.PrevHash, prevHash),
		}, nil
	}

	recomputed := checkpoint.Rehash(cp)
	if recomputed != cp.Hash {
		return &CheckpointResult{
			Details: fmt.Sprintf("checkpoint hash mismatch: recomputed %s, stored %s", recomputed, cp.Hash),
		}, nil
	}

	return &CheckpointResult{Valid: true}, nil
}

// VerifyAll walks the whole history from genesis: every entry link, then
// every checkpoint. Progress is persisted every batch so an interrupted
// audit resumes from its cursor; the marker is cleared on completion and on
// cancellation. The entry walk stops at the first divergence, since every
// later hash descends from it.
func (v *Verifier) VerifyAll(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC(), Valid: true}

	tail, _, err := v.entries.Tail(ctx)
	if err != nil {
		return nil, err
	}

	run := &Run{ID: uuid.New(), StartedAt: report.StartedAt}
	if v.runs != nil {
		if prev, err := v.runs.Load(ctx); err == nil {
			run = prev
			report.Resumed = true
			v.logger.Info("resuming full verification",
				zap.String("run_id", run.ID.String()),
				zap.Int64("cursor", run.Cursor),
			)
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		if err := v.runs.Save(ctx, run); err != nil {
			return nil, err
		}
	}

	prevHash := ledger.GenesisHash
	if run.Cursor > 0 {
		prev, err := v.entries.Entry(ctx, run.Cursor)
		if err != nil {
			return nil, err
		}
		prevHash = prev.Hash
	}

walk:
	for lo := run.Cursor + 1; lo <= tail; lo += v.batchSize {
		if err := ctx.Err(); err != nil {
			v.clearRun(run)
			return nil, err
		}
		hi := lo + v.batchSize - 1
		if hi > tail {
			hi = tail
		}
		rows, err := v.entries.Range(ctx, lo, hi)
		if err != nil {
			return nil, err
		}
		for _, e := range rows {
			if broken := v.checkEntry(e, prevHash); broken != nil {
				report.Valid = false
				report.BrokenAt = e.Seq
				report.Details = append(report.Details, broken.Error())
				v.reportTamper(broken)
				break walk
			}
			prevHash = e.Hash
			report.EntriesChecked++
		}
		run.Cursor = hi
		if v.runs != nil {
			if err := v.runs.Save(ctx, run); err != nil {
				return nil, err
			}
		}
	}

	// Checkpoint boundaries, in range order.
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			v.clearRun(run)
			return nil, err
		}
		cps, err := v.checkpoints.List(ctx, 100, offset)
		if err != nil {
			return nil, err
		}
		if len(cps) == 0 {
			break
		}
		for _, cp := range cps {
			res, err := v.VerifyCheckpoint(ctx, cp.ID)
			if err != nil {
				return nil, err
			}
			report.CheckpointsChecked++
			if !res.Valid {
				report.Valid = false
				report.FailedCheckpoints = append(report.FailedCheckpoints, cp.ID)
				report.Details = append(report.Details,
					fmt.Sprintf("checkpoint %s: %s", cp.ID, res.Details))
			}
		}
		offset += len(cps)
	}

	v.clearRun(run)
	report.FinishedAt = time.Now().UTC()

	if report.Valid {
		v.logger.Info("full verification passed",
			zap.Int64("entries", report.EntriesChecked),
			zap.Int("checkpoints", report.CheckpointsChecked),
		)
	} else {
		v.logger.Error("full verification FAILED",
			zap.Int64("broken_at", report.BrokenAt),
			zap.Strings("details", report.Details),
		)
	}
	return report, nil
}

// checkEntry recomputes one entry and checks its stored hash and its link
// to the previous hash. Returns nil when the entry is intact.
func (v *Verifier) checkEntry(e *ledger.LogEntry, prevHash string) *ledger.IntegrityError {
	if e.PrevHash != prevHash {
		return &ledger.IntegrityError{EntrySeq: e.Seq,
			Msg: fmt.Sprintf("prev_hash %s does not match predecessor hash %s", e.PrevHash, prevHash)}
	}
	recomputed, err := ledger.RecomputeHash(e)
	if err != nil {
		return &ledger.IntegrityError{EntrySeq: e.Seq,
			Msg: "stored entry is no longer canonicalizable: " + err.Error()}
	}
	if recomputed != e.Hash {
		return &ledger.IntegrityError{EntrySeq: e.Seq,
			Msg: fmt.Sprintf("stored hash %s does not match recomputation %s", e.Hash, recomputed)}
	}
	return nil
}

func (v *Verifier) reportTamper(ierr *ledger.IntegrityError) {
	v.logger.Error("tamper evidence detected", zap.Error(ierr))
	if v.onFailure != nil {
		kind := "entry"
		if ierr.CheckpointID != "" {
			kind = "checkpoint"
		}
		v.onFailure(kind)
	}
	if v.onTamper != nil {
		v.onTamper(ierr)
	}
}

func (v *Verifier) clearRun(run *Run) {
	if v.runs == nil {
		return
	}
	// Best-effort with a fresh context: the caller's may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := v.runs.Clear(ctx, run.ID); err != nil {
		v.logger.Warn("clear verification run marker", zap.Error(err))
	}
}
