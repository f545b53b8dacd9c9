package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/veritas-audit/veritas/internal/ledger"
	"go.uber.org/zap"
)

// ChainChecker re-verifies the entry hash chain across a range. Satisfied by
// *verify.Verifier. A checkpoint is a claim that its range is internally
// valid, so the Builder refuses to seal known-corrupt history.
type ChainChecker interface {
	CheckRange(ctx context.Context, from, to int64) error
}

// BuildMetricFunc is an optional callback recording a successful build.
type BuildMetricFunc func()

// Builder seals contiguous entry ranges into checkpoints.
type Builder struct {
	entries ledger.Reader
	store   Store
	checker ChainChecker
	onBuild BuildMetricFunc
	logger  *zap.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(entries ledger.Reader, store Store, checker ChainChecker, logger *zap.Logger) *Builder {
	return &Builder{entries: entries, store: store, checker: checker, logger: logger}
}

// SetBuildMetric configures the metrics callback.
func (b *Builder) SetBuildMetric(fn BuildMetricFunc) {
	b.onBuild = fn
}

// Build seals [from, to] into a new checkpoint chained to the previous one.
//
// Preconditions: from must be exactly previous.LastSeq+1 (or 1 when no
// checkpoint exists), to must reference a persisted entry, and the range's
// own hash chain must verify. Violations return *ledger.RangeError (fix the
// range) or *ledger.IntegrityError (the history itself is corrupt).
func (b *Builder) Build(ctx context.Context, from, to int64) (*Checkpoint, error) {
	if from < 1 || to < from {
		return nil, &ledger.RangeError{From: from, To: to, Msg: "empty or inverted range"}
	}

	prevHash := ledger.GenesisHash
	latest, err := b.store.Latest(ctx)
	switch {
	case err == nil:
		if from != latest.LastSeq+1 {
			return nil, &ledger.RangeError{From: from, To: to,
				Msg: fmt.Sprintf("must start at %d, the entry after the last sealed checkpoint", latest.LastSeq+1)}
		}
		prevHash = latest.Hash
	case errors.Is(err, ledger.ErrNotFound):
		if from != 1 {
			return nil, &ledger.RangeError{From: from, To: to, Msg: "first checkpoint must start at entry 1"}
		}
	default:
		return nil, err
	}

	tailSeq, _, err := b.entries.Tail(ctx)
	if err != nil {
		return nil, err
	}
	if to > tailSeq {
		return nil, &ledger.RangeError{From: from, To: to,
			Msg: fmt.Sprintf("entry %d does not exist (tail is %d)", to, tailSeq)}
	}

	// Never seal over known-corrupt history.
	if err := b.checker.CheckRange(ctx, from, to); err != nil {
		return nil, err
	}

	rows, err := b.entries.Range(ctx, from, to)
	if err != nil {
		return nil, err
	}
	leaves := make([]string, len(rows))
	for i, e := range rows {
		leaves[i] = e.Hash
	}
	root, err := MerkleRoot(leaves)
	if err != nil {
		return nil, &ledger.RangeError{From: from, To: to, Msg: err.Error()}
	}

	cp := &Checkpoint{
		ID: uuid.New(),
		// timestamptz keeps microseconds; anything finer would make Rehash
		// diverge after a storage round trip.
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
		FirstSeq:   from,
		LastSeq:    to,
		MerkleRoot: root,
		PrevHash:   prevHash,
		Algorithm:  ledger.HashAlgorithm,
		Status:     StatusUnverified,
	}
	cp.Hash = Rehash(cp)

	if err := b.store.Create(ctx, cp); err != nil {
		return nil, err
	}

	b.logger.Info("checkpoint sealed",
		zap.String("id", cp.ID.String()),
		zap.Int64("first_seq", cp.FirstSeq),
		zap.Int64("last_seq", cp.LastSeq),
		zap.String("merkle_root", cp.MerkleRoot),
	)
	if b.onBuild != nil {
		b.onBuild()
	}
	return cp, nil
}
