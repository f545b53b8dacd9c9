// Package checkpoint seals contiguous ranges of audit entries into
// Merkle-rooted checkpoints that themselves form a hash chain.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the verification state of a checkpoint. It is the only
// checkpoint field group ever mutated after creation.
type Status string

const (
	StatusUnverified Status = "unverified"
	StatusVerified   Status = "verified"
	StatusFailed     Status = "failed"
)

// Checkpoint is a sealed claim that the entry range [FirstSeq, LastSeq] is
// contiguous and internally valid. Range, root, and hash fields are
// immutable after creation.
type Checkpoint struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	FirstSeq int64 `json:"first_seq"`
	LastSeq  int64 `json:"last_seq"`

	// MerkleRoot is computed over the entry hashes in [FirstSeq, LastSeq]
	// in sequence order.
	MerkleRoot string `json:"merkle_root"`

	// PrevHash chains this checkpoint to its predecessor; the first
	// checkpoint uses ledger.GenesisHash.
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`

	// Algorithm records the digest scheme the checkpoint was built with.
	Algorithm string `json:"algorithm"`

	// Signature is an optional external attestation. Attached by an outside
	// signer, never produced here.
	Signature []byte `json:"signature,omitempty"`

	Status     Status     `json:"status"`
	Details    string     `json:"details,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// Store persists checkpoints. Implementations must reject a Create whose
// range is not contiguous with the latest stored checkpoint, so a range can
// be sealed exactly once even under racing builders.
type Store interface {
	Create(ctx context.Context, cp *Checkpoint) error

	// Get returns the checkpoint with the given id, or ledger.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Checkpoint, error)

	// Latest returns the checkpoint with the highest LastSeq, or
	// ledger.ErrNotFound when none exists.
	Latest(ctx context.Context) (*Checkpoint, error)

	// Before returns the checkpoint whose LastSeq == firstSeq-1, i.e. the
	// predecessor of a checkpoint starting at firstSeq, or ledger.ErrNotFound.
	Before(ctx context.Context, firstSeq int64) (*Checkpoint, error)

	// List returns checkpoints ordered by FirstSeq ascending.
	List(ctx context.Context, limit, offset int) ([]*Checkpoint, error)

	// UpdateVerification sets the verification metadata — the only mutation
	// a checkpoint ever sees. Single-row; ranges are disjoint by
	// construction so no broader locking is needed.
	UpdateVerification(ctx context.Context, id uuid.UUID, status Status, details string, verifiedAt time.Time) error
}

// Rehash recomputes a checkpoint's own hash from its immutable fields.
// Verification metadata and the external signature are never part of it.
func Rehash(cp *Checkpoint) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%s|%s|%s",
		cp.FirstSeq, cp.LastSeq, cp.MerkleRoot, cp.PrevHash,
		cp.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return hex.EncodeToString(h.Sum(nil))
}
