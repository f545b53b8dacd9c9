package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// HashAlgorithm identifies the digest scheme used for entry and checkpoint
// hashes. It is a fixed, versioned constant for the life of an installation:
// changing it invalidates every stored hash and must be treated as a breaking
// migration, never as a runtime parameter.
const HashAlgorithm = "sha256-v1"

// GenesisHash is the well-known previous_hash of the first entry and the
// previous_checkpoint_hash of the first checkpoint. The chain's trust anchor.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// hashEntry computes the SHA-256 hash over an entry's canonical preimage.
// payload must be the canonical JSON of e.EventData (see canonicalJSON).
// Field order is fixed; absent optional fields contribute empty strings.
func hashEntry(e *LogEntry, payload []byte) string {
	h := sha256.New()

	var actorID, actorName string
	if e.Actor != nil {
		if e.Actor.UserID != nil {
			actorID = e.Actor.UserID.String()
		}
		actorName = e.Actor.DisplayName
	}
	var srcIP, srcClient, srcLocation string
	if e.Source != nil {
		srcIP = e.Source.IPAddress
		srcClient = e.Source.Client
		srcLocation = e.Source.Location
	}

	fmt.Fprintf(h, "%d|%s|%d|%s|%s|%s|%s|%s|%s|%s|%s|%s|",
		e.Seq, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Monotonic,
		e.EventType, e.EventCategory, e.Severity,
		actorID, actorName, e.SessionID,
		srcIP, srcClient, srcLocation,
	)
	h.Write(payload)
	fmt.Fprintf(h, "|%s|%s", hex.EncodeToString(e.Sensitive), e.PrevHash)

	return hex.EncodeToString(h.Sum(nil))
}

// RecomputeHash re-derives an entry's hash from its stored fields. Used by
// the verifier and the checkpoint builder; a mismatch with e.Hash is tamper
// evidence, never something to repair.
func RecomputeHash(e *LogEntry) (string, error) {
	payload, err := canonicalJSON(e.EventData)
	if err != nil {
		return "", err
	}
	return hashEntry(e, payload), nil
}
