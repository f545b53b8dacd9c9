package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// MerkleRoot computes the binary Merkle root of the given hex-encoded leaf
// hashes, in order.
//
// Odd-node convention (fixed — two correct implementations using different
// conventions compute different roots for identical data): when a level has
// an odd number of nodes, the last node is paired with a duplicate of
// itself. A single leaf is its own root.
func MerkleRoot(leaves []string) (string, error) {
	if len(leaves) == 0 {
		return "", fmt.Errorf("merkle root of empty leaf set")
	}

	level := make([][]byte, 0, len(leaves))
	for i, l := range leaves {
		b, err := hex.DecodeString(l)
		if err != nil {
			return "", fmt.Errorf("leaf %d is not hex: %w", i, err)
		}
		level = append(level, b)
	}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left // duplicate-last
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		level = next
	}
	return hex.EncodeToString(level[0]), nil
}

func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
