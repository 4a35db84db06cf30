package anchor

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/repomesh/core/reperr"
)

// MerkleRoot computes the bottom-up binary Merkle root of leaves. A
// single-leaf tree's root is that leaf. Odd levels duplicate their final
// node before pairing, per the round-trip property every anchor manifest
// relies on.
func MerkleRoot(leaves [][]byte) ([]byte, error) {
	if len(leaves) == 0 {
		return nil, reperr.New(reperr.KindPartitionLeafMismatch, "cannot compute a Merkle root over zero leaves")
	}
	level := make([][]byte, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			h := sha256.New()
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		level = next
	}
	return level[0], nil
}

// MerkleRootHex is MerkleRoot over hex-encoded leaves, returning a
// lowercase hex root. Used directly against canonicalHash leaves.
func MerkleRootHex(leavesHex []string) (string, error) {
	leaves := make([][]byte, 0, len(leavesHex))
	for _, lh := range leavesHex {
		b, err := hex.DecodeString(lh)
		if err != nil {
			return "", reperr.Wrap(reperr.KindMalformedEvent, "leaf is not valid hex: "+lh, err)
		}
		leaves = append(leaves, b)
	}
	root, err := MerkleRoot(leaves)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(root), nil
}
