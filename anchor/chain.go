package anchor

import (
	"github.com/repomesh/core/reperr"
)

// ValidateChainLink checks that newManifest correctly extends prevManifest:
// its prev field must equal prevManifest's root, and the two partitions
// must belong to the same external-ledger network. A genesis manifest (no
// predecessor) is validated with prevManifest == nil.
func ValidateChainLink(newManifest Manifest, prevManifest *Manifest) error {
	if prevManifest == nil {
		if newManifest.Prev != nil {
			return reperr.New(reperr.KindInvalidRequest, "genesis manifest must not declare a prev root")
		}
		return nil
	}
	if newManifest.Prev == nil {
		return reperr.New(reperr.KindInvalidRequest, "non-genesis manifest is missing its prev root")
	}
	if *newManifest.Prev != prevManifest.Root {
		return reperr.New(reperr.KindRootMismatch, "manifest prev does not match the predecessor's root")
	}
	if newManifest.Network != prevManifest.Network {
		return reperr.New(reperr.KindInvalidRequest, "chained manifests target different networks")
	}
	return nil
}

// WalkChain follows prev pointers backward starting from head, loading each
// manifest through get, until it reaches a genesis manifest (Prev == nil)
// or fails to retrieve one. The returned slice is ordered newest-first.
func WalkChain(head Manifest, get func(partitionID string) (Manifest, error), resolvePartitionForRoot func(root string) (string, bool)) ([]Manifest, error) {
	chain := []Manifest{head}
	cur := head
	for cur.Prev != nil {
		partitionID, ok := resolvePartitionForRoot(*cur.Prev)
		if !ok {
			break
		}
		prev, err := get(partitionID)
		if err != nil {
			return chain, err
		}
		chain = append(chain, prev)
		cur = prev
	}
	return chain, nil
}
