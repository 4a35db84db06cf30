// Package cidutil derives the CIDv1 content identifier used to name
// canonical manifests and participant records wherever a content-addressed
// alias to a JSON blob is useful outside repomesh's own canonicalHash and
// manifestHash fields — for example when a manifest or participant record
// is mirrored into an IPFS-compatible content store.
package cidutil

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Derive returns the CIDv1 string for data, using the "raw" multicodec and
// a sha2-256 multihash.
func Derive(data []byte) (string, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}
