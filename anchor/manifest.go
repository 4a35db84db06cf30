package anchor

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"github.com/repomesh/core/canon"
	"github.com/repomesh/core/cidutil"
	"github.com/repomesh/core/reperr"
)

const SchemaVersion = 1
const algo = "sha256-merkle-v1"

// Manifest is a single partition's anchor record. manifestHash is computed
// over the canonical-sorted JSON of every other field; the file on disk is
// pretty-printed for human review but carries identical values.
type Manifest struct {
	V            int      `json:"v"`
	Algo         string   `json:"algo"`
	PartitionID  string   `json:"partitionId"`
	Network      string   `json:"network"`
	Prev         *string  `json:"prev"`
	Range        []string `json:"range"`
	Count        int      `json:"count"`
	Root         string   `json:"root"`
	ManifestHash string   `json:"manifestHash"`
}

// manifestBase mirrors Manifest without ManifestHash, the exact shape
// manifestHash is computed over.
type manifestBase struct {
	V           int      `json:"v"`
	Algo        string   `json:"algo"`
	PartitionID string   `json:"partitionId"`
	Network     string   `json:"network"`
	Prev        *string  `json:"prev"`
	Range       []string `json:"range"`
	Count       int      `json:"count"`
	Root        string   `json:"root"`
}

// Materialize builds a complete, self-binding manifest for a partition's
// leaves (canonicalHash values, in partition order).
func Materialize(partitionID, network string, prevRoot *string, leaves []string) (Manifest, error) {
	if len(leaves) == 0 {
		return Manifest{}, reperr.New(reperr.KindPartitionLeafMismatch, "partition has no leaves to anchor")
	}
	root, err := MerkleRootHex(leaves)
	if err != nil {
		return Manifest{}, err
	}
	base := manifestBase{
		V:           SchemaVersion,
		Algo:        algo,
		PartitionID: partitionID,
		Network:     network,
		Prev:        prevRoot,
		Range:       []string{leaves[0], leaves[len(leaves)-1]},
		Count:       len(leaves),
		Root:        root,
	}
	hash, err := manifestHashOf(base)
	if err != nil {
		return Manifest{}, err
	}
	return Manifest{
		V: base.V, Algo: base.Algo, PartitionID: base.PartitionID, Network: base.Network,
		Prev: base.Prev, Range: base.Range, Count: base.Count, Root: base.Root, ManifestHash: hash,
	}, nil
}

func manifestHashOf(base manifestBase) (string, error) {
	b, err := canon.Marshal(base)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// VerifySelfBinding recomputes manifestHash from m's other fields and
// compares it against the stored value.
func (m Manifest) VerifySelfBinding() error {
	base := manifestBase{V: m.V, Algo: m.Algo, PartitionID: m.PartitionID, Network: m.Network, Prev: m.Prev, Range: m.Range, Count: m.Count, Root: m.Root}
	want, err := manifestHashOf(base)
	if err != nil {
		return err
	}
	if want != m.ManifestHash {
		return reperr.New(reperr.KindManifestTampered, "manifestHash does not match recomputed value")
	}
	return nil
}

// CID derives m's content identifier over its full canonical JSON encoding
// (manifestHash included), for mirroring a manifest into an IPFS-compatible
// content store keyed independently of the local filesystem's partitionId
// naming.
func (m Manifest) CID() (string, error) {
	b, err := canon.Marshal(m)
	if err != nil {
		return "", err
	}
	return cidutil.Derive(b)
}

var unsafePartitionChars = regexp.MustCompile(`[^a-zA-Z0-9_.:-]`)

// FileNameFor sanitizes a partitionId into a stable, filesystem-safe name.
func FileNameFor(partitionID string) string {
	sanitized := unsafePartitionChars.ReplaceAllString(partitionID, "_")
	return sanitized + ".manifest.json"
}

// Store is a write-once directory of manifest files, one per partitionId.
// It mirrors the O_EXCL-then-compare discipline used elsewhere in this
// codebase for immutable content: a manifest already on disk is either
// byte-identical (idempotent re-materialization) or the write is rejected.
type Store struct {
	dir string
}

// NewStore roots a manifest Store at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Put writes m's manifest file, pretty-printed with two-space indentation.
// If a file already exists for m.PartitionID, its values must agree with m
// exactly, or ManifestConflict is returned.
func (s *Store) Put(m Manifest) error {
	path := filepath.Join(s.dir, FileNameFor(m.PartitionID))
	pretty, err := prettyPrint(m)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			existing, gerr := s.Get(m.PartitionID)
			if gerr != nil {
				return reperr.New(reperr.KindManifestConflict, "existing manifest file for "+m.PartitionID+" is unreadable")
			}
			if !manifestsEqual(existing, m) {
				return reperr.New(reperr.KindManifestConflict, "manifest for "+m.PartitionID+" already exists with different values")
			}
			return nil
		}
		return err
	}
	defer f.Close()

	if _, err := f.Write(pretty); err != nil {
		_ = os.Remove(path)
		return err
	}
	return f.Sync()
}

// Get loads and parses the manifest file for partitionID.
func (s *Store) Get(partitionID string) (Manifest, error) {
	path := filepath.Join(s.dir, FileNameFor(partitionID))
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, reperr.Wrap(reperr.KindManifestUnavailable, "no manifest for partition "+partitionID, err)
		}
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, reperr.Wrap(reperr.KindManifestUnavailable, "manifest for "+partitionID+" is corrupt", err)
	}
	return m, nil
}

func manifestsEqual(a, b Manifest) bool {
	ab, _ := canon.Marshal(a)
	bb, _ := canon.Marshal(b)
	return bytes.Equal(ab, bb)
}

func prettyPrint(m Manifest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
