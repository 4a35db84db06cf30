package anchor

import (
	"crypto/ed25519"
	"encoding/json"
	"strings"
	"time"

	"github.com/repomesh/core/event"
	"github.com/repomesh/core/reperr"
)

// TransactionResult is the outcome of submitting the self-payment carrying
// an anchor memo, as returned by the external-ledger client this engine
// consumes.
type TransactionResult struct {
	TxHash        string
	WalletAddress string
}

// AnchorNotes is the structured JSON tail attached to an anchor event's
// notes field, after a separating newline.
type AnchorNotes struct {
	TxHash        string   `json:"txHash"`
	Network       string   `json:"network"`
	WalletAddress string   `json:"walletAddress"`
	PartitionID   string   `json:"partitionId"`
	MerkleRoot    string   `json:"merkleRoot"`
	Algo          string   `json:"algo"`
	Prev          *string  `json:"prev"`
	Range         []string `json:"range"`
	ManifestPath  string   `json:"manifestPath"`
}

type anchorNotes = AnchorNotes

// DecodeAnchorNotes extracts the structured tail from an anchor event's
// notes field, the part after its first newline.
func DecodeAnchorNotes(notes string) (AnchorNotes, error) {
	idx := strings.IndexByte(notes, '\n')
	if idx < 0 {
		return AnchorNotes{}, reperr.New(reperr.KindMalformedEvent, "anchor event notes has no structured tail")
	}
	var an AnchorNotes
	if err := json.Unmarshal([]byte(notes[idx+1:]), &an); err != nil {
		return AnchorNotes{}, reperr.Wrap(reperr.KindMalformedEvent, "anchor event notes tail is not valid JSON", err)
	}
	if an.PartitionID == "" {
		return AnchorNotes{}, reperr.New(reperr.KindMalformedEvent, "anchor event notes missing partitionId")
	}
	return an, nil
}

// BuildAnchorEvent constructs the AttestationPublished event that re-enters
// the log after a successful external-ledger submission. It carries no
// artifacts; its only attestation is a "ledger.anchor" pass verdict, and the
// anchor metadata itself is recorded in the structured notes tail.
func BuildAnchorEvent(m Manifest, tx TransactionResult, manifestPath string, repo string) (event.Event, error) {
	notes, err := json.Marshal(anchorNotes{
		TxHash: tx.TxHash, Network: m.Network, WalletAddress: tx.WalletAddress,
		PartitionID: m.PartitionID, MerkleRoot: m.Root, Algo: m.Algo,
		Prev: m.Prev, Range: m.Range, ManifestPath: manifestPath,
	})
	if err != nil {
		return event.Event{}, err
	}

	return event.Event{
		Type:      event.TypeAttestationPublished,
		Repo:      repo,
		Version:   m.PartitionID,
		Commit:    m.Root[:min(len(m.Root), 40)],
		Timestamp: time.Now().UTC(),
		Attestations: []event.AttestationRef{
			{Type: AnchorEventType, URI: "repomesh:attestor:" + AnchorEventType + ":pass"},
		},
		Notes: AnchorEventType + ": pass — anchored\n" + string(notes),
	}, nil
}

// SignAnchorEvent signs a freshly built anchor event, completing it for
// admission back into the log.
func SignAnchorEvent(e event.Event, keyID string, priv ed25519.PrivateKey) (event.Event, error) {
	return event.Sign(e, keyID, priv)
}
