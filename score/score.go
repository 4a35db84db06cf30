// Package score implements the two-dimensional, profile-parameterized
// scoring function: an integrity score over a release's own authenticity
// posture, and an assurance score over its aggregated compliance checks,
// plus a coverage projection of expected against completed checks.
package score

import (
	"sort"

	"github.com/repomesh/core/attest"
	"github.com/repomesh/core/event"
	"github.com/repomesh/core/registry"
)

// IntegrityInputs are the six yes/no facts the integrity score is built
// from. Signed is unconditional for any release admitted into the log.
type IntegrityInputs struct {
	Signed             bool
	HasArtifacts       bool
	NoPolicyViolations bool
	SBOMPresent        bool
	ProvenancePresent  bool
	SignatureChainPass bool
}

// IntegrityScore awards fixed points per input, capped at 100.
func IntegrityScore(in IntegrityInputs) int {
	total := 0
	if in.Signed {
		total += 15
	}
	if in.HasArtifacts {
		total += 15
	}
	if in.NoPolicyViolations {
		total += 15
	}
	if in.SBOMPresent {
		total += 20
	}
	if in.ProvenancePresent {
		total += 20
	}
	if in.SignatureChainPass {
		total += 15
	}
	if total > 100 {
		total = 100
	}
	return total
}

// BuildIntegrityInputs derives IntegrityInputs for release from the
// per-check consensus map and the release's own inline attestation list —
// sbom.present and provenance.present each count as satisfied by either a
// passing consensus or an inline attestation naming the check.
func BuildIntegrityInputs(release event.Event, noPolicyViolations bool, consensus map[string]attest.Consensus) IntegrityInputs {
	return IntegrityInputs{
		Signed:             true,
		HasArtifacts:       len(release.Artifacts) > 0,
		NoPolicyViolations: noPolicyViolations,
		SBOMPresent:        consensus["sbom.present"] == attest.ConsensusPass || hasInlineAttestation(release, "sbom", "sbom.present"),
		ProvenancePresent:  consensus["provenance.present"] == attest.ConsensusPass || hasInlineAttestation(release, "provenance", "provenance.present"),
		SignatureChainPass: consensus["signature.chain"] == attest.ConsensusPass,
	}
}

func hasInlineAttestation(release event.Event, names ...string) bool {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	for _, a := range release.Attestations {
		if want[a.Type] {
			return true
		}
	}
	return false
}

// AssuranceScore sums weights[consensus] over requiredChecks — unattested
// checks award 0 — then normalizes the raw sum to 0-100 when the required
// checks' pass weights don't already total 100.
func AssuranceScore(requiredChecks []string, consensus map[string]attest.Consensus, weights map[string]registry.AssuranceWeights) int {
	if len(requiredChecks) == 0 {
		return 0
	}
	raw := 0
	passWeightSum := 0
	for _, check := range requiredChecks {
		w := weights[check]
		passWeightSum += w.Pass
		switch consensus[check] {
		case attest.ConsensusPass:
			raw += w.Pass
		case attest.ConsensusWarn:
			raw += w.Warn
		case attest.ConsensusFail:
			raw += w.Fail
		}
	}
	if passWeightSum > 0 && passWeightSum != 100 {
		raw = raw * 100 / passWeightSum
	}
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	return raw
}

// Coverage is the expected/completed/missing projection over a target's
// required checks.
type Coverage struct {
	ExpectedChecks  []string
	CompletedChecks []string
	MissingChecks   []string
}

// CoverageProjection compares requiredChecks against the checks that have
// a recorded consensus.
func CoverageProjection(requiredChecks []string, consensus map[string]attest.Consensus) Coverage {
	expected := append([]string{}, requiredChecks...)
	sort.Strings(expected)

	var completed, missing []string
	for _, check := range expected {
		if _, ok := consensus[check]; ok {
			completed = append(completed, check)
		} else {
			missing = append(missing, check)
		}
	}
	return Coverage{ExpectedChecks: expected, CompletedChecks: completed, MissingChecks: missing}
}

// ReleaseScore is the complete scoring result for one release.
type ReleaseScore struct {
	Repo      string
	Version   string
	Integrity int
	Assurance int
	Coverage  Coverage
}

// ComputeReleaseScore applies cfg (the layered effective configuration for
// release's target) over its aggregated per-check consensus map.
func ComputeReleaseScore(release event.Event, cfg registry.EffectiveConfig, noPolicyViolations bool, consensus map[string]attest.Consensus) ReleaseScore {
	integrity := IntegrityScore(BuildIntegrityInputs(release, noPolicyViolations, consensus))
	assurance := AssuranceScore(cfg.RequiredChecks.Assurance, consensus, cfg.AssuranceWeights)
	allRequired := append(append([]string{}, cfg.RequiredChecks.Integrity...), cfg.RequiredChecks.Assurance...)
	return ReleaseScore{
		Repo:      release.Repo,
		Version:   release.Version,
		Integrity: integrity,
		Assurance: assurance,
		Coverage:  CoverageProjection(allRequired, consensus),
	}
}
