package registry

// Verdict mirrors the three-valued outcome a check can settle on. It is
// duplicated here (rather than imported from attest) to keep registry free
// of a dependency on the aggregation layer; the string values agree.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictWarn Verdict = "warn"
	VerdictFail Verdict = "fail"
)

// AssuranceWeights gives the point value awarded for each verdict of a
// single assurance check.
type AssuranceWeights struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// RequiredChecks partitions a profile's checks into the integrity and
// assurance dimensions scored independently by the scoring engine.
type RequiredChecks struct {
	Integrity []string `json:"integrity,omitempty"`
	Assurance []string `json:"assurance,omitempty"`
}

// Scoring carries the per-check weight table a profile contributes to the
// effective configuration.
type Scoring struct {
	AssuranceWeights map[string]AssuranceWeights `json:"assuranceWeights,omitempty"`
}

// Profile is a named, reusable requirements bundle: baseline, open-source,
// regulated, or any operator-defined variant.
type Profile struct {
	Name             string         `json:"name"`
	RequiredEvidence []string       `json:"requiredEvidence,omitempty"` // subset of {sbom, provenance}
	RequiredChecks   RequiredChecks `json:"requiredChecks"`
	Scoring          Scoring        `json:"scoring"`
}

// IgnoredVuln is a security-policy exception; justification is mandatory so
// the override reads as a decision rather than a silent suppression.
type IgnoredVuln struct {
	ID            string `json:"id"`
	Justification string `json:"justification"`
}

// LicensePolicy carries a target's license-policy adjustments over its
// profile's defaults.
type LicensePolicy struct {
	AllowlistAdd    []string `json:"allowlistAdd,omitempty"`
	AllowlistRemove []string `json:"allowlistRemove,omitempty"`
	TreatUnknownAs  string   `json:"treatUnknownAs,omitempty"` // "warn" | "fail"
}

// SecurityPolicy carries a target's vulnerability-policy adjustments.
type SecurityPolicy struct {
	IgnoreVulns      []IgnoredVuln `json:"ignoreVulns,omitempty"`
	FailOnSeverities []string      `json:"failOnSeverities,omitempty"`
}

// Overrides is a per-target leaf document layered atop a profile. Target
// values win over profile values wherever both are present.
type Overrides struct {
	License  LicensePolicy  `json:"license"`
	Security SecurityPolicy `json:"security"`
	Scoring  Scoring        `json:"scoring"`
}

// EffectiveConfig is the result of layering base defaults, a named
// profile, and a target's overrides, in that precedence order (target
// wins). Only the fields the scoring engine consumes are carried here;
// license/security policy fields exist for the attestation/consensus layer
// to consult when it decides whether a violation is in fact a violation.
type EffectiveConfig struct {
	RequiredEvidence []string
	RequiredChecks   RequiredChecks
	AssuranceWeights map[string]AssuranceWeights
	License          LicensePolicy
	Security         SecurityPolicy
}

// baseAssuranceWeights is the network-wide default table. It is empty: a
// check has weights only when a profile or override supplies them, and a
// check with no weights awards 0 for every verdict.
var baseAssuranceWeights = map[string]AssuranceWeights{}

// Effective computes a target's effective configuration by layering the
// base defaults with profile p and overrides o, in that order.
func Effective(p Profile, o Overrides) EffectiveConfig {
	weights := make(map[string]AssuranceWeights, len(baseAssuranceWeights)+len(p.Scoring.AssuranceWeights)+len(o.Scoring.AssuranceWeights))
	for k, v := range baseAssuranceWeights {
		weights[k] = v
	}
	for k, v := range p.Scoring.AssuranceWeights {
		weights[k] = v
	}
	for k, v := range o.Scoring.AssuranceWeights {
		weights[k] = v
	}

	cfg := EffectiveConfig{
		RequiredEvidence: p.RequiredEvidence,
		RequiredChecks:   p.RequiredChecks,
		AssuranceWeights: weights,
		Security:         o.Security,
	}

	cfg.License = o.License
	if cfg.License.TreatUnknownAs == "" {
		cfg.License.TreatUnknownAs = "warn"
	}
	return cfg
}
