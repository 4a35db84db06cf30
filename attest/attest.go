// Package attest implements the multi-source attestation aggregator: it
// groups AttestationPublished events by (target repo, target version, check
// kind) and resolves the surviving verdicts to a single consensus under a
// per-check policy.
package attest

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/repomesh/core/event"
)

// Verdict is the observable outcome of one check by one verifier. The string
// values must agree with registry.Verdict and with the attestor URI grammar.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictWarn Verdict = "warn"
	VerdictFail Verdict = "fail"
)

// Consensus is the resolved verdict for a check across its surviving
// sources, or one of the two non-verdict outcomes a policy can produce.
type Consensus string

const (
	ConsensusPass      Consensus = "pass"
	ConsensusWarn      Consensus = "warn"
	ConsensusFail      Consensus = "fail"
	ConsensusMixed     Consensus = "mixed"
	ConsensusUntrusted Consensus = "untrusted"
)

// Mode selects how a check's policy restricts eligible sources.
type Mode string

const (
	ModeOpen       Mode = "open"
	ModeTrustedSet Mode = "trusted-set"
)

// ConflictPolicy resolves disagreement among surviving sources.
type ConflictPolicy string

const (
	ConflictFailWins   ConflictPolicy = "fail-wins"
	ConflictMajority   ConflictPolicy = "majority"
	ConflictQuorumPass ConflictPolicy = "quorum-pass"
)

// Policy is the per-check verifier policy: which sources count, and how
// disagreement among them resolves.
type Policy struct {
	Mode           Mode
	TrustedNodes   []string
	ConflictPolicy ConflictPolicy
	Quorum         int
}

func (p Policy) trustedSet() map[string]bool {
	set := make(map[string]bool, len(p.TrustedNodes))
	for _, n := range p.TrustedNodes {
		set[n] = true
	}
	return set
}

// NodeResolver maps a signing key to the participant id (node) it belongs
// to, so sources can be deduplicated and trust-filtered per node rather
// than per key.
type NodeResolver interface {
	NodeOf(keyID string) (string, bool)
}

// Triple identifies one aggregation group: a target release's one check.
type Triple struct {
	Repo      string
	Version   string
	CheckKind string
}

// source is a single verifier's observation, before dedup and policy.
type source struct {
	node      string
	verdict   Verdict
	timestamp int64 // unix millis, for earliest-observation-wins dedup
}

// Result is one group's aggregated outcome.
type Result struct {
	Triple    Triple
	Consensus Consensus
	Sources   int // count of surviving sources after dedup and trust filtering
}

// Dispute is an attestation.dispute event surfaced alongside the aggregate.
// It is purely observational and never changes a Result's Consensus.
type Dispute struct {
	Repo        string
	Version     string
	SignerNode  string
	TargetHash  string
	EventCommit string
}

type disputeNotes struct {
	TargetHash string `json:"targetHash"`
}

// ExtractVerdict reads the verdict a single AttestationPublished event
// carries for checkKind, from the attestation URI grammar first and the
// structured notes prefix ("<kind>: <verdict> — <reason>") second.
func ExtractVerdict(e event.Event, checkKind string) (Verdict, bool) {
	for _, a := range e.Attestations {
		if a.Type != checkKind {
			continue
		}
		if kind, verdict, ok := event.ParseAttestorURI(a.URI); ok && kind == checkKind {
			return Verdict(verdict), true
		}
	}
	prefix := checkKind + ": "
	if !strings.HasPrefix(e.Notes, prefix) {
		return "", false
	}
	rest := e.Notes[len(prefix):]
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		rest = rest[:idx]
	}
	verdictStr, _, _ := strings.Cut(rest, " — ")
	switch Verdict(verdictStr) {
	case VerdictPass, VerdictWarn, VerdictFail:
		return Verdict(verdictStr), true
	default:
		return "", false
	}
}

// checkKinds returns every distinct check kind e carries an attestation for.
func checkKinds(e event.Event) []string {
	seen := make(map[string]bool)
	var kinds []string
	for _, a := range e.Attestations {
		if a.Type == "" || seen[a.Type] {
			continue
		}
		seen[a.Type] = true
		kinds = append(kinds, a.Type)
	}
	return kinds
}

// Aggregate groups every AttestationPublished event in events by
// (repo, version, check kind), resolves each group's consensus under
// policies (keyed by check kind, falling back to defaultPolicy when a check
// has none), and surfaces attestation.dispute events separately.
func Aggregate(events []event.Event, resolver NodeResolver, policies map[string]Policy, defaultPolicy Policy) ([]Result, []Dispute, error) {
	type key struct {
		Triple
	}
	sources := make(map[key][]source)
	var disputes []Dispute

	for _, e := range events {
		if e.Type != event.TypeAttestationPublished {
			continue
		}
		node, ok := resolver.NodeOf(e.Signature.KeyID)
		if !ok {
			continue
		}
		for _, kind := range checkKinds(e) {
			if kind == "attestation.dispute" {
				var dn disputeNotes
				if idx := strings.IndexByte(e.Notes, '\n'); idx >= 0 {
					_ = json.Unmarshal([]byte(e.Notes[idx+1:]), &dn)
				}
				disputes = append(disputes, Dispute{
					Repo: e.Repo, Version: e.Version, SignerNode: node,
					TargetHash: dn.TargetHash, EventCommit: e.Commit,
				})
				continue
			}
			verdict, ok := ExtractVerdict(e, kind)
			if !ok {
				continue
			}
			k := key{Triple{Repo: e.Repo, Version: e.Version, CheckKind: kind}}
			sources[k] = append(sources[k], source{
				node: node, verdict: verdict, timestamp: e.Timestamp.UnixMilli(),
			})
		}
	}

	results := make([]Result, 0, len(sources))
	for k, obs := range sources {
		policy, ok := policies[k.CheckKind]
		if !ok {
			policy = defaultPolicy
		}
		deduped := dedupeByNode(obs)
		consensus, survivors := resolveConsensus(deduped, policy)
		results = append(results, Result{Triple: k.Triple, Consensus: consensus, Sources: survivors})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Triple.Repo != results[j].Triple.Repo {
			return results[i].Triple.Repo < results[j].Triple.Repo
		}
		if results[i].Triple.Version != results[j].Triple.Version {
			return results[i].Triple.Version < results[j].Triple.Version
		}
		return results[i].Triple.CheckKind < results[j].Triple.CheckKind
	})
	sort.Slice(disputes, func(i, j int) bool {
		if disputes[i].Repo != disputes[j].Repo {
			return disputes[i].Repo < disputes[j].Repo
		}
		return disputes[i].Version < disputes[j].Version
	})
	return results, disputes, nil
}

// dedupeByNode keeps, for each signer node, only its earliest observation.
func dedupeByNode(obs []source) []source {
	best := make(map[string]source, len(obs))
	for _, s := range obs {
		cur, ok := best[s.node]
		if !ok || s.timestamp < cur.timestamp {
			best[s.node] = s
		}
	}
	out := make([]source, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	return out
}

func resolveConsensus(obs []source, policy Policy) (Consensus, int) {
	if policy.Mode == ModeTrustedSet {
		trusted := policy.trustedSet()
		filtered := make([]source, 0, len(obs))
		for _, s := range obs {
			if trusted[s.node] {
				filtered = append(filtered, s)
			}
		}
		obs = filtered
	}
	if len(obs) == 0 {
		return ConsensusUntrusted, 0
	}

	unanimous := true
	for _, s := range obs[1:] {
		if s.verdict != obs[0].verdict {
			unanimous = false
			break
		}
	}
	if unanimous {
		return Consensus(obs[0].verdict), len(obs)
	}

	counts := map[Verdict]int{}
	for _, s := range obs {
		counts[s.verdict]++
	}

	switch policy.ConflictPolicy {
	case ConflictQuorumPass:
		q := policy.Quorum
		if q < 1 {
			q = 1
		}
		if counts[VerdictPass] >= q {
			return ConsensusPass, len(obs)
		}
		return ConsensusFail, len(obs)

	case ConflictMajority:
		best := Verdict("")
		bestCount := -1
		for _, v := range []Verdict{VerdictFail, VerdictWarn, VerdictPass} {
			if counts[v] > bestCount {
				best, bestCount = v, counts[v]
			}
		}
		return Consensus(best), len(obs)

	case ConflictFailWins:
		fallthrough
	default:
		if counts[VerdictFail] > 0 {
			return ConsensusFail, len(obs)
		}
		if counts[VerdictWarn] > 0 {
			return ConsensusWarn, len(obs)
		}
		return ConsensusMixed, len(obs)
	}
}
