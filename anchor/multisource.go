package anchor

import "github.com/repomesh/core/reperr"

// ManifestGetter is the read half of Store's interface, satisfied by *Store
// itself and by RemoteSource (an adapter over the gRPC ManifestClient), so
// MultiSource can mix local and remote manifest sources.
type ManifestGetter interface {
	Get(partitionID string) (Manifest, error)
}

// MultiSource provides deterministic, ordered fallback across manifest
// sources: a local Store first, then a remote daemon, or whatever fixed
// order the caller supplies. Sources are tried in slice order; the first
// hit wins. A source's ManifestUnavailable is treated as "try the next
// one" — any other error aborts the walk immediately, since it signals a
// problem with the source itself rather than a missing manifest.
type MultiSource struct {
	Sources []ManifestGetter
}

// Get implements ManifestGetter.
func (m MultiSource) Get(partitionID string) (Manifest, error) {
	if len(m.Sources) == 0 {
		return Manifest{}, reperr.New(reperr.KindManifestUnavailable, "no manifest sources configured")
	}
	var lastErr error
	for _, src := range m.Sources {
		mf, err := src.Get(partitionID)
		if err == nil {
			return mf, nil
		}
		if reperr.KindOf(err) == reperr.KindManifestUnavailable {
			lastErr = err
			continue
		}
		return Manifest{}, err
	}
	return Manifest{}, lastErr
}
