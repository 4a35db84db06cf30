package anchor

import (
	"strings"
	"time"

	"github.com/repomesh/core/event"
	"github.com/repomesh/core/reperr"
)

// AnchorEventType is the check kind an anchor-producing AttestationPublished
// event carries.
const AnchorEventType = "ledger.anchor"

const isoDatePrefixLen = len("2006-01-02")

// SelectPartition returns, in log order, the events belonging to
// partitionID and their canonical hashes.
//
// partitionID is one of "all", "genesis" (a synonym for "all" used only
// when no prior anchor exists), "<yyyy-mm-dd>", or "since:<iso-ts>".
func SelectPartition(events []event.Event, partitionID string) ([]event.Event, []string, error) {
	var selected []event.Event

	switch {
	case partitionID == "all" || partitionID == "genesis":
		selected = events

	case strings.HasPrefix(partitionID, "since:"):
		ts := strings.TrimPrefix(partitionID, "since:")
		idx := -1
		for i, e := range events {
			if e.Type == event.TypeAttestationPublished && isoTimestamp(e.Timestamp) == ts {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, reperr.New(reperr.KindInvalidRequest, "since: partition references an unknown anchor timestamp: "+ts)
		}
		selected = events[idx+1:]

	case len(partitionID) == isoDatePrefixLen:
		for _, e := range events {
			if strings.HasPrefix(isoTimestamp(e.Timestamp), partitionID) {
				selected = append(selected, e)
			}
		}

	default:
		return nil, nil, reperr.New(reperr.KindInvalidRequest, "unrecognized partition selector: "+partitionID)
	}

	hashes := make([]string, 0, len(selected))
	filtered := make([]event.Event, 0, len(selected))
	for _, e := range selected {
		h, err := e.CanonicalHash()
		if err != nil {
			return nil, nil, err
		}
		if len(h) != 64 {
			continue // defensive: every admitted event already satisfies this
		}
		filtered = append(filtered, e)
		hashes = append(hashes, h)
	}
	return filtered, hashes, nil
}

func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// NextPartitionID returns the partition selector for the next anchor run:
// "since:<ts>" if lastAnchorTimestamp is non-empty, else "genesis". An
// anchor event is only logged after the partition it anchors has already
// been materialized, so it never appears as one of that partition's own
// leaves — it becomes a leaf of the partition materialized after it.
func NextPartitionID(lastAnchorTimestamp string) string {
	if lastAnchorTimestamp == "" {
		return "genesis"
	}
	return "since:" + lastAnchorTimestamp
}
