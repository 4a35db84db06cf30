// Package evlog implements the append-only event log: a UTF-8,
// line-delimited JSON file admitting new events under a fixed, ordered set
// of checks.
package evlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/repomesh/core/event"
	"github.com/repomesh/core/reperr"
)

// maxPastSkew and maxFutureSkew bound how far an event's timestamp may drift
// from wall clock time at admission.
const (
	maxPastSkew   = 365 * 24 * time.Hour
	maxFutureSkew = time.Hour
)

// Log is a handle on a single append-only log file.
type Log struct {
	path string
}

// Open returns a handle to the log file at path. The file need not exist
// yet; it is created on first Append.
func Open(path string) *Log {
	return &Log{path: path}
}

// entryKey is the admission-uniqueness key. Open Question 1 in the network
// design resolves attestation-event identity by including the signer:
// (repo, version, type) alone cannot admit more than one verifier's
// opinion about the same release.
type entryKey struct {
	repo    string
	version string
	typ     event.Type
	keyID   string
}

// ReadAll parses every line currently in the log. It is the baseline
// Append compares new batches against, and the read path every other
// component (aggregation, scoring, verification) uses to see the log's
// current state.
func (l *Log) ReadAll() ([]event.Event, error) {
	raw, err := l.readRawLines()
	if err != nil {
		return nil, err
	}
	events := make([]event.Event, 0, len(raw))
	for _, line := range raw {
		var e event.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, reperr.Wrap(reperr.KindMalformedEvent, "log contains malformed event", err)
		}
		events = append(events, e)
	}
	return events, nil
}

func (l *Log) readRawLines() ([][]byte, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Append admits a batch of raw JSON lines (one event each) onto the log,
// enforcing every rule in order, and returns the parsed, validated events
// in admission order. The whole batch is accepted or rejected; on
// rejection the log file is left byte-identical to before the call.
func (l *Log) Append(batch [][]byte, resolver event.KeyResolver) ([]event.Event, error) {
	baseline, err := l.readRawLines()
	if err != nil {
		return nil, err
	}
	current, err := os.ReadFile(l.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	// 1. Append-only check: re-read immediately before validating, so a
	// concurrent writer that already extended the file is caught rather
	// than silently overwritten.
	freshBaseline, err := l.readRawLines()
	if err != nil {
		return nil, err
	}
	if !linesEqual(baseline, freshBaseline) {
		return nil, reperr.New(reperr.KindLogRewrite, "log baseline changed since it was read")
	}

	seen := make(map[entryKey]bool, len(baseline)+len(batch))
	for _, line := range baseline {
		var e event.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, reperr.Wrap(reperr.KindMalformedEvent, "existing log line is malformed", err)
		}
		seen[keyOf(e)] = true
	}

	now := time.Now().UTC()
	parsed := make([]event.Event, 0, len(batch))
	for _, line := range batch {
		// 2. Per-event parse.
		var e event.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, reperr.Wrap(reperr.KindMalformedEvent, "batch contains malformed event", err)
		}

		// 3. Schema conformance.
		if err := e.ValidateSchema(); err != nil {
			return nil, err
		}

		// 4. Timestamp sanity.
		if e.Timestamp.Before(now.Add(-maxPastSkew)) || e.Timestamp.After(now.Add(maxFutureSkew)) {
			return nil, reperr.New(reperr.KindTimestampOutOfRange,
				fmt.Sprintf("timestamp %s outside [%s, %s]", e.Timestamp, now.Add(-maxPastSkew), now.Add(maxFutureSkew)))
		}

		// 5. Uniqueness.
		k := keyOf(e)
		if seen[k] {
			return nil, reperr.New(reperr.KindDuplicateEvent,
				fmt.Sprintf("duplicate (repo,version,type,signerKeyId): (%s,%s,%s,%s)", e.Repo, e.Version, e.Type, e.Signature.KeyID))
		}
		seen[k] = true

		// 6 & 7. Content-hash agreement and signature verification.
		if err := event.Verify(e, resolver); err != nil {
			return nil, err
		}

		parsed = append(parsed, e)
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Re-check the byte count right before writing to narrow (not
	// eliminate; the filesystem affords no locking primitive here) the
	// race window between the freshness re-read above and the write.
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() != int64(len(current)) {
		return nil, reperr.New(reperr.KindLogRewrite, "log grew between validation and write")
	}

	var buf bytes.Buffer
	for _, line := range batch {
		buf.Write(bytes.TrimRight(line, "\n"))
		buf.WriteByte('\n')
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, err
	}
	return parsed, nil
}

func keyOf(e event.Event) entryKey {
	k := entryKey{repo: e.Repo, version: e.Version, typ: e.Type}
	if e.Type == event.TypeAttestationPublished {
		k.keyID = e.Signature.KeyID
	}
	return k
}

func linesEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
