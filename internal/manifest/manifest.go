// Package manifest models the single mutable manifest object that anchors a
// log: which fragments and snapshot pointers currently make it up, and the
// rollover algorithm that folds old fragments into snapshots (and old
// snapshots into deeper snapshots) to keep the manifest small regardless of
// how long a log lives.
package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/wuxler/vlog/internal/setsum"
)

// RolloverOptions bounds how large the manifest's fragment and snapshot
// lists are allowed to grow before ApplyFragment folds the oldest entries
// into a new snapshot.
type RolloverOptions struct {
	// FragmentRolloverThreshold is the number of fragments the manifest
	// may hold directly before the oldest FragmentRolloverThreshold of
	// them are folded into a depth-1 snapshot.
	FragmentRolloverThreshold int

	// SnapshotRolloverThreshold is the number of same-depth snapshot
	// pointers the manifest may hold in one contiguous run before the
	// oldest such run is folded into one pointer one depth deeper.
	SnapshotRolloverThreshold int
}

// Manifest is the log's single source of truth for what has been written:
// every live fragment not yet folded into a snapshot, every live snapshot
// pointer, and the running setsum/byte totals across everything the log has
// ever held (including what garbage collection has since removed, tracked
// separately in CollectedSetsum so SetsumTotal never decreases).
type Manifest struct {
	WriterName      string            `json:"writer_name"`
	FragmentScheme  FragmentIDScheme  `json:"fragment_scheme"`
	SetsumTotal     setsum.Setsum     `json:"setsum_total"`
	CollectedSetsum setsum.Setsum     `json:"collected_setsum"`
	AccBytes        uint64            `json:"acc_bytes"`
	Fragments       []Fragment        `json:"fragments,omitempty"`
	Snapshots       []SnapshotPointer `json:"snapshots,omitempty"`
}

// NewEmpty returns the manifest a freshly initialized log starts from.
func NewEmpty(writerName string, scheme FragmentIDScheme) Manifest {
	return Manifest{WriterName: writerName, FragmentScheme: scheme}
}

// Encode serializes m for storage as the log's MANIFEST object.
func (m Manifest) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("manifest: encoding manifest: %w", err)
	}
	return data, nil
}

// Decode parses a Manifest previously produced by Encode.
func Decode(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: decoding manifest: %w", err)
	}
	return m, nil
}

// NextWritePosition is the position the next fragment appended to the log
// must start at.
func (m Manifest) NextWritePosition() LogPosition {
	if n := len(m.Fragments); n > 0 {
		return m.Fragments[n-1].Limit
	}
	if n := len(m.Snapshots); n > 0 {
		return m.Snapshots[n-1].Limit
	}
	return FirstPosition
}

// OldestLivePosition is the earliest position still reachable from this
// manifest, i.e. the position a reader starting a full scan would begin at.
func (m Manifest) OldestLivePosition() LogPosition {
	if len(m.Snapshots) > 0 {
		return m.Snapshots[0].Start
	}
	if len(m.Fragments) > 0 {
		return m.Fragments[0].Start
	}
	return FirstPosition
}

// CanApplyFragment reports whether f is the next fragment this manifest
// expects: its Start must equal NextWritePosition. A manifest manager that
// loses a CAS race reloads the current manifest and checks this before
// retrying a publish, so a fragment never gets applied twice or out of
// order.
func (m Manifest) CanApplyFragment(f Fragment) bool {
	return f.Start == m.NextWritePosition()
}

// ApplyFragment records a newly written fragment against m, then folds
// fragments (and, recursively, snapshot pointers) into new snapshots as
// needed to keep both lists within their rollover thresholds. It returns
// every Snapshot blob created in the process, in the order they must be
// persisted (each PutIfAbsent-able independently, since they are
// content-addressed); the caller is responsible for writing them to the
// object store before — or, for the create-if-absent race, concurrently
// with — publishing the updated manifest.
//
// m is mutated in place and also returned for chaining.
func (m *Manifest) ApplyFragment(f Fragment, opts RolloverOptions) (Manifest, []Snapshot, error) {
	if !m.CanApplyFragment(f) {
		return Manifest{}, nil, fmt.Errorf(
			"manifest: fragment start %s does not match next write position %s",
			f.Start, m.NextWritePosition())
	}

	m.Fragments = append(m.Fragments, f)
	m.SetsumTotal = m.SetsumTotal.Plus(f.Setsum)
	m.AccBytes += f.NumBytes

	var created []Snapshot
	created = append(created, m.rolloverFragments(opts)...)
	created = append(created, m.rolloverSnapshots(opts)...)
	return *m, created, nil
}

// rolloverFragments folds the oldest FragmentRolloverThreshold fragments
// into a new depth-1 snapshot whenever the manifest holds more than that
// threshold, repeating until the fragment list is back within bounds (in
// steady state this loop runs at most once per ApplyFragment call, since a
// single append can push the count over the threshold by at most one).
func (m *Manifest) rolloverFragments(opts RolloverOptions) []Snapshot {
	if opts.FragmentRolloverThreshold <= 0 {
		return nil
	}
	var created []Snapshot
	for len(m.Fragments) > opts.FragmentRolloverThreshold {
		run := m.Fragments[:opts.FragmentRolloverThreshold]
		rest := m.Fragments[opts.FragmentRolloverThreshold:]

		snap := buildSnapshot(m.WriterName, run, nil)
		created = append(created, snap)

		m.Fragments = append([]Fragment(nil), rest...)
		m.Snapshots = append(m.Snapshots, snap.Pointer(SnapshotPath(snap.Setsum.Hexdigest())))
	}
	return created
}

// rolloverSnapshots folds the oldest contiguous run of
// SnapshotRolloverThreshold same-depth pointers into one pointer a depth
// deeper, repeating until the snapshot list no longer has such a run
// anywhere. Only pointers sharing one depth are ever folded in one step,
// since a manifest can hold pointers of mixed depth after several rollover
// generations.
func (m *Manifest) rolloverSnapshots(opts RolloverOptions) []Snapshot {
	if opts.SnapshotRolloverThreshold <= 0 {
		return nil
	}
	var created []Snapshot
	for {
		start := -1
		for i := range m.Snapshots {
			if leadingSameDepthRun(m.Snapshots[i:], opts.SnapshotRolloverThreshold) >= opts.SnapshotRolloverThreshold {
				start = i
				break
			}
		}
		if start < 0 {
			return created
		}

		end := start + opts.SnapshotRolloverThreshold
		run := m.Snapshots[start:end]
		rest := m.Snapshots[end:]

		snap := buildSnapshot(m.WriterName, nil, run)
		created = append(created, snap)

		folded := snap.Pointer(SnapshotPath(snap.Setsum.Hexdigest()))
		m.Snapshots = append(append(append([]SnapshotPointer(nil), m.Snapshots[:start]...), folded), rest...)
	}
}

// leadingSameDepthRun returns how many pointers at the front of ptrs share
// the first pointer's depth, capped at limit (the run never needs to be
// measured past the rollover threshold).
func leadingSameDepthRun(ptrs []SnapshotPointer, limit int) int {
	if len(ptrs) == 0 {
		return 0
	}
	depth := ptrs[0].Depth
	n := 0
	for n < len(ptrs) && n < limit && ptrs[n].Depth == depth {
		n++
	}
	return n
}
