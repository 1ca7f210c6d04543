package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/wuxler/vlog/internal/setsum"
)

// Snapshot is a persisted, content-addressed blob that replaces a run of
// fragments (at depth 1) or a run of same-depth snapshot pointers (at depth
// >1) with a single pointer covering their combined range. Snapshots are
// immutable once written and are never rewritten in place; garbage
// collection replaces them wholesale.
type Snapshot struct {
	Writer    string            `json:"writer"`
	Depth     int               `json:"depth"`
	Start     LogPosition       `json:"start"`
	Limit     LogPosition       `json:"limit"`
	Setsum    setsum.Setsum     `json:"setsum"`
	Fragments []Fragment        `json:"fragments,omitempty"`
	Snapshots []SnapshotPointer `json:"snapshots,omitempty"`
}

// NumBytes sums the byte footprint of everything the snapshot directly
// references, for the pointer's accounting.
func (s Snapshot) NumBytes() uint64 {
	var total uint64
	for _, f := range s.Fragments {
		total += f.NumBytes
	}
	for _, p := range s.Snapshots {
		total += p.NumBytes
	}
	return total
}

// Pointer builds the SnapshotPointer a parent manifest or deeper snapshot
// should record for s, once s has been persisted at path.
func (s Snapshot) Pointer(path string) SnapshotPointer {
	return SnapshotPointer{
		Path:     path,
		Start:    s.Start,
		Limit:    s.Limit,
		NumBytes: s.NumBytes(),
		Setsum:   s.Setsum,
		Depth:    s.Depth,
	}
}

// Encode serializes s for storage. The wire format is plain JSON: the
// snapshot is an internal bookkeeping object with no cross-language or
// cross-version compatibility requirement, so the stdlib encoder is enough.
func (s Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("manifest: encoding snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a Snapshot previously produced by Encode.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("manifest: decoding snapshot: %w", err)
	}
	return s, nil
}

// buildSnapshot folds a contiguous run of fragments into a new depth-1
// snapshot, or a contiguous run of same-depth pointers into a new
// depth+1 snapshot. Exactly one of fragments or pointers is non-empty.
func buildSnapshot(writer string, fragments []Fragment, pointers []SnapshotPointer) Snapshot {
	s := Snapshot{Writer: writer}
	switch {
	case len(fragments) > 0:
		s.Depth = 1
		s.Fragments = fragments
		s.Start = fragments[0].Start
		s.Limit = fragments[len(fragments)-1].Limit
		for _, f := range fragments {
			s.Setsum = s.Setsum.Plus(f.Setsum)
		}
	case len(pointers) > 0:
		s.Depth = pointers[0].Depth + 1
		s.Snapshots = pointers
		s.Start = pointers[0].Start
		s.Limit = pointers[len(pointers)-1].Limit
		for _, p := range pointers {
			s.Setsum = s.Setsum.Plus(p.Setsum)
		}
	}
	return s
}
