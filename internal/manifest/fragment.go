package manifest

import "github.com/wuxler/vlog/internal/setsum"

// Fragment describes one immutable, self-verifying batch of records written
// to the log, as recorded in a manifest or snapshot.
type Fragment struct {
	ID       FragmentID     `json:"id"`
	Path     string         `json:"path"`
	Start    LogPosition    `json:"start"`
	Limit    LogPosition    `json:"limit"`
	NumBytes uint64         `json:"num_bytes"`
	Setsum   setsum.Setsum  `json:"setsum"`
}

// NumRecords returns how many records the fragment covers.
func (f Fragment) NumRecords() uint64 {
	return f.Limit.Sub(f.Start)
}

// SnapshotPointer is a reference to a persisted Snapshot blob, as recorded
// in a manifest or in a deeper snapshot.
type SnapshotPointer struct {
	Path     string        `json:"path"`
	Start    LogPosition   `json:"start"`
	Limit    LogPosition   `json:"limit"`
	NumBytes uint64        `json:"num_bytes"`
	Setsum   setsum.Setsum `json:"setsum"`
	Depth    int           `json:"depth"`
}

// NumRecords returns how many records the pointed-to snapshot covers.
func (p SnapshotPointer) NumRecords() uint64 {
	return p.Limit.Sub(p.Start)
}
