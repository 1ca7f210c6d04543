package manifest

import "fmt"

// ManifestKey is the single mutable object every writer and reader of a log
// CAS-updates and reads, per the §6 key layout.
const ManifestKey = "MANIFEST"

// GarbageKey is the pending-garbage marker object created at the start of a
// garbage collection pass and deleted at its end, making the pass resumable
// after a crash.
const GarbageKey = "gc/GARBAGE"

// FragmentPrefix is the key prefix every fragment blob is written under.
const FragmentPrefix = "log/"

// SnapshotPrefix is the key prefix every snapshot blob is written under.
const SnapshotPrefix = "snapshot/"

// FragmentPath returns the object key a fragment with the given ID is
// written to.
func FragmentPath(id FragmentID) string {
	return fmt.Sprintf("%s%s.parquet", FragmentPrefix, id)
}

// SnapshotPath returns the object key a snapshot with the given content
// setsum is written to. Snapshots are content-addressed: two writers that
// independently build the same snapshot contents race harmlessly, since
// PutIfAbsent on an identical key with identical bytes is idempotent.
func SnapshotPath(hexdigest string) string {
	return fmt.Sprintf("%s%s.snapshot", SnapshotPrefix, hexdigest)
}

// CursorKey returns the object key a named cursor is stored at.
func CursorKey(name string) string {
	return fmt.Sprintf("cursor/%s", name)
}
