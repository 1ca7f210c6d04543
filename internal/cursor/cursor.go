// Package cursor models the named, independently CAS-updated progress
// markers external consumers (compactors, replicators, the garbage
// collector itself) use to record how far they have read a log, separate
// from the manifest's own CAS cycle.
package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/objstore"
	"github.com/wuxler/vlog/internal/setsum"
	"github.com/wuxler/vlog/internal/werr"
	"github.com/wuxler/vlog/pkg/errdefs"
)

// Cursor is a named consumer's recorded progress through a log: the
// position it has consumed up to, and a witness setsum over the records it
// has seen, so a reader can detect whether the log's prefix up to Position
// still matches what this cursor last observed.
type Cursor struct {
	Name          string               `json:"name"`
	Position      manifest.LogPosition `json:"position"`
	WitnessSetsum setsum.Setsum        `json:"witness_setsum"`
}

// Stored pairs a Cursor with the ETag it was last read or written at, so a
// caller can condition its next update on exactly this revision.
type Stored struct {
	Cursor Cursor
	ETag   objstore.ETag
}

// Load fetches the named cursor. Returns an error wrapping
// errdefs.ErrNotFound if no such cursor has ever been created.
func Load(ctx context.Context, store objstore.Store, prefix, name string) (Stored, error) {
	key := objstore.JoinPrefix(prefix, manifest.CursorKey(name))
	obj, err := store.Get(ctx, key)
	if err != nil {
		return Stored{}, err
	}
	var c Cursor
	if err := json.Unmarshal(obj.Data, &c); err != nil {
		return Stored{}, werr.Wrap(werr.ErrCorruptManifest, fmt.Errorf("cursor %q: %w", name, err))
	}
	return Stored{Cursor: c, ETag: obj.ETag}, nil
}

// Create initializes a new named cursor. Returns an error wrapping
// errdefs.ErrAlreadyExists if the cursor already exists.
func Create(ctx context.Context, store objstore.Store, prefix string, c Cursor) (Stored, error) {
	key := objstore.JoinPrefix(prefix, manifest.CursorKey(c.Name))
	data, err := json.Marshal(c)
	if err != nil {
		return Stored{}, fmt.Errorf("cursor: encoding %q: %w", c.Name, err)
	}
	etag, err := store.PutIfAbsent(ctx, key, data)
	if err != nil {
		return Stored{}, err
	}
	return Stored{Cursor: c, ETag: etag}, nil
}

// Advance moves a cursor forward with a CAS against its last known ETag.
// Returns an error wrapping errdefs.ErrConflict if another writer advanced
// the cursor first; the caller should Load and retry.
func Advance(ctx context.Context, store objstore.Store, prefix string, prev Stored, next Cursor) (Stored, error) {
	if next.Position.Less(prev.Cursor.Position) {
		return Stored{}, fmt.Errorf("cursor %q: refusing to move backward from %s to %s",
			prev.Cursor.Name, prev.Cursor.Position, next.Position)
	}
	key := objstore.JoinPrefix(prefix, manifest.CursorKey(prev.Cursor.Name))
	data, err := json.Marshal(next)
	if err != nil {
		return Stored{}, fmt.Errorf("cursor: encoding %q: %w", next.Name, err)
	}
	etag, err := store.PutIfMatch(ctx, key, data, prev.ETag)
	if err != nil {
		return Stored{}, err
	}
	return Stored{Cursor: next, ETag: etag}, nil
}

// Delete removes a named cursor. Deleting a cursor that doesn't exist is
// not an error.
func Delete(ctx context.Context, store objstore.Store, prefix, name string) error {
	return store.Delete(ctx, objstore.JoinPrefix(prefix, manifest.CursorKey(name)))
}

// ListNames returns every cursor name registered against a log.
func ListNames(ctx context.Context, store objstore.Store, prefix string) ([]string, error) {
	keyPrefix := objstore.JoinPrefix(prefix, "cursor/")
	keys, err := store.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = key[len(keyPrefix):]
	}
	return names, nil
}

// MinPosition returns the earliest position among every registered cursor,
// for the garbage collector's retention threshold computation. If there are
// no cursors at all, ok is false and the caller should not collect anything
// tied to consumer progress.
func MinPosition(ctx context.Context, store objstore.Store, prefix string) (manifest.LogPosition, bool, error) {
	names, err := ListNames(ctx, store, prefix)
	if err != nil {
		return 0, false, err
	}
	if len(names) == 0 {
		return 0, false, nil
	}
	var min manifest.LogPosition
	found := false
	for _, name := range names {
		stored, err := Load(ctx, store, prefix, name)
		if err != nil {
			if errors.Is(err, errdefs.ErrNotFound) {
				continue
			}
			return 0, false, err
		}
		if !found || stored.Cursor.Position.Less(min) {
			min = stored.Cursor.Position
			found = true
		}
	}
	return min, found, nil
}
