// Package objstore is the thin object-store adapter the rest of the log
// core is built on: get, put-with-preconditions (create-if-absent and
// compare-and-swap-by-etag), list-with-prefix, and delete. Every durability
// and ordering property of the log is derived from the CAS primitive this
// package exposes over a small number of well-known keys.
package objstore

import (
	"context"
	"sort"
	"strings"

	"github.com/wuxler/vlog/pkg/errdefs"
)

// ETag identifies a specific revision of an object, as last observed by a
// Get or a successful Put. A Store is only weakly ordered in general; every
// protocol guarantee the log provides comes from conditioning a Put on an
// ETag.
type ETag string

// Object is a get result: its content together with the ETag it was read
// at, so a subsequent CAS write can be conditioned on exactly this read.
type Object struct {
	Key  string
	ETag ETag
	Data []byte
}

// Store is a key-value blob store supporting the preconditions the log
// protocol needs. Implementations must be safe for concurrent use.
type Store interface {
	// Get fetches the object at key. Returns an error wrapping
	// errdefs.ErrNotFound if no object exists at key.
	Get(ctx context.Context, key string) (Object, error)

	// PutIfAbsent writes data to key only if no object currently exists
	// there, returning the new ETag. Returns an error wrapping
	// errdefs.ErrAlreadyExists if an object already exists. Used for
	// content-addressed blobs (fragments, snapshots) where two writers
	// racing to create the same content should both succeed logically.
	PutIfAbsent(ctx context.Context, key string, data []byte) (ETag, error)

	// PutIfMatch writes data to key only if the object's current ETag
	// equals expected, returning the new ETag on success. Returns an
	// error wrapping errdefs.ErrConflict if the current ETag differs (or
	// the object doesn't exist and expected is non-empty). Used for the
	// single mutable manifest object and for cursors.
	PutIfMatch(ctx context.Context, key string, data []byte, expected ETag) (ETag, error)

	// List returns every key with the given prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at key. Deleting a key that doesn't exist
	// is not an error — callers that need crash-safe idempotent deletes
	// (destroy, GC) rely on this.
	Delete(ctx context.Context, key string) error
}

// JoinPrefix joins a log prefix and a relative path the way every key in
// the §6 key layout table is constructed.
func JoinPrefix(prefix, relative string) string {
	if prefix == "" {
		return relative
	}
	return strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(relative, "/")
}

// sortedKeys is a small helper shared by the in-memory and filesystem
// backends to present List results in a stable, lexical order.
func sortedKeys(keys []string) []string {
	sort.Strings(keys)
	return keys
}

// errNotFound builds a not-found error for key.
func errNotFound(key string) error {
	return errdefs.Newf(errdefs.ErrNotFound, "object store: key %q not found", key)
}

// errAlreadyExists builds an already-exists error for key.
func errAlreadyExists(key string) error {
	return errdefs.Newf(errdefs.ErrAlreadyExists, "object store: key %q already exists", key)
}

// errConflict builds a CAS-conflict error for key.
func errConflict(key string, expected, actual ETag) error {
	return errdefs.Newf(errdefs.ErrConflict, "object store: key %q etag mismatch: expected %q, got %q", key, expected, actual)
}
