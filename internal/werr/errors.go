// Package werr defines the write-ahead log's error taxonomy as sentinel
// errors layered over the generic kinds in pkg/errdefs, the same way the
// rest of this module's ancestor layers domain errors over errdefs rather
// than inventing a parallel error hierarchy.
package werr

import (
	"errors"

	"github.com/wuxler/vlog/pkg/errdefs"
)

var (
	// ErrLogContentionRetry signals the manifest CAS lost the race but the
	// manifest manager has already reloaded and replayed the caller's
	// local intent; the caller may retry transparently.
	ErrLogContentionRetry = errdefs.Newf(errdefs.ErrConflict, "log contention: retry")

	// ErrLogContentionDurable signals the CAS lost after exhausting the
	// bounded local retry budget; the caller must rebuild its state before
	// trying again.
	ErrLogContentionDurable = errdefs.Newf(errdefs.ErrConflict, "log contention: durable failure, rebuild state")

	// ErrLogContentionFailure signals persistent CAS loss; fatal for this
	// writer instance.
	ErrLogContentionFailure = errdefs.Newf(errdefs.ErrConflict, "log contention: fatal for this writer")

	// ErrLogFull signals the 64-bit position space is exhausted.
	ErrLogFull = errdefs.Newf(errdefs.ErrUnavailable, "log position space exhausted")

	// ErrStorage wraps a transient or permanent object-store failure that
	// survived internal retry.
	ErrStorage = errdefs.Newf(errdefs.ErrUnavailable, "object store error")

	// ErrCorruptManifest signals a checksum or structural invariant
	// violation in the manifest. Never retried.
	ErrCorruptManifest = errdefs.Newf(errdefs.ErrDataLoss, "corrupt manifest")

	// ErrCorruptFragment signals a checksum or length mismatch decoding a
	// fragment blob. Never retried.
	ErrCorruptFragment = errdefs.Newf(errdefs.ErrDataLoss, "corrupt fragment")

	// ErrCorruptSnapshot signals a checksum or structural mismatch
	// decoding a snapshot blob. Never retried.
	ErrCorruptSnapshot = errdefs.Newf(errdefs.ErrDataLoss, "corrupt snapshot")

	// ErrGarbageCollection signals a GC invariant violation: a dangling
	// orphan or a straddling fragment ended up in a delete set. Fatal.
	ErrGarbageCollection = errdefs.Newf(errdefs.ErrSystem, "garbage collection invariant violated")

	// ErrMissingFragment signals the manifest references a path the
	// store returns NotFound for. Fatal unless the reader's manifest
	// snapshot is stale and a refreshed manifest resolves it.
	ErrMissingFragment = errdefs.Newf(errdefs.ErrNotFound, "fragment blob missing from object store")
)

// Wrap joins base (one of the sentinels above) with err, the same pattern
// pkg/errdefs.NewE uses: if err already satisfies errors.Is(err, base) it is
// returned unchanged, otherwise the two are joined so callers can match
// either the specific and the generic errdefs kind.
func Wrap(base error, err error) error {
	return errdefs.NewE(base, err)
}

// Wrapf formats a message and joins it to base.
func Wrapf(base error, format string, args ...any) error {
	return errdefs.Newf(base, format, args...)
}

// IsRetryable reports whether err represents a condition that is safe to
// retry transparently without caller involvement (transient storage errors,
// or contention already resolved locally by the manifest manager).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrLogContentionRetry)
}
