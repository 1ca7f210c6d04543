// Package vlog composes the manifest, batch, cursor, fragment, and garbage
// collection packages into the log's public operations: initializing a new
// log, opening a writer or reader against an existing one, destroying a log
// outright, running one garbage collection pass, and copying a log's
// content into a freshly created destination.
package vlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/wuxler/vlog/internal/cursor"
	"github.com/wuxler/vlog/internal/gc"
	"github.com/wuxler/vlog/internal/iter"
	"github.com/wuxler/vlog/internal/logreader"
	"github.com/wuxler/vlog/internal/logwriter"
	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/objstore"
	"github.com/wuxler/vlog/internal/werr"
	"github.com/wuxler/vlog/pkg/errdefs"
	"github.com/wuxler/vlog/pkg/xlog"
)

// LogWriterOptions carries the recognized writer-side configuration, loaded
// either directly or via vlogconfig from YAML.
type LogWriterOptions = logwriter.Options

// LogReaderOptions is reserved for reader-side configuration. The reader
// has no tunables beyond its prefix today; the type exists so callers and
// vlogconfig have a stable name to grow into.
type LogReaderOptions struct{}

// Initialize creates a brand new, empty log at prefix. It fails with an
// error wrapping errdefs.ErrAlreadyExists if a manifest already exists
// there; callers that merely want "open or create" should use OpenWriter,
// which already tolerates a fresh prefix.
func Initialize(ctx context.Context, store objstore.Store, prefix, writerID string) error {
	key := objstore.JoinPrefix(prefix, manifest.ManifestKey)
	fresh := manifest.NewEmpty(writerID, manifest.FragmentIDSeqNo)
	data, err := fresh.Encode()
	if err != nil {
		return fmt.Errorf("vlog: encoding initial manifest: %w", err)
	}
	if _, err := store.PutIfAbsent(ctx, key, data); err != nil {
		if errors.Is(err, errdefs.ErrAlreadyExists) {
			return werr.Wrapf(werr.ErrStorage, "vlog: log already initialized at %q: %w", prefix, err)
		}
		return werr.Wrap(werr.ErrStorage, err)
	}
	return nil
}

// OpenWriter starts a Writer against an existing or freshly initialized log
// at prefix. At most one Writer should be active against a prefix at a
// time; a second one racing the first observes CAS contention and fails
// durably rather than silently corrupting the manifest.
func OpenWriter(ctx context.Context, store objstore.Store, prefix, writerID string, opts LogWriterOptions) (*logwriter.Writer, error) {
	opts.Prefix = prefix
	opts.WriterName = writerID
	return logwriter.Open(ctx, store, opts)
}

// OpenReader returns a Reader over the log at prefix. opts is accepted for
// forward compatibility with vlogconfig-loaded configuration; it carries no
// fields yet.
func OpenReader(_ context.Context, store objstore.Store, prefix string, _ LogReaderOptions) (*logreader.Reader, error) {
	return logreader.New(store, prefix), nil
}

// Destroy deletes every object belonging to the log at prefix: its
// fragments, snapshots (including any unreferenced by the manifest, left
// behind by an interrupted write or collection), cursors, any pending
// garbage record, and finally the manifest itself. It assumes no writer or
// collector is concurrently active against prefix; running Destroy
// alongside a live writer can race it into recreating objects Destroy just
// removed.
func Destroy(ctx context.Context, store objstore.Store, prefix string) error {
	obj, err := store.Get(ctx, objstore.JoinPrefix(prefix, manifest.ManifestKey))
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			xlog.C(ctx).Warnf("vlog: refusing to destroy %q without a manifest", prefix)
			return nil
		}
		return werr.Wrap(werr.ErrStorage, err)
	}
	m, err := manifest.Decode(obj.Data)
	if err != nil {
		return werr.Wrap(werr.ErrCorruptManifest, err)
	}

	d := &destroyer{ctx: ctx, store: store, prefix: prefix}
	for _, snap := range m.Snapshots {
		if err := d.snapshot(snap); err != nil {
			return err
		}
	}
	for _, frag := range m.Fragments {
		if err := d.file(frag.Path); err != nil {
			return err
		}
	}
	if err := d.cursors(); err != nil {
		return err
	}
	if err := d.file(manifest.GarbageKey); err != nil {
		return err
	}
	if err := d.danglingSnapshots(); err != nil {
		return err
	}
	if err := d.danglingFragments(); err != nil {
		return err
	}
	if err := d.file(manifest.ManifestKey); err != nil {
		return err
	}

	leftover, err := store.List(ctx, objstore.JoinPrefix(prefix, ""))
	if err != nil {
		return werr.Wrap(werr.ErrStorage, err)
	}
	if len(leftover) > 0 {
		return werr.Wrapf(werr.ErrGarbageCollection, "vlog: leftover object %q after destroying %q", leftover[0], prefix)
	}
	return nil
}

// destroyer walks a log's reachable and dangling objects during Destroy.
type destroyer struct {
	ctx    context.Context
	store  objstore.Store
	prefix string
}

func (d *destroyer) snapshot(p manifest.SnapshotPointer) error {
	obj, err := d.store.Get(d.ctx, objstore.JoinPrefix(d.prefix, p.Path))
	if err != nil {
		if !errors.Is(err, errdefs.ErrNotFound) {
			return werr.Wrap(werr.ErrStorage, err)
		}
		return nil
	}
	snap, err := manifest.DecodeSnapshot(obj.Data)
	if err != nil {
		return werr.Wrap(werr.ErrCorruptSnapshot, err)
	}
	for _, child := range snap.Snapshots {
		if err := d.snapshot(child); err != nil {
			return err
		}
	}
	for _, frag := range snap.Fragments {
		if err := d.file(frag.Path); err != nil {
			return err
		}
	}
	return d.file(p.Path)
}

func (d *destroyer) cursors() error {
	names, err := cursor.ListNames(d.ctx, d.store, d.prefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := d.file(manifest.CursorKey(name)); err != nil {
			return err
		}
	}
	return nil
}

// danglingSnapshots removes any snapshot blob still present under the
// log's snapshot prefix after every snapshot reachable from the manifest
// has already been removed: the remainder is orphaned content left by a
// writer or collector that crashed mid-publish.
func (d *destroyer) danglingSnapshots() error {
	return d.danglingUnder(manifest.SnapshotPrefix)
}

// danglingFragments removes any fragment blob still present under the
// log's fragment prefix for the same reason danglingSnapshots does.
func (d *destroyer) danglingFragments() error {
	return d.danglingUnder(manifest.FragmentPrefix)
}

func (d *destroyer) danglingUnder(relativePrefix string) error {
	keyPrefix := objstore.JoinPrefix(d.prefix, relativePrefix)
	for {
		keys, err := d.store.List(d.ctx, keyPrefix)
		if err != nil {
			return werr.Wrap(werr.ErrStorage, err)
		}
		if len(keys) == 0 {
			return nil
		}
		for _, key := range keys {
			relative := key[len(d.prefix):]
			for len(relative) > 0 && relative[0] == '/' {
				relative = relative[1:]
			}
			if err := d.file(relative); err != nil {
				return err
			}
		}
	}
}

func (d *destroyer) file(relative string) error {
	return d.store.Delete(d.ctx, objstore.JoinPrefix(d.prefix, relative))
}

// GarbageCollect runs one garbage collection pass against the log at
// prefix, reclaiming everything entirely below the lesser of floor and the
// slowest registered cursor's position.
func GarbageCollect(ctx context.Context, store objstore.Store, prefix string, floor manifest.LogPosition) error {
	_, err := gc.New(store, gc.Options{Prefix: prefix}).Collect(ctx, floor)
	return err
}

// Copy reads every record from src starting at start and appends it, in
// order, to a writer obtained from dstFactory. dstFactory is called exactly
// once; its writer is closed once every record has been durably appended,
// even if Copy later returns an error from the final Close.
func Copy(ctx context.Context, src *logreader.Reader, dstFactory func() (*logwriter.Writer, error), start manifest.LogPosition) error {
	dst, err := dstFactory()
	if err != nil {
		return fmt.Errorf("vlog: opening destination writer: %w", err)
	}

	it, err := src.Scan(ctx, start)
	if err != nil {
		closeErr := dst.Close(ctx)
		if err != nil {
			return err
		}
		return closeErr
	}

	copyErr := copyAll(ctx, it, dst)
	closeErr := dst.Close(ctx)
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

func copyAll(ctx context.Context, it iter.Iterator[logreader.Record], dst *logwriter.Writer) error {
	for {
		page, err := it.Next(ctx)
		if len(page) > 0 {
			records := make([][]byte, len(page))
			for i, rec := range page {
				records[i] = rec.Data
			}
			if _, appendErr := dst.AppendMany(ctx, records); appendErr != nil {
				return fmt.Errorf("vlog: copying to destination: %w", appendErr)
			}
		}
		if errors.Is(err, iter.ErrDone) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
	}
}
