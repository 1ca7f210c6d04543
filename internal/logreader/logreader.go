// Package logreader implements the pull-based scan over a log's manifest
// and snapshot tree, plus Scrub, which walks the whole tree to verify the
// manifest's setsum bookkeeping against the actual record bytes.
package logreader

import (
	"context"
	"errors"
	"fmt"

	"github.com/wuxler/vlog/internal/fragcodec"
	"github.com/wuxler/vlog/internal/iter"
	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/objstore"
	"github.com/wuxler/vlog/internal/setsum"
	"github.com/wuxler/vlog/internal/werr"
	"github.com/wuxler/vlog/pkg/util/xcache"
)

// Record is one decoded record yielded by a scan.
type Record struct {
	Position manifest.LogPosition
	Data     []byte
}

// Reader scans a log's manifest and snapshot tree. A Reader is safe for
// concurrent use; its manifest and snapshot caches are shared across scans.
type Reader struct {
	store  objstore.Store
	prefix string

	manifestCache xcache.Cache[manifest.Manifest]
	snapshotCache xcache.Cache[manifest.Snapshot]
}

// New returns a Reader over the log at prefix.
func New(store objstore.Store, prefix string) *Reader {
	return &Reader{
		store:         store,
		prefix:        prefix,
		manifestCache: xcache.NewMemory[manifest.Manifest](),
		snapshotCache: xcache.NewMemory[manifest.Snapshot](),
	}
}

// Manifest returns a fresh read of the log's current manifest.
func (r *Reader) Manifest(ctx context.Context) (manifest.Manifest, error) {
	m, _, err := r.loadManifest(ctx)
	return m, err
}

// node is one pending unit of work in a scan's traversal: either a leaf
// fragment ready to be read, or a snapshot pointer that must be fetched
// and expanded into its own children before the walk can continue.
type node struct {
	fragment *manifest.Fragment
	pointer  *manifest.SnapshotPointer
}

// Scan returns a lazily-evaluated iterator over every record at or after
// from, in log order. The manifest is read once at Scan's start, so later
// appends are not reflected in records already yielded by the same
// iterator, but a fresh Scan always sees the latest manifest.
func (r *Reader) Scan(ctx context.Context, from manifest.LogPosition) (iter.Iterator[Record], error) {
	m, err := r.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	return &scanIterator{reader: r, from: from, queue: initialQueue(m)}, nil
}

func initialQueue(m manifest.Manifest) []node {
	queue := make([]node, 0, len(m.Snapshots)+len(m.Fragments))
	for _, p := range m.Snapshots {
		p := p
		queue = append(queue, node{pointer: &p})
	}
	for _, f := range m.Fragments {
		f := f
		queue = append(queue, node{fragment: &f})
	}
	return queue
}

type scanIterator struct {
	reader *Reader
	from   manifest.LogPosition
	queue  []node
}

// Next returns the next non-empty page of records, skipping any fragment
// or snapshot whose entire range is before from without ever fetching its
// bytes.
func (s *scanIterator) Next(ctx context.Context) ([]Record, error) {
	for len(s.queue) > 0 {
		n := s.queue[0]
		s.queue = s.queue[1:]

		if n.pointer != nil {
			if n.pointer.Limit <= s.from {
				continue
			}
			snap, err := s.reader.loadSnapshot(ctx, *n.pointer)
			if err != nil {
				return nil, err
			}
			s.queue = append(initialQueue(manifest.Manifest{
				Fragments: snap.Fragments,
				Snapshots: snap.Snapshots,
			}), s.queue...)
			continue
		}

		frag := *n.fragment
		if frag.Limit <= s.from {
			continue
		}
		records, err := s.reader.loadFragmentRecords(ctx, frag)
		if err != nil {
			return nil, err
		}
		page := make([]Record, 0, len(records))
		for i, data := range records {
			pos := frag.Start.Add(uint64(i))
			if pos.Less(s.from) {
				continue
			}
			page = append(page, Record{Position: pos, Data: data})
		}
		if len(page) == 0 {
			continue
		}
		return page, nil
	}
	return nil, iter.ErrDone
}

// ScrubReport summarizes a full walk of the log's live tree.
type ScrubReport struct {
	RecordCount  int
	LiveSetsum   setsum.Setsum
	ExpectedSum  setsum.Setsum
	SetsumsMatch bool
}

// Scrub reads every live record in the log, recomputing the setsum over
// what remains and checking it against the manifest's bookkeeping: live
// setsum plus everything garbage collection has already removed must equal
// setsum_total.
func (r *Reader) Scrub(ctx context.Context) (ScrubReport, error) {
	m, err := r.Manifest(ctx)
	if err != nil {
		return ScrubReport{}, err
	}

	it, err := r.Scan(ctx, manifest.FirstPosition)
	if err != nil {
		return ScrubReport{}, err
	}

	var live setsum.Setsum
	count := 0
	for {
		page, err := it.Next(ctx)
		for _, rec := range page {
			live.Insert(rec.Data)
			count++
		}
		if errors.Is(err, iter.ErrDone) {
			break
		}
		if err != nil {
			return ScrubReport{}, err
		}
		if len(page) == 0 {
			break
		}
	}

	expected := live.Plus(m.CollectedSetsum)
	return ScrubReport{
		RecordCount:  count,
		LiveSetsum:   live,
		ExpectedSum:  expected,
		SetsumsMatch: expected == m.SetsumTotal,
	}, nil
}

func (r *Reader) loadManifest(ctx context.Context) (manifest.Manifest, objstore.ETag, error) {
	obj, err := r.store.Get(ctx, objstore.JoinPrefix(r.prefix, manifest.ManifestKey))
	if err != nil {
		return manifest.Manifest{}, "", err
	}
	if cached, ok := r.manifestCache.Get(ctx, string(obj.ETag)); ok {
		return cached, obj.ETag, nil
	}
	m, err := manifest.Decode(obj.Data)
	if err != nil {
		return manifest.Manifest{}, "", werr.Wrap(werr.ErrCorruptManifest, err)
	}
	r.manifestCache.Set(ctx, string(obj.ETag), m)
	return m, obj.ETag, nil
}

func (r *Reader) loadSnapshot(ctx context.Context, ptr manifest.SnapshotPointer) (manifest.Snapshot, error) {
	key := objstore.JoinPrefix(r.prefix, ptr.Path)
	if cached, ok := r.snapshotCache.Get(ctx, key); ok {
		return cached, nil
	}
	obj, err := r.store.Get(ctx, key)
	if err != nil {
		return manifest.Snapshot{}, werr.Wrap(werr.ErrMissingFragment, err)
	}
	snap, err := manifest.DecodeSnapshot(obj.Data)
	if err != nil {
		return manifest.Snapshot{}, werr.Wrap(werr.ErrCorruptSnapshot, err)
	}
	if snap.Setsum != ptr.Setsum {
		return manifest.Snapshot{}, werr.Wrapf(werr.ErrCorruptSnapshot, "snapshot %s: setsum mismatch with manifest pointer", ptr.Path)
	}
	r.snapshotCache.Set(ctx, key, snap)
	return snap, nil
}

func (r *Reader) loadFragmentRecords(ctx context.Context, frag manifest.Fragment) ([][]byte, error) {
	key := objstore.JoinPrefix(r.prefix, frag.Path)
	obj, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, werr.Wrap(werr.ErrMissingFragment, err)
	}
	dec, err := fragcodec.Decode(obj.Data)
	if err != nil {
		return nil, err
	}
	if dec.Setsum != frag.Setsum {
		return nil, werr.Wrapf(werr.ErrCorruptFragment, "fragment %v: setsum mismatch with manifest descriptor", frag.ID)
	}
	if len(dec.Records) == 0 && frag.NumRecords() > 0 {
		return nil, fmt.Errorf("logreader: fragment %v decoded zero records, expected %d", frag.ID, frag.NumRecords())
	}
	return dec.Records, nil
}
