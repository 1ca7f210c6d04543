package gc

import (
	"context"

	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/objstore"
	"github.com/wuxler/vlog/internal/setsum"
	"github.com/wuxler/vlog/internal/werr"
)

// plan walks m's fragment and snapshot lists and builds the Garbage record
// for collecting everything entirely below threshold. ok is false if there
// is nothing to collect, either because threshold does not reach past the
// manifest's oldest live position, or because every fragment and pointer
// straddles it without anything resolving to a full removal.
func (c *Collector) plan(ctx context.Context, m manifest.Manifest, threshold manifest.LogPosition) (Garbage, bool, error) {
	if !m.OldestLivePosition().Less(threshold) {
		return Garbage{}, false, nil
	}

	result, err := c.classify(ctx, m.Fragments, m.Snapshots, threshold)
	if err != nil {
		return Garbage{}, false, err
	}
	if len(result.deletedFragments) == 0 && len(result.deletedSnapshots) == 0 {
		return Garbage{}, false, nil
	}

	return Garbage{
		Threshold:          threshold,
		FragmentPaths:      result.deletedFragments,
		SnapshotPaths:      result.deletedSnapshots,
		RewrittenSnapshots: result.rewritten,
		TopLevelFragments:  result.keptFragments,
		TopLevelSnapshots:  result.keptSnapshots,
		SetsumDelta:        result.delta,
	}, true, nil
}

// classification is the result of classifying one level of the manifest
// tree (either the manifest's own lists, or one snapshot's own lists)
// against threshold.
type classification struct {
	keptFragments    []manifest.Fragment
	keptSnapshots    []manifest.SnapshotPointer
	deletedFragments []string
	deletedSnapshots []string
	rewritten        []manifest.Snapshot
	delta            setsum.Setsum
}

// classify partitions fragments and pointers into what survives threshold
// and what is deleted. Fragments are leaves: a fragment straddling threshold
// is left untouched, since its bytes cannot be split. A pointer wholly below
// threshold is dropped (after walking its content purely to enumerate every
// nested blob path so storage is actually reclaimed); a pointer wholly at or
// above threshold is kept unchanged; a straddling pointer is rewritten into
// a smaller snapshot covering only what survives, recursing into its own
// content with the same rule.
func (c *Collector) classify(ctx context.Context, fragments []manifest.Fragment, pointers []manifest.SnapshotPointer, threshold manifest.LogPosition) (classification, error) {
	var out classification

	for _, f := range fragments {
		if f.Limit <= threshold {
			out.deletedFragments = append(out.deletedFragments, f.Path)
			out.delta = out.delta.Plus(f.Setsum)
			continue
		}
		out.keptFragments = append(out.keptFragments, f)
	}

	for _, p := range pointers {
		switch {
		case p.Limit <= threshold:
			fragPaths, snapPaths, err := c.enumerate(ctx, p)
			if err != nil {
				return classification{}, err
			}
			out.deletedSnapshots = append(out.deletedSnapshots, p.Path)
			out.deletedSnapshots = append(out.deletedSnapshots, snapPaths...)
			out.deletedFragments = append(out.deletedFragments, fragPaths...)
			out.delta = out.delta.Plus(p.Setsum)

		case threshold <= p.Start:
			out.keptSnapshots = append(out.keptSnapshots, p)

		default:
			snap, err := c.fetchSnapshot(ctx, p)
			if err != nil {
				return classification{}, err
			}
			child, err := c.classify(ctx, snap.Fragments, snap.Snapshots, threshold)
			if err != nil {
				return classification{}, err
			}

			out.deletedFragments = append(out.deletedFragments, child.deletedFragments...)
			out.deletedSnapshots = append(out.deletedSnapshots, child.deletedSnapshots...)
			out.delta = out.delta.Plus(child.delta)

			if len(child.keptFragments) == 0 && len(child.keptSnapshots) == 0 {
				// Nothing survived the recursive split; the whole pointer
				// is superseded with no replacement.
				out.deletedSnapshots = append(out.deletedSnapshots, p.Path)
				continue
			}

			rewritten := rebuildSnapshot(snap.Writer, snap.Depth, child.keptFragments, child.keptSnapshots)
			out.rewritten = append(out.rewritten, child.rewritten...)
			out.rewritten = append(out.rewritten, rewritten)
			out.deletedSnapshots = append(out.deletedSnapshots, p.Path)
			out.keptSnapshots = append(out.keptSnapshots, rewritten.Pointer(manifest.SnapshotPath(rewritten.Setsum.Hexdigest())))
		}
	}

	return out, nil
}

// enumerate walks every blob reachable from a wholly-garbage pointer, for
// the sole purpose of listing fragment and snapshot paths to delete; none of
// its content needs to be rewritten since the whole subtree is discarded.
func (c *Collector) enumerate(ctx context.Context, p manifest.SnapshotPointer) (fragPaths, snapPaths []string, err error) {
	snap, err := c.fetchSnapshot(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range snap.Fragments {
		fragPaths = append(fragPaths, f.Path)
	}
	for _, cp := range snap.Snapshots {
		snapPaths = append(snapPaths, cp.Path)
		childFrags, childSnaps, err := c.enumerate(ctx, cp)
		if err != nil {
			return nil, nil, err
		}
		fragPaths = append(fragPaths, childFrags...)
		snapPaths = append(snapPaths, childSnaps...)
	}
	return fragPaths, snapPaths, nil
}

func (c *Collector) fetchSnapshot(ctx context.Context, p manifest.SnapshotPointer) (manifest.Snapshot, error) {
	obj, err := c.store.Get(ctx, objstore.JoinPrefix(c.opts.Prefix, p.Path))
	if err != nil {
		return manifest.Snapshot{}, werr.Wrap(werr.ErrMissingFragment, err)
	}
	snap, err := manifest.DecodeSnapshot(obj.Data)
	if err != nil {
		return manifest.Snapshot{}, werr.Wrap(werr.ErrCorruptSnapshot, err)
	}
	if snap.Setsum != p.Setsum {
		return manifest.Snapshot{}, werr.Wrapf(werr.ErrCorruptSnapshot, "gc: snapshot %s: setsum mismatch with manifest pointer", p.Path)
	}
	return snap, nil
}

// rebuildSnapshot constructs the new, smaller snapshot left once a straddling
// snapshot's content has been filtered to what survives the threshold. It
// keeps the original snapshot's writer identity and depth: this is a trim of
// existing content, not a new rollover generation.
func rebuildSnapshot(writer string, depth int, fragments []manifest.Fragment, pointers []manifest.SnapshotPointer) manifest.Snapshot {
	s := manifest.Snapshot{Writer: writer, Depth: depth, Fragments: fragments, Snapshots: pointers}
	switch {
	case len(fragments) > 0:
		s.Start = fragments[0].Start
		s.Limit = fragments[len(fragments)-1].Limit
		for _, f := range fragments {
			s.Setsum = s.Setsum.Plus(f.Setsum)
		}
	case len(pointers) > 0:
		s.Start = pointers[0].Start
		s.Limit = pointers[len(pointers)-1].Limit
		for _, p := range pointers {
			s.Setsum = s.Setsum.Plus(p.Setsum)
		}
	}
	return s
}
