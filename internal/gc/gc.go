// Package gc implements the garbage collector: it reclaims fragments and
// snapshot blobs entirely below a cursor-derived threshold, publishing a
// crash-safe Garbage record before deleting anything so an interrupted run
// can be resumed on restart rather than leaving orphaned blobs or a manifest
// that disagrees with what is actually on disk.
package gc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wuxler/vlog/internal/cursor"
	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/objstore"
	"github.com/wuxler/vlog/internal/setsum"
	"github.com/wuxler/vlog/internal/werr"
	"github.com/wuxler/vlog/pkg/errdefs"
	"github.com/wuxler/vlog/pkg/xlog"
)

// Garbage is the crash-safety record published under manifest.GarbageKey
// before any blob is deleted. It carries everything a restarted process
// needs to finish the run without recomputing it: the rewritten snapshot
// blobs waiting to be persisted, the blob paths to delete once the manifest
// no longer references them, and enough of the original plan to rebase onto
// a manifest that has moved on since this record was published.
type Garbage struct {
	Threshold manifest.LogPosition `json:"threshold"`

	// FragmentPaths and SnapshotPaths are every blob this run will delete
	// once the manifest CAS below has landed, including blobs several
	// levels deep inside a discarded or superseded snapshot.
	FragmentPaths []string `json:"fragment_paths,omitempty"`
	SnapshotPaths []string `json:"snapshot_paths,omitempty"`

	// RewrittenSnapshots are the new, smaller snapshot blobs produced by
	// trimming a straddling snapshot's content down to what survives the
	// threshold, at every nesting depth touched. Persisted with
	// create-if-absent before the manifest CAS, since they are
	// content-addressed like any other snapshot.
	RewrittenSnapshots []manifest.Snapshot `json:"rewritten_snapshots,omitempty"`

	// TopLevelFragments and TopLevelSnapshots are the manifest's own
	// fragment and snapshot-pointer lists as they should read after this
	// run, computed against the manifest as read at plan time. If the
	// manifest has since gained new fragments or snapshot pointers
	// appended by a concurrent writer, those always land after these
	// lists (GC only ever touches a leading prefix), so finishing rebases
	// by keeping everything in the freshly reloaded manifest past this
	// prefix's length.
	TopLevelFragments []manifest.Fragment        `json:"top_level_fragments"`
	TopLevelSnapshots []manifest.SnapshotPointer `json:"top_level_snapshots"`

	// SetsumDelta is folded into the manifest's CollectedSetsum. SetsumTotal
	// is never touched: collection only moves mass from live accounting to
	// collected accounting, it never changes the grand total.
	SetsumDelta setsum.Setsum `json:"setsum_delta"`
}

func (g Garbage) encode() ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("gc: encoding garbage record: %w", err)
	}
	return data, nil
}

func decodeGarbage(data []byte) (Garbage, error) {
	var g Garbage
	if err := json.Unmarshal(data, &g); err != nil {
		return Garbage{}, fmt.Errorf("gc: decoding garbage record: %w", err)
	}
	return g, nil
}

// Report summarizes a completed collection run, whether it was planned and
// finished in one call or resumed from a crash-left Garbage record.
type Report struct {
	Threshold        manifest.LogPosition
	FragmentsDeleted int
	SnapshotsDeleted int
	SetsumDelta      setsum.Setsum
	Resumed          bool
}

// Options configures a Collector.
type Options struct {
	Prefix string

	// MaxRetries bounds how many times the manifest CAS in step 6 is
	// retried against a freshly reloaded manifest before giving up.
	// Defaults to 3.
	MaxRetries int

	// BaseBackoff is the delay before the first retry; it doubles on each
	// subsequent attempt. Defaults to 10ms.
	BaseBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 10 * time.Millisecond
	}
	return o
}

// Collector runs the garbage collection protocol against one log.
type Collector struct {
	store objstore.Store
	opts  Options
	clk   clock.Clock
}

// CollectorOption configures a Collector at construction time.
type CollectorOption func(*Collector)

// WithClock injects a clock.Clock, for deterministic tests of retry backoff
// via clock.NewMock().
func WithClock(clk clock.Clock) CollectorOption {
	return func(c *Collector) { c.clk = clk }
}

// New returns a Collector.
func New(store objstore.Store, opts Options, collectorOpts ...CollectorOption) *Collector {
	c := &Collector{store: store, opts: opts.withDefaults(), clk: clock.New()}
	for _, opt := range collectorOpts {
		opt(c)
	}
	return c
}

// Collect runs one garbage collection pass. If a Garbage record from a prior
// interrupted run is already present, it is finished first and floor is
// ignored for that part of the work (idempotency: complete the pending run
// before starting a new one). The collection threshold is the lesser of
// floor and the minimum position among every registered cursor, so a caller
// can only narrow the floor a consumer has already committed to, never
// widen past it.
func (c *Collector) Collect(ctx context.Context, floor manifest.LogPosition) (Report, error) {
	if pending, err := c.loadPending(ctx); err == nil {
		xlog.C(ctx).Infof("gc: resuming pending garbage collection at threshold %s", pending.Threshold)
		if err := c.finish(ctx, pending); err != nil {
			return Report{}, err
		}
		return reportOf(pending, true), nil
	} else if !errors.Is(err, errdefs.ErrNotFound) {
		return Report{}, err
	}

	threshold, err := c.resolveThreshold(ctx, floor)
	if err != nil {
		return Report{}, err
	}

	obj, err := c.store.Get(ctx, c.manifestKey())
	if err != nil {
		return Report{}, werr.Wrap(werr.ErrStorage, err)
	}
	m, err := manifest.Decode(obj.Data)
	if err != nil {
		return Report{}, werr.Wrap(werr.ErrCorruptManifest, err)
	}

	g, ok, err := c.plan(ctx, m, threshold)
	if err != nil {
		return Report{}, err
	}
	if !ok {
		return Report{Threshold: threshold}, nil
	}

	if err := c.publishGarbage(ctx, g); err != nil {
		if !errors.Is(err, errdefs.ErrAlreadyExists) {
			return Report{}, err
		}
		existing, loadErr := c.loadPending(ctx)
		if loadErr != nil {
			return Report{}, loadErr
		}
		if err := c.finish(ctx, existing); err != nil {
			return Report{}, err
		}
		return reportOf(existing, true), nil
	}

	if err := c.finish(ctx, g); err != nil {
		return Report{}, err
	}
	return reportOf(g, false), nil
}

func reportOf(g Garbage, resumed bool) Report {
	return Report{
		Threshold:        g.Threshold,
		FragmentsDeleted: len(g.FragmentPaths),
		SnapshotsDeleted: len(g.SnapshotPaths),
		SetsumDelta:      g.SetsumDelta,
		Resumed:          resumed,
	}
}

// resolveThreshold takes the lesser of floor and the current minimum cursor
// position, so GC never collects a record a registered consumer has not yet
// seen, even if the caller passes a floor beyond it by mistake.
func (c *Collector) resolveThreshold(ctx context.Context, floor manifest.LogPosition) (manifest.LogPosition, error) {
	minCursor, ok, err := cursor.MinPosition(ctx, c.store, c.opts.Prefix)
	if err != nil {
		return 0, err
	}
	if ok && minCursor.Less(floor) {
		return minCursor, nil
	}
	return floor, nil
}

func (c *Collector) loadPending(ctx context.Context) (Garbage, error) {
	obj, err := c.store.Get(ctx, c.garbageKey())
	if err != nil {
		return Garbage{}, err
	}
	g, err := decodeGarbage(obj.Data)
	if err != nil {
		return Garbage{}, err
	}
	return g, nil
}

func (c *Collector) publishGarbage(ctx context.Context, g Garbage) error {
	data, err := g.encode()
	if err != nil {
		return err
	}
	_, err = c.store.PutIfAbsent(ctx, c.garbageKey(), data)
	if err != nil {
		if errors.Is(err, errdefs.ErrAlreadyExists) {
			return err
		}
		return werr.Wrap(werr.ErrStorage, err)
	}
	return nil
}

// finish executes protocol steps 5-8: persist rewritten snapshot blobs,
// CAS-update the manifest to drop what this run decided to collect, delete
// every orphaned blob, then delete the Garbage record itself. Safe to call
// again after a crash at any point in this sequence.
func (c *Collector) finish(ctx context.Context, g Garbage) error {
	for _, snap := range g.RewrittenSnapshots {
		if err := c.putSnapshot(ctx, snap); err != nil {
			return err
		}
	}

	if err := c.publishManifest(ctx, g); err != nil {
		return err
	}

	for _, path := range g.FragmentPaths {
		if err := c.store.Delete(ctx, objstore.JoinPrefix(c.opts.Prefix, path)); err != nil {
			return werr.Wrap(werr.ErrStorage, fmt.Errorf("deleting fragment %q: %w", path, err))
		}
	}
	for _, path := range g.SnapshotPaths {
		if err := c.store.Delete(ctx, objstore.JoinPrefix(c.opts.Prefix, path)); err != nil {
			return werr.Wrap(werr.ErrStorage, fmt.Errorf("deleting snapshot %q: %w", path, err))
		}
	}

	if err := c.store.Delete(ctx, c.garbageKey()); err != nil {
		return werr.Wrap(werr.ErrStorage, fmt.Errorf("deleting garbage record: %w", err))
	}
	return nil
}

// publishManifest CAS-updates the manifest to g's resolved shape, reloading
// and rebasing onto fresh state on a lost race, up to MaxRetries times. If
// finish is being re-run after a crash that happened after this CAS already
// landed but before the Garbage record was deleted, the reloaded manifest
// already reflects g and this is a no-op.
func (c *Collector) publishManifest(ctx context.Context, g Garbage) error {
	backoff := c.opts.BaseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		obj, err := c.store.Get(ctx, c.manifestKey())
		if err != nil {
			return werr.Wrap(werr.ErrStorage, err)
		}
		reloaded, err := manifest.Decode(obj.Data)
		if err != nil {
			return werr.Wrap(werr.ErrCorruptManifest, err)
		}

		if alreadyApplied(reloaded, g) {
			return nil
		}

		rebased := rebase(reloaded, g)
		data, err := rebased.Encode()
		if err != nil {
			return fmt.Errorf("gc: encoding rebased manifest: %w", err)
		}

		_, err = c.store.PutIfMatch(ctx, c.manifestKey(), data, obj.ETag)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errdefs.ErrConflict) {
			return werr.Wrap(werr.ErrStorage, err)
		}
		lastErr = werr.Wrapf(werr.ErrLogContentionRetry, "gc: attempt %d/%d lost manifest CAS race", attempt, c.opts.MaxRetries)

		if attempt < c.opts.MaxRetries {
			select {
			case <-c.clk.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}
	return werr.Wrap(werr.ErrLogContentionDurable, lastErr)
}

// alreadyApplied reports whether none of the blobs g plans to delete are
// still referenced by reloaded, meaning a prior, now-crashed attempt at this
// same finish already landed the manifest CAS.
func alreadyApplied(reloaded manifest.Manifest, g Garbage) bool {
	targets := make(map[string]struct{}, len(g.FragmentPaths)+len(g.SnapshotPaths))
	for _, p := range g.FragmentPaths {
		targets[p] = struct{}{}
	}
	for _, p := range g.SnapshotPaths {
		targets[p] = struct{}{}
	}
	for _, f := range reloaded.Fragments {
		if _, found := targets[f.Path]; found {
			return false
		}
	}
	for _, p := range reloaded.Snapshots {
		if _, found := targets[p.Path]; found {
			return false
		}
	}
	return true
}

// rebase replaces the leading prefix of reloaded's fragment and snapshot
// lists (the part this run planned against) with g's resolved prefix,
// keeping any tail a concurrent writer has appended since plan time. GC only
// ever collects a leading prefix of the manifest, so the planned prefix is
// the leading run of entries g deletes or keeps; anything after it belongs
// to the writer and is carried through untouched.
func rebase(reloaded manifest.Manifest, g Garbage) manifest.Manifest {
	result := reloaded
	result.CollectedSetsum = reloaded.CollectedSetsum.Plus(g.SetsumDelta)

	planned := make(map[string]bool)
	for _, p := range append(append([]string(nil), g.FragmentPaths...), g.SnapshotPaths...) {
		planned[p] = true
	}
	for _, f := range g.TopLevelFragments {
		planned[f.Path] = true
	}
	for _, p := range g.TopLevelSnapshots {
		planned[p.Path] = true
	}
	fragTail, snapTail := 0, 0
	for fragTail < len(reloaded.Fragments) && planned[reloaded.Fragments[fragTail].Path] {
		fragTail++
	}
	for snapTail < len(reloaded.Snapshots) && planned[reloaded.Snapshots[snapTail].Path] {
		snapTail++
	}
	result.Fragments = append(append([]manifest.Fragment(nil), g.TopLevelFragments...), reloaded.Fragments[fragTail:]...)
	result.Snapshots = append(append([]manifest.SnapshotPointer(nil), g.TopLevelSnapshots...), reloaded.Snapshots[snapTail:]...)
	return result
}

func (c *Collector) putSnapshot(ctx context.Context, snap manifest.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("gc: encoding rewritten snapshot: %w", err)
	}
	key := objstore.JoinPrefix(c.opts.Prefix, manifest.SnapshotPath(snap.Setsum.Hexdigest()))
	_, err = c.store.PutIfAbsent(ctx, key, data)
	if err == nil || errors.Is(err, errdefs.ErrAlreadyExists) {
		return nil
	}
	return werr.Wrap(werr.ErrStorage, err)
}

func (c *Collector) manifestKey() string {
	return objstore.JoinPrefix(c.opts.Prefix, manifest.ManifestKey)
}

func (c *Collector) garbageKey() string {
	return objstore.JoinPrefix(c.opts.Prefix, manifest.GarbageKey)
}
