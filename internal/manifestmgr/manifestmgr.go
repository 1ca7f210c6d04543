// Package manifestmgr owns a log's in-memory manifest, assigns positions to
// batches before their fragment bytes exist, and serializes every
// compare-and-swap publish against the manifest object.
package manifestmgr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/smallnest/deepcopy"

	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/objstore"
	"github.com/wuxler/vlog/internal/werr"
	"github.com/wuxler/vlog/pkg/errdefs"
)

// Options configures a Manager.
type Options struct {
	// Prefix is the log's key prefix in the object store.
	Prefix string

	// WriterName identifies this writer instance in every manifest and
	// snapshot it produces.
	WriterName string

	// FragmentScheme is the FragmentID regime a manifest created by Open
	// starts with. Once a manifest exists, its own recorded scheme governs
	// every FragmentID assigned for the log.
	FragmentScheme manifest.FragmentIDScheme

	// Rollover bounds the manifest's fragment and snapshot list sizes.
	Rollover manifest.RolloverOptions

	// MaxRetries bounds how many times Publish reloads the manifest and
	// replays a lost CAS before giving up durably. Defaults to 3.
	MaxRetries int

	// BaseBackoff is the delay before the first retry; it doubles on
	// each subsequent attempt. Defaults to 10ms.
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

// Manager is the single owner of a log's manifest state for one writer
// process. Its lock serializes in-memory mutation; object-store I/O
// happens outside the lock so a slow CAS write never blocks position
// assignment for the next batch.
type Manager struct {
	store objstore.Store
	opts  Options
	clk   clock.Clock

	mu      sync.Mutex
	current manifest.Manifest
	etag    objstore.ETag

	nextPosition manifest.LogPosition
	nextSeqNo    uint64
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithClock injects a clock.Clock, for deterministic tests of retry
// backoff via clock.NewMock().
func WithClock(clk clock.Clock) ManagerOption {
	return func(m *Manager) { m.clk = clk }
}

// Open loads the log's manifest if one exists, or initializes a fresh one
// with the given options if this is the first writer to ever open this
// prefix. A race between two initializers resolves by both reloading
// whichever manifest won the create-if-absent.
func Open(ctx context.Context, store objstore.Store, opts Options, managerOpts ...ManagerOption) (*Manager, error) {
	opts = opts.withDefaults()
	m := &Manager{store: store, opts: opts, clk: clock.New()}
	for _, opt := range managerOpts {
		opt(m)
	}

	key := m.manifestKey()
	obj, err := store.Get(ctx, key)
	switch {
	case err == nil:
		current, decErr := manifest.Decode(obj.Data)
		if decErr != nil {
			return nil, werr.Wrap(werr.ErrCorruptManifest, decErr)
		}
		m.load(current, obj.ETag)
		return m, nil

	case errors.Is(err, errdefs.ErrNotFound):
		fresh := manifest.NewEmpty(opts.WriterName, opts.FragmentScheme)
		data, encErr := fresh.Encode()
		if encErr != nil {
			return nil, fmt.Errorf("manifestmgr: encoding fresh manifest: %w", encErr)
		}
		etag, putErr := store.PutIfAbsent(ctx, key, data)
		if putErr == nil {
			m.load(fresh, etag)
			return m, nil
		}
		if !errors.Is(putErr, errdefs.ErrAlreadyExists) {
			return nil, werr.Wrap(werr.ErrStorage, putErr)
		}
		obj, err = store.Get(ctx, key)
		if err != nil {
			return nil, werr.Wrap(werr.ErrStorage, err)
		}
		current, decErr := manifest.Decode(obj.Data)
		if decErr != nil {
			return nil, werr.Wrap(werr.ErrCorruptManifest, decErr)
		}
		m.load(current, obj.ETag)
		return m, nil

	default:
		return nil, werr.Wrap(werr.ErrStorage, err)
	}
}

func (m *Manager) load(current manifest.Manifest, etag objstore.ETag) {
	m.current = current
	m.etag = etag
	m.nextPosition = current.NextWritePosition()
	m.nextSeqNo = nextSeqNoAfter(current)
}

func nextSeqNoAfter(m manifest.Manifest) uint64 {
	if n := len(m.Fragments); n > 0 && m.Fragments[n-1].ID.Scheme() == manifest.FragmentIDSeqNo {
		return m.Fragments[n-1].ID.SeqNo() + 1
	}
	return 0
}

// Current returns a snapshot of the manifest as last observed, for readers
// that want the writer's own in-process view without a fresh Get.
func (m *Manager) Current() manifest.Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deepcopy.Copy(m.current).(manifest.Manifest)
}

// AssignPosition atomically reserves recordCount positions and a fragment
// identity for a batch whose bytes have not been written yet. It returns
// false if the position space is exhausted. It implements
// batch.PositionAssigner.
func (m *Manager) AssignPosition(recordCount int) (manifest.FragmentID, manifest.LogPosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if recordCount <= 0 {
		return manifest.FragmentID{}, 0, false
	}
	start := m.nextPosition
	if start.Offset() > math.MaxUint64-uint64(recordCount) {
		return manifest.FragmentID{}, 0, false
	}

	scheme := m.current.FragmentScheme
	if scheme == "" {
		scheme = m.opts.FragmentScheme
	}
	var id manifest.FragmentID
	switch scheme {
	case manifest.FragmentIDUUID:
		id = manifest.NewUUIDFragmentID()
	default:
		id = manifest.NewSeqNoFragmentID(m.nextSeqNo)
		m.nextSeqNo++
	}
	m.nextPosition = start.Add(uint64(recordCount))
	return id, start, true
}

// Publish applies frag to the manifest and CAS-writes the result. On a lost
// CAS race it reloads the current manifest and replays frag on top of it,
// up to Options.MaxRetries times with exponentially increasing backoff,
// before returning werr.ErrLogContentionDurable.
func (m *Manager) Publish(ctx context.Context, frag manifest.Fragment) (manifest.Manifest, error) {
	m.mu.Lock()
	working := deepcopy.Copy(m.current).(manifest.Manifest)
	etag := m.etag
	m.mu.Unlock()

	updated, created, err := working.ApplyFragment(frag, m.opts.Rollover)
	if err != nil {
		return manifest.Manifest{}, err
	}
	if newEtag, ok, err := m.tryPublish(ctx, updated, created, etag); err != nil {
		return manifest.Manifest{}, err
	} else if ok {
		m.commit(updated, newEtag)
		return updated, nil
	}

	return m.retryPublish(ctx, frag)
}

// tryPublish writes the new snapshot blobs and attempts the manifest CAS
// once. The second return value is false only on a CAS conflict; any other
// error is returned directly.
func (m *Manager) tryPublish(ctx context.Context, updated manifest.Manifest, created []manifest.Snapshot, etag objstore.ETag) (objstore.ETag, bool, error) {
	for _, snap := range created {
		if err := m.putSnapshot(ctx, snap); err != nil {
			return "", false, err
		}
	}
	data, err := updated.Encode()
	if err != nil {
		return "", false, fmt.Errorf("manifestmgr: encoding manifest: %w", err)
	}
	newEtag, err := m.store.PutIfMatch(ctx, m.manifestKey(), data, etag)
	if err == nil {
		return newEtag, true, nil
	}
	if errors.Is(err, errdefs.ErrConflict) {
		return "", false, nil
	}
	return "", false, werr.Wrap(werr.ErrStorage, err)
}

// retryPublish reloads the manifest and replays frag on top of it, up to
// MaxRetries times with exponential backoff.
func (m *Manager) retryPublish(ctx context.Context, frag manifest.Fragment) (manifest.Manifest, error) {
	backoff := m.opts.BaseBackoff
	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxRetries; attempt++ {
		obj, err := m.store.Get(ctx, m.manifestKey())
		if err != nil {
			return manifest.Manifest{}, werr.Wrap(werr.ErrStorage, err)
		}
		reloaded, err := manifest.Decode(obj.Data)
		if err != nil {
			return manifest.Manifest{}, werr.Wrap(werr.ErrCorruptManifest, err)
		}
		if !reloaded.CanApplyFragment(frag) {
			return manifest.Manifest{}, werr.Wrapf(werr.ErrLogContentionFailure,
				"manifestmgr: fragment starting at %s no longer applies to reloaded manifest at %s",
				frag.Start, reloaded.NextWritePosition())
		}

		updated, created, err := reloaded.ApplyFragment(frag, m.opts.Rollover)
		if err != nil {
			return manifest.Manifest{}, err
		}
		newEtag, ok, err := m.tryPublish(ctx, updated, created, obj.ETag)
		if err != nil {
			return manifest.Manifest{}, err
		}
		if ok {
			m.commit(updated, newEtag)
			return updated, nil
		}
		lastErr = werr.Wrap(werr.ErrLogContentionRetry, fmt.Errorf("attempt %d/%d lost CAS race", attempt, m.opts.MaxRetries))

		if attempt < m.opts.MaxRetries {
			select {
			case <-m.clk.After(backoff):
			case <-ctx.Done():
				return manifest.Manifest{}, ctx.Err()
			}
			backoff *= 2
		}
	}
	return manifest.Manifest{}, werr.Wrap(werr.ErrLogContentionDurable, lastErr)
}

func (m *Manager) commit(updated manifest.Manifest, etag objstore.ETag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = updated
	m.etag = etag
	if updated.NextWritePosition() != m.nextPosition {
		m.nextPosition = updated.NextWritePosition()
	}
	m.nextSeqNo = nextSeqNoAfter(updated)
}

// putSnapshot persists a newly built snapshot blob. Snapshots are
// content-addressed, so two writers racing to create the same content
// both succeed: PutIfAbsent's AlreadyExists is not an error here.
func (m *Manager) putSnapshot(ctx context.Context, snap manifest.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("manifestmgr: encoding snapshot: %w", err)
	}
	key := m.snapshotKey(snap)
	_, err = m.store.PutIfAbsent(ctx, key, data)
	if err == nil || errors.Is(err, errdefs.ErrAlreadyExists) {
		return nil
	}
	return werr.Wrap(werr.ErrStorage, err)
}

func (m *Manager) manifestKey() string {
	return objstore.JoinPrefix(m.opts.Prefix, manifest.ManifestKey)
}

func (m *Manager) snapshotKey(snap manifest.Snapshot) string {
	return objstore.JoinPrefix(m.opts.Prefix, manifest.SnapshotPath(snap.Setsum.Hexdigest()))
}
