package manifestmgr_test

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/manifestmgr"
	"github.com/wuxler/vlog/internal/objstore"
	"github.com/wuxler/vlog/internal/setsum"
)

func opts() manifestmgr.Options {
	return manifestmgr.Options{
		Prefix:         "logs/one",
		WriterName:     "writer-a",
		FragmentScheme: manifest.FragmentIDSeqNo,
		Rollover:       manifest.RolloverOptions{FragmentRolloverThreshold: 2, SnapshotRolloverThreshold: 2},
	}
}

func TestOpenInitializesFreshManifest(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()

	m, err := manifestmgr.Open(ctx, store, opts())
	require.NoError(t, err)
	assert.Equal(t, manifest.FirstPosition, m.Current().NextWritePosition())

	obj, err := store.Get(ctx, "logs/one/MANIFEST")
	require.NoError(t, err)
	assert.NotEmpty(t, obj.Data)
}

func TestAssignPositionAdvancesMonotonically(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	m, err := manifestmgr.Open(ctx, store, opts())
	require.NoError(t, err)

	id1, start1, ok := m.AssignPosition(3)
	require.True(t, ok)
	assert.Equal(t, manifest.FirstPosition, start1)
	assert.Equal(t, uint64(0), id1.SeqNo())

	id2, start2, ok := m.AssignPosition(2)
	require.True(t, ok)
	assert.Equal(t, manifest.FirstPosition.Add(3), start2)
	assert.Equal(t, uint64(1), id2.SeqNo())
}

func TestPublishWritesManifestAndUpdatesEtag(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	m, err := manifestmgr.Open(ctx, store, opts())
	require.NoError(t, err)

	id, start, ok := m.AssignPosition(1)
	require.True(t, ok)

	frag := manifest.Fragment{
		ID:       id,
		Path:     manifest.FragmentPath(id),
		Start:    start,
		Limit:    start.Add(1),
		NumBytes: 64,
		Setsum:   setsum.Of([]byte("record-1")),
	}

	updated, err := m.Publish(ctx, frag)
	require.NoError(t, err)
	assert.Equal(t, manifest.FirstPosition.Add(1), updated.NextWritePosition())
	assert.Equal(t, frag.Setsum, updated.SetsumTotal)
}

func TestPublishReplaysOnLostCASRace(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	m, err := manifestmgr.Open(ctx, store, opts(), manifestmgr.WithClock(clock.NewMock()))
	require.NoError(t, err)

	id, start, ok := m.AssignPosition(1)
	require.True(t, ok)
	frag := manifest.Fragment{ID: id, Path: manifest.FragmentPath(id), Start: start, Limit: start.Add(1), NumBytes: 10, Setsum: setsum.Of([]byte("a"))}

	// Simulate a second writer instance winning a CAS race behind m's
	// back: the manifest held by m's manifestmgr is now stale.
	rival, err := manifestmgr.Open(ctx, store, opts())
	require.NoError(t, err)
	rivalID, rivalStart, ok := rival.AssignPosition(1)
	require.True(t, ok)
	rivalFrag := manifest.Fragment{ID: rivalID, Path: manifest.FragmentPath(rivalID), Start: rivalStart, Limit: rivalStart.Add(1), NumBytes: 10, Setsum: setsum.Of([]byte("rival"))}
	_, err = rival.Publish(ctx, rivalFrag)
	require.NoError(t, err)

	// m still thinks the log starts empty, so its fragment no longer
	// matches what it will see once it reloads — it must fail with
	// werr.ErrLogContentionFailure rather than silently reorder behind the
	// rival's write.
	_, err = m.Publish(ctx, frag)
	assert.Error(t, err)
}

func TestPublishFailsDurablyWhenFragmentNoLongerApplies(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	m, err := manifestmgr.Open(ctx, store, opts(), manifestmgr.WithClock(clock.NewMock()))
	require.NoError(t, err)

	id, start, ok := m.AssignPosition(1)
	require.True(t, ok)
	frag := manifest.Fragment{ID: id, Path: manifest.FragmentPath(id), Start: start, Limit: start.Add(1), NumBytes: 10, Setsum: setsum.Of([]byte("a"))}

	// Publish it once so the manifest advances past this fragment's range.
	_, err = m.Publish(ctx, frag)
	require.NoError(t, err)

	// Replaying the same already-applied fragment must fail since it no
	// longer matches the in-memory manifest's next write position; Publish
	// rejects it before attempting any CAS.
	_, err = m.Publish(ctx, frag)
	assert.Error(t, err)
}
