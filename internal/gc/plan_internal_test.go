package gc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/objstore"
	"github.com/wuxler/vlog/internal/setsum"
)

func putSnapshotBlob(t *testing.T, store objstore.Store, prefix string, snap manifest.Snapshot) manifest.SnapshotPointer {
	t.Helper()
	data, err := snap.Encode()
	require.NoError(t, err)
	key := objstore.JoinPrefix(prefix, manifest.SnapshotPath(snap.Setsum.Hexdigest()))
	_, err = store.PutIfAbsent(context.Background(), key, data)
	require.NoError(t, err)
	return snap.Pointer(manifest.SnapshotPath(snap.Setsum.Hexdigest()))
}

func TestPlanSkipsWhenThresholdNotPastOldestLive(t *testing.T) {
	store := objstore.NewMemory()
	c := New(store, Options{Prefix: "logs/one"})

	m := manifest.Manifest{
		Fragments: []manifest.Fragment{
			{Path: "log/1.parquet", Start: 1, Limit: 2, Setsum: setsum.Of([]byte("a"))},
		},
	}
	_, ok, err := c.plan(context.Background(), m, manifest.FirstPosition)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlanDeletesWhollyGarbageFragments(t *testing.T) {
	store := objstore.NewMemory()
	c := New(store, Options{Prefix: "logs/one"})

	f1 := manifest.Fragment{Path: "log/1.parquet", Start: 1, Limit: 2, Setsum: setsum.Of([]byte("a"))}
	f2 := manifest.Fragment{Path: "log/2.parquet", Start: 2, Limit: 3, Setsum: setsum.Of([]byte("b"))}
	f3 := manifest.Fragment{Path: "log/3.parquet", Start: 3, Limit: 4, Setsum: setsum.Of([]byte("c"))}

	m := manifest.Manifest{Fragments: []manifest.Fragment{f1, f2, f3}}
	g, ok, err := c.plan(context.Background(), m, manifest.LogPosition(3))
	require.NoError(t, err)
	require.True(t, ok)

	assert.ElementsMatch(t, []string{f1.Path, f2.Path}, g.FragmentPaths)
	require.Len(t, g.TopLevelFragments, 1)
	assert.Equal(t, f3.Path, g.TopLevelFragments[0].Path)
	assert.Equal(t, f1.Setsum.Plus(f2.Setsum), g.SetsumDelta)
}

func TestPlanRewritesStraddlingSnapshot(t *testing.T) {
	store := objstore.NewMemory()
	prefix := "logs/one"
	c := New(store, Options{Prefix: prefix})

	f1 := manifest.Fragment{Path: "log/1.parquet", Start: 1, Limit: 2, Setsum: setsum.Of([]byte("a"))}
	f2 := manifest.Fragment{Path: "log/2.parquet", Start: 2, Limit: 3, Setsum: setsum.Of([]byte("b"))}
	snap := manifest.Snapshot{Writer: "writer-a", Depth: 1, Start: 1, Limit: 3, Setsum: f1.Setsum.Plus(f2.Setsum), Fragments: []manifest.Fragment{f1, f2}}
	ptr := putSnapshotBlob(t, store, prefix, snap)

	m := manifest.Manifest{Snapshots: []manifest.SnapshotPointer{ptr}}
	g, ok, err := c.plan(context.Background(), m, manifest.LogPosition(2))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []string{f1.Path}, g.FragmentPaths)
	assert.Equal(t, []string{ptr.Path}, g.SnapshotPaths)
	require.Len(t, g.RewrittenSnapshots, 1)
	assert.Equal(t, f2.Setsum, g.RewrittenSnapshots[0].Setsum)
	require.Len(t, g.TopLevelSnapshots, 1)
	assert.Equal(t, manifest.LogPosition(2), g.TopLevelSnapshots[0].Start)
	assert.Equal(t, f1.Setsum, g.SetsumDelta)
}

func TestCollectResumesFromCrashLeftGarbageRecord(t *testing.T) {
	store := objstore.NewMemory()
	prefix := "logs/one"
	ctx := context.Background()

	f1 := manifest.Fragment{Path: "log/1.parquet", Start: 1, Limit: 2, Setsum: setsum.Of([]byte("a"))}
	f2 := manifest.Fragment{Path: "log/2.parquet", Start: 2, Limit: 3, Setsum: setsum.Of([]byte("b"))}
	m := manifest.Manifest{WriterName: "writer-a", SetsumTotal: f1.Setsum.Plus(f2.Setsum), Fragments: []manifest.Fragment{f1, f2}}
	data, err := m.Encode()
	require.NoError(t, err)
	_, err = store.PutIfAbsent(ctx, objstore.JoinPrefix(prefix, manifest.ManifestKey), data)
	require.NoError(t, err)
	for _, f := range []manifest.Fragment{f1, f2} {
		_, err := store.PutIfAbsent(ctx, objstore.JoinPrefix(prefix, f.Path), []byte("fragment-bytes"))
		require.NoError(t, err)
	}

	crashed := New(store, Options{Prefix: prefix})
	g, ok, err := crashed.plan(ctx, m, manifest.LogPosition(2))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, crashed.publishGarbage(ctx, g))

	// The process is imagined to crash here, after the Garbage record is
	// durable but before any blob or the manifest itself has been touched.
	_, err = store.Get(ctx, objstore.JoinPrefix(prefix, f1.Path))
	require.NoError(t, err, "fragment must still be present before finish runs")

	restarted := New(store, Options{Prefix: prefix})
	report, err := restarted.Collect(ctx, manifest.LogPosition(2))
	require.NoError(t, err)
	assert.True(t, report.Resumed)

	_, err = store.Get(ctx, objstore.JoinPrefix(prefix, f1.Path))
	assert.Error(t, err, "garbage fragment should be deleted once the resumed run finishes")

	reloadedObj, err := store.Get(ctx, objstore.JoinPrefix(prefix, manifest.ManifestKey))
	require.NoError(t, err)
	reloaded, err := manifest.Decode(reloadedObj.Data)
	require.NoError(t, err)
	require.Len(t, reloaded.Fragments, 1)
	assert.Equal(t, f2.Path, reloaded.Fragments[0].Path)

	_, err = store.Get(ctx, objstore.JoinPrefix(prefix, manifest.GarbageKey))
	assert.Error(t, err, "garbage record should be removed once finish completes")
}

func TestPlanDropsWhollyGarbageSnapshotAndEnumeratesItsFragments(t *testing.T) {
	store := objstore.NewMemory()
	prefix := "logs/one"
	c := New(store, Options{Prefix: prefix})

	f1 := manifest.Fragment{Path: "log/1.parquet", Start: 1, Limit: 2, Setsum: setsum.Of([]byte("a"))}
	f2 := manifest.Fragment{Path: "log/2.parquet", Start: 2, Limit: 3, Setsum: setsum.Of([]byte("b"))}
	snap := manifest.Snapshot{Writer: "writer-a", Depth: 1, Start: 1, Limit: 3, Setsum: f1.Setsum.Plus(f2.Setsum), Fragments: []manifest.Fragment{f1, f2}}
	ptr := putSnapshotBlob(t, store, prefix, snap)

	m := manifest.Manifest{Snapshots: []manifest.SnapshotPointer{ptr}}
	g, ok, err := c.plan(context.Background(), m, manifest.LogPosition(3))
	require.NoError(t, err)
	require.True(t, ok)

	assert.ElementsMatch(t, []string{f1.Path, f2.Path}, g.FragmentPaths)
	assert.Equal(t, []string{ptr.Path}, g.SnapshotPaths)
	assert.Empty(t, g.RewrittenSnapshots)
	assert.Empty(t, g.TopLevelSnapshots)
	assert.Equal(t, ptr.Setsum, g.SetsumDelta)
}
