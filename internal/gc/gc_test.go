package gc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/wuxler/vlog/internal/batch"
	"github.com/wuxler/vlog/internal/cursor"
	"github.com/wuxler/vlog/internal/gc"
	"github.com/wuxler/vlog/internal/iter"
	"github.com/wuxler/vlog/internal/logreader"
	"github.com/wuxler/vlog/internal/logwriter"
	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/objstore"
	"github.com/wuxler/vlog/internal/objstore/mocks"
	"github.com/wuxler/vlog/internal/werr"
	"github.com/wuxler/vlog/pkg/errdefs"
)

func gcWriterOptions(prefix string) logwriter.Options {
	return logwriter.Options{
		Prefix:         prefix,
		WriterName:     "writer-a",
		FragmentScheme: manifest.FragmentIDSeqNo,
		Rollover:       manifest.RolloverOptions{FragmentRolloverThreshold: 2, SnapshotRolloverThreshold: 1 << 30},
		Throttle: batch.ThrottleOptions{
			Throughput:      10_000,
			BatchIntervalUs: int(2 * time.Millisecond / time.Microsecond),
			BatchSizeBytes:  4096,
		},
	}
}

func TestCollectNoopWhenNothingBelowThreshold(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	w, err := logwriter.Open(ctx, store, gcWriterOptions("logs/one"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := w.Append(ctx, []byte{byte('a' + i)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close(ctx))

	report, err := gc.New(store, gc.Options{Prefix: "logs/one"}).Collect(ctx, manifest.FirstPosition)
	require.NoError(t, err)
	assert.Zero(t, report.FragmentsDeleted)
	assert.Zero(t, report.SnapshotsDeleted)
}

func TestCollectDeletesFragmentsAndAdvancesScan(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	prefix := "logs/one"
	w, err := logwriter.Open(ctx, store, gcWriterOptions(prefix))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := w.Append(ctx, []byte{byte('a' + i)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close(ctx))

	reader := logreader.New(store, prefix)
	before, err := reader.Manifest(ctx)
	require.NoError(t, err)

	report, err := gc.New(store, gc.Options{Prefix: prefix}).Collect(ctx, manifest.LogPosition(4))
	require.NoError(t, err)
	assert.NotZero(t, report.FragmentsDeleted+report.SnapshotsDeleted)

	after, err := reader.Manifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.SetsumTotal, after.SetsumTotal)
	assert.Equal(t, report.SetsumDelta, after.CollectedSetsum)
	assert.True(t, before.OldestLivePosition().Less(after.OldestLivePosition()))

	it, err := reader.Scan(ctx, manifest.FirstPosition)
	require.NoError(t, err)
	records, err := iter.Collect(ctx, it)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, manifest.LogPosition(4), records[0].Position)
	assert.Equal(t, manifest.LogPosition(5), records[1].Position)
}

func TestCollectRewritesStraddlingSnapshotAndPreservesScan(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	prefix := "logs/one"
	w, err := logwriter.Open(ctx, store, gcWriterOptions(prefix))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := w.Append(ctx, []byte{byte('a' + i)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close(ctx))

	reader := logreader.New(store, prefix)
	m, err := reader.Manifest(ctx)
	require.NoError(t, err)
	require.Len(t, m.Snapshots, 1, "fragment rollover threshold of 2 should have folded the first two fragments into a snapshot")

	report, err := gc.New(store, gc.Options{Prefix: prefix}).Collect(ctx, manifest.LogPosition(2))
	require.NoError(t, err)
	assert.NotZero(t, report.FragmentsDeleted)

	it, err := reader.Scan(ctx, manifest.FirstPosition)
	require.NoError(t, err)
	records, err := iter.Collect(ctx, it)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, manifest.LogPosition(2), records[0].Position)
	assert.Equal(t, manifest.LogPosition(4), records[2].Position)
}

func TestCollectHonorsCursorFloor(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	prefix := "logs/one"
	w, err := logwriter.Open(ctx, store, gcWriterOptions(prefix))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := w.Append(ctx, []byte{byte('a' + i)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close(ctx))

	_, err = cursor.Create(ctx, store, prefix, cursor.Cursor{Name: "compactor", Position: manifest.LogPosition(2)})
	require.NoError(t, err)

	// floor asks to collect up through position 5, but the registered
	// cursor has only consumed up to 2, so collection must not reach past
	// it even though the caller requested further.
	report, err := gc.New(store, gc.Options{Prefix: prefix}).Collect(ctx, manifest.LogPosition(5))
	require.NoError(t, err)
	assert.Equal(t, manifest.LogPosition(2), report.Threshold)

	reader := logreader.New(store, prefix)
	it, err := reader.Scan(ctx, manifest.FirstPosition)
	require.NoError(t, err)
	records, err := iter.Collect(ctx, it)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, manifest.LogPosition(2), records[0].Position)
}

func TestCollectIsIdempotentOnSecondRun(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	prefix := "logs/one"
	w, err := logwriter.Open(ctx, store, gcWriterOptions(prefix))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := w.Append(ctx, []byte{byte('a' + i)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close(ctx))

	collector := gc.New(store, gc.Options{Prefix: prefix})
	first, err := collector.Collect(ctx, manifest.LogPosition(4))
	require.NoError(t, err)
	assert.NotZero(t, first.FragmentsDeleted)

	second, err := collector.Collect(ctx, manifest.LogPosition(4))
	require.NoError(t, err)
	assert.Zero(t, second.FragmentsDeleted)
	assert.Zero(t, second.SnapshotsDeleted)

	_, err = store.Get(ctx, objstore.JoinPrefix(prefix, manifest.GarbageKey))
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

// TestCollectWrapsManifestReadFailure exercises the object-store error path
// with a mocked Store, since the in-memory and filesystem backends never
// fail on a routine Get: a transient failure reading the manifest must come
// back wrapped in werr.ErrStorage rather than the raw store error, so a
// caller can tell a storage outage apart from a protocol violation.
func TestCollectWrapsManifestReadFailure(t *testing.T) {
	ctx := context.Background()
	prefix := "logs/mocked"

	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	boom := errors.New("connection reset")
	store.EXPECT().
		Get(gomock.Any(), objstore.JoinPrefix(prefix, manifest.GarbageKey)).
		Return(objstore.Object{}, errdefs.ErrNotFound)
	store.EXPECT().
		List(gomock.Any(), objstore.JoinPrefix(prefix, "cursor/")).
		Return(nil, nil)
	store.EXPECT().
		Get(gomock.Any(), objstore.JoinPrefix(prefix, manifest.ManifestKey)).
		Return(objstore.Object{}, boom)

	collector := gc.New(store, gc.Options{Prefix: prefix})
	_, err := collector.Collect(ctx, manifest.LogPosition(10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, werr.ErrStorage))
	assert.True(t, errors.Is(err, boom))
}

