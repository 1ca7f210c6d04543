package logreader_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/vlog/internal/batch"
	"github.com/wuxler/vlog/internal/iter"
	"github.com/wuxler/vlog/internal/logreader"
	"github.com/wuxler/vlog/internal/logwriter"
	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/objstore"
)

func writerOptions(prefix string, fragmentThreshold int) logwriter.Options {
	return logwriter.Options{
		Prefix:         prefix,
		WriterName:     "writer-a",
		FragmentScheme: manifest.FragmentIDSeqNo,
		Rollover:       manifest.RolloverOptions{FragmentRolloverThreshold: fragmentThreshold, SnapshotRolloverThreshold: 1 << 30},
		Throttle: batch.ThrottleOptions{
			Throughput:      10_000,
			BatchIntervalUs: int(2 * time.Millisecond / time.Microsecond),
			BatchSizeBytes:  4096,
		},
	}
}

func TestScanReturnsRecordsInOrderAcrossSnapshots(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	w, err := logwriter.Open(ctx, store, writerOptions("logs/one", 2))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := w.Append(ctx, []byte{byte('a' + i)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close(ctx))

	reader := logreader.New(store, "logs/one")
	it, err := reader.Scan(ctx, manifest.FirstPosition)
	require.NoError(t, err)

	records, err := iter.Collect(ctx, it)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, rec := range records {
		assert.Equal(t, manifest.FirstPosition.Add(uint64(i)), rec.Position)
		assert.Equal(t, []byte{byte('a' + i)}, rec.Data)
	}
}

func TestScanFromMidpointSkipsEarlierFragments(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	w, err := logwriter.Open(ctx, store, writerOptions("logs/one", 2))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := w.Append(ctx, []byte{byte('a' + i)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close(ctx))

	reader := logreader.New(store, "logs/one")
	it, err := reader.Scan(ctx, manifest.FirstPosition.Add(3))
	require.NoError(t, err)

	records, err := iter.Collect(ctx, it)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, manifest.FirstPosition.Add(3), records[0].Position)
	assert.Equal(t, manifest.FirstPosition.Add(4), records[1].Position)
}

func TestScrubReportsSetsumMatch(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	w, err := logwriter.Open(ctx, store, writerOptions("logs/one", 2))
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		_, err := w.Append(ctx, []byte{byte('a' + i)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close(ctx))

	reader := logreader.New(store, "logs/one")
	report, err := reader.Scrub(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, report.RecordCount)
	assert.True(t, report.SetsumsMatch)
}
