package logwriter_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/vlog/internal/batch"
	"github.com/wuxler/vlog/internal/logwriter"
	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/objstore"
)

func testOptions(prefix string) logwriter.Options {
	return logwriter.Options{
		Prefix:         prefix,
		WriterName:     "writer-a",
		FragmentScheme: manifest.FragmentIDSeqNo,
		Rollover:       manifest.RolloverOptions{FragmentRolloverThreshold: 4, SnapshotRolloverThreshold: 4},
		Throttle: batch.ThrottleOptions{
			Throughput:      1000,
			BatchIntervalUs: int(5 * time.Millisecond / time.Microsecond),
			BatchSizeBytes:  4096,
		},
	}
}

func TestAppendReturnsMonotonicPositions(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	w, err := logwriter.Open(ctx, store, testOptions("logs/one"))
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close(ctx)) }()

	p1, err := w.Append(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, manifest.FirstPosition, p1)

	p2, err := w.Append(ctx, []byte("world"))
	require.NoError(t, err)
	assert.Equal(t, manifest.FirstPosition.Add(1), p2)
}

func TestConcurrentAppendsAllSucceed(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	w, err := logwriter.Open(ctx, store, testOptions("logs/one"))
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close(ctx)) }()

	const n = 50
	var wg sync.WaitGroup
	positions := make([]manifest.LogPosition, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			positions[i], errs[i] = w.Append(ctx, []byte(fmt.Sprintf("record-%d", i)))
		}(i)
	}
	wg.Wait()

	seen := make(map[manifest.LogPosition]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[positions[i]], "position %s assigned twice", positions[i])
		seen[positions[i]] = true
	}
}

func TestCloseDrainsPendingAppends(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	w, err := logwriter.Open(ctx, store, testOptions("logs/one"))
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := w.Append(ctx, []byte("last one in"))
		result <- err
	}()

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, w.Close(closeCtx))

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("append never completed despite Close draining")
	}
}

func TestAppendManyPreservesOrder(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	w, err := logwriter.Open(ctx, store, testOptions("logs/one"))
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close(ctx)) }()

	positions, err := w.AppendMany(ctx, [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	require.Len(t, positions, 3)
	assert.Equal(t, manifest.FirstPosition, positions[0])
	assert.Equal(t, manifest.FirstPosition.Add(1), positions[1])
	assert.Equal(t, manifest.FirstPosition.Add(2), positions[2])
}
