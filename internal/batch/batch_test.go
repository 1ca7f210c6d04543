package batch_test

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/vlog/internal/batch"
	"github.com/wuxler/vlog/internal/manifest"
)

type fakeAssigner struct {
	next manifest.LogPosition
}

func (a *fakeAssigner) AssignPosition(recordCount int) (manifest.FragmentID, manifest.LogPosition, bool) {
	start := a.next
	a.next = a.next.Add(uint64(recordCount))
	return manifest.NewSeqNoFragmentID(start.Offset()), start, true
}

func TestTakeWorkWaitsBelowHalfBudget(t *testing.T) {
	clk := clock.NewMock()
	m := batch.New(batch.ThrottleOptions{
		Throughput:      1000,
		BatchIntervalUs: int(time.Second / time.Microsecond),
		BatchSizeBytes:  1000,
	}, batch.WithClock(clk))

	m.Push([]byte("short"))

	assigner := &fakeAssigner{next: manifest.FirstPosition}
	_, ok, err := m.TakeWork(assigner)
	require.NoError(t, err)
	assert.False(t, ok, "a batch far under half the byte budget should wait for the interval to elapse")
}

func TestTakeWorkFiresAfterIntervalElapses(t *testing.T) {
	clk := clock.NewMock()
	m := batch.New(batch.ThrottleOptions{
		Throughput:      1000,
		BatchIntervalUs: 10,
		BatchSizeBytes:  1000,
	}, batch.WithClock(clk))

	m.Push([]byte("short"))
	clk.Add(1 * time.Millisecond)

	assigner := &fakeAssigner{next: manifest.FirstPosition}
	work, ok, err := m.TakeWork(assigner)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, work.Items, 1)
	assert.Equal(t, manifest.FirstPosition, work.Start)
}

func TestFinishWriteReleasesOutstandingSlot(t *testing.T) {
	clk := clock.NewMock()
	m := batch.New(batch.ThrottleOptions{
		Throughput:      1_000_000,
		BatchIntervalUs: 1,
		BatchSizeBytes:  1000,
	}, batch.WithClock(clk))
	assigner := &fakeAssigner{next: manifest.FirstPosition}

	m.Push([]byte("a"))
	clk.Add(time.Millisecond)
	work, ok, err := m.TakeWork(assigner)
	require.NoError(t, err)
	require.True(t, ok)

	m.Push([]byte("b"))
	clk.Add(time.Millisecond)
	_, ok, err = m.TakeWork(assigner)
	require.NoError(t, err)
	assert.False(t, ok, "only one outstanding write is ever allowed at a time")

	m.FinishWrite(len(work.Items))
	clk.Add(time.Millisecond)
	work2, ok, err := m.TakeWork(assigner)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, work2.Items, 1)
}

func TestWorkCompleteAssignsConsecutivePositions(t *testing.T) {
	clk := clock.NewMock()
	m := batch.New(batch.ThrottleOptions{
		Throughput:      1_000_000,
		BatchIntervalUs: 1,
		BatchSizeBytes:  1000,
	}, batch.WithClock(clk))

	ch1 := m.Push([]byte("a"))
	ch2 := m.Push([]byte("b"))
	clk.Add(time.Millisecond)

	assigner := &fakeAssigner{next: manifest.FirstPosition}
	work, ok, err := m.TakeWork(assigner)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, work.Items, 2)

	work.Complete(nil)

	r1 := <-ch1
	r2 := <-ch2
	assert.NoError(t, r1.Err)
	assert.NoError(t, r2.Err)
	assert.Equal(t, manifest.FirstPosition, r1.Position)
	assert.Equal(t, manifest.FirstPosition.Add(1), r2.Position)
}

func TestWorkFailDeliversErrorToEveryCaller(t *testing.T) {
	clk := clock.NewMock()
	m := batch.New(batch.ThrottleOptions{
		Throughput:      1_000_000,
		BatchIntervalUs: 1,
		BatchSizeBytes:  1000,
	}, batch.WithClock(clk))

	ch1 := m.Push([]byte("a"))
	ch2 := m.Push([]byte("b"))
	clk.Add(time.Millisecond)

	assigner := &fakeAssigner{next: manifest.FirstPosition}
	work, ok, err := m.TakeWork(assigner)
	require.NoError(t, err)
	require.True(t, ok)

	boom := assert.AnError
	work.Fail(boom)

	r1 := <-ch1
	r2 := <-ch2
	assert.ErrorIs(t, r1.Err, boom)
	assert.ErrorIs(t, r2.Err, boom)
}
