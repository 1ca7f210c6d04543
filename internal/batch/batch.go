// Package batch coalesces concurrent append callers into time- and
// byte-bounded batches, and hands each batch to the manifest manager as a
// single fragment write, never more than one at a time.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/werr"
)

// ThrottleOptions bounds how Manager groups enqueued appends into fragments.
type ThrottleOptions struct {
	// Throughput is the fragment write ceiling in fragments/sec; it sets
	// the minimum spacing between successive batches.
	Throughput int

	// BatchIntervalUs is the longest a non-full batch waits before being
	// written anyway, in microseconds.
	BatchIntervalUs int

	// BatchSizeBytes is the target batch size in bytes.
	BatchSizeBytes int

	// Outstanding is always forced to 1 by New: concurrent in-flight
	// writes were supported once and removed for safety, so this field
	// exists only to document the invariant, never to tune it.
	Outstanding int
}

// PositionAssigner is the single piece of manifest-manager state the batch
// manager needs: in-memory assignment of a fragment identity and starting
// position for a batch of the given record count. Assignment must be
// atomic with respect to other assignments, but does not itself touch the
// object store.
type PositionAssigner interface {
	AssignPosition(recordCount int) (manifest.FragmentID, manifest.LogPosition, bool)
}

// pending is one enqueued append call waiting to be folded into a batch.
type pending struct {
	record []byte
	result chan<- Result
}

// Result is delivered to an append caller once its record has been
// durably written as part of some fragment, or once batching has
// permanently failed.
type Result struct {
	Position manifest.LogPosition
	Err      error
}

// Work is a batch ready to be written as a single fragment.
type Work struct {
	FragmentID manifest.FragmentID
	Start      manifest.LogPosition
	Items      []pending
}

// Records returns the raw record bytes in this batch, in append order.
func (w Work) Records() [][]byte {
	out := make([][]byte, len(w.Items))
	for i, p := range w.Items {
		out[i] = p.record
	}
	return out
}

// Complete delivers a Result to every append call folded into this batch.
// Item i receives err if non-nil, else position Start.Add(i): within a
// batch, records are assigned consecutive positions in the order they
// entered the queue.
func (w Work) Complete(err error) {
	for i, p := range w.Items {
		result := Result{Err: err}
		if err == nil {
			result.Position = w.Start.Add(uint64(i))
		}
		p.result <- result
		close(p.result)
	}
}

// Fail is shorthand for Complete with an error and no positions.
func (w Work) Fail(err error) {
	w.Complete(err)
}

// Manager queues concurrent Push calls and exposes TakeWork to a single
// batching-loop goroutine, which is the only caller allowed to write a
// fragment at a time — Outstanding is pinned to 1 regardless of what the
// caller requests.
type Manager struct {
	options ThrottleOptions
	clock   clock.Clock

	mu            sync.Mutex
	enqueued      []pending
	lastBatch     time.Time
	nextWrite     time.Time
	writersActive int

	writeFinished chan struct{}

	recordsWritten uint64
	batchesWritten uint64
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithClock injects a clock.Clock, for deterministic tests of throughput
// and batch-interval spacing via clock.NewMock().
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clock = clk }
}

// New returns a Manager. Outstanding is always reset to 1: once upon a time
// concurrent in-flight writes were allowed here; it was judged unsafe and
// removed, so this is a hard invariant rather than a tunable.
func New(options ThrottleOptions, opts ...Option) *Manager {
	options.Outstanding = 1
	m := &Manager{
		options:       options,
		clock:         clock.New(),
		writeFinished: make(chan struct{}, 1),
		// Seeded at 100k records over 1 batch: a reasonable cold-start
		// estimate that favors a fast ramp-up over a slow, cautious one.
		recordsWritten: 100_000,
		batchesWritten: 1,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastBatch = m.clock.Now()
	m.nextWrite = m.clock.Now()
	return m
}

// Push enqueues record and returns a channel that receives its Result once
// the batch containing it has been written (or batching fails).
func (m *Manager) Push(record []byte) <-chan Result {
	result := make(chan Result, 1)
	m.mu.Lock()
	m.enqueued = append(m.enqueued, pending{record: record, result: result})
	m.mu.Unlock()
	return result
}

// WaitForWritable blocks until a write completes, so the batching loop can
// wake up and re-check whether new work has become eligible.
func (m *Manager) WaitForWritable(ctx context.Context) error {
	select {
	case <-m.writeFinished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UntilNextBatch returns how long the caller should wait before calling
// TakeWork again if it finds no work ready now.
func (m *Manager) UntilNextBatch() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := m.clock.Now().Sub(m.lastBatch)
	threshold := time.Duration(m.options.BatchIntervalUs) * time.Microsecond
	if elapsed > threshold {
		return 0
	}
	return threshold - elapsed
}

// TakeWork selects the next batch to write, if one is eligible: it clamps
// the candidate batch first by the running average-batch-size estimate,
// then by the byte budget, and only proceeds if the batch is at least half
// the byte budget full or the batch interval has already elapsed. On
// success it assigns a fragment identity and start position via assigner
// and removes the selected records from the queue.
func (m *Manager) TakeWork(assigner PositionAssigner) (Work, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.enqueued) == 0 {
		return Work{}, false, nil
	}

	target := m.estimatedBatchSize()
	n := target
	if len(m.enqueued) > target*2 || len(m.enqueued) < target {
		n = len(m.enqueued)
	}

	bytes := 0
	for i := 0; i < n; i++ {
		if bytes > m.options.BatchSizeBytes {
			n = i
			break
		}
		bytes += len(m.enqueued[i].record)
	}

	belowHalfFull := bytes < m.options.BatchSizeBytes/2
	intervalElapsed := m.clock.Now().Sub(m.lastBatch) >= time.Duration(m.options.BatchIntervalUs)*time.Microsecond
	if belowHalfFull && !intervalElapsed {
		m.notifyWriteFinished()
		return Work{}, false, nil
	}

	if m.clock.Now().Before(m.nextWrite) || m.writersActive >= m.options.Outstanding {
		return Work{}, false, nil
	}

	fragID, start, ok := assigner.AssignPosition(n)
	if !ok {
		return Work{}, false, werr.Wrapf(werr.ErrLogFull, "batch: no log position available for %d records", n)
	}

	items := make([]pending, n)
	copy(items, m.enqueued[:n])
	m.enqueued = append([]pending(nil), m.enqueued[n:]...)
	m.lastBatch = m.clock.Now()
	m.writersActive++
	m.nextWrite = m.clock.Now().Add(m.throughputSpacing())

	return Work{FragmentID: fragID, Start: start, Items: items}, true, nil
}

// ForceTakeWork behaves like TakeWork but ignores the throughput and
// batch-interval gating, taking every enqueued record as one batch
// regardless of how little time has passed or how small it is. Used when
// shutting down, where latency budgets no longer matter and every
// enqueued record must be flushed before Close returns.
func (m *Manager) ForceTakeWork(assigner PositionAssigner) (Work, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.enqueued) == 0 {
		return Work{}, false, nil
	}
	if m.writersActive >= m.options.Outstanding {
		return Work{}, false, nil
	}

	n := len(m.enqueued)
	fragID, start, ok := assigner.AssignPosition(n)
	if !ok {
		return Work{}, false, werr.Wrapf(werr.ErrLogFull, "batch: no log position available for %d records", n)
	}

	items := make([]pending, n)
	copy(items, m.enqueued)
	m.enqueued = nil
	m.lastBatch = m.clock.Now()
	m.writersActive++

	return Work{FragmentID: fragID, Start: start, Items: items}, true, nil
}

// FinishWrite must be called exactly once per Work returned by TakeWork,
// whether the write succeeded or failed, to release the outstanding slot
// and wake anyone waiting via WaitForWritable.
func (m *Manager) FinishWrite(recordCount int) {
	m.mu.Lock()
	m.writersActive--
	m.recordsWritten += uint64(recordCount)
	m.batchesWritten++
	m.mu.Unlock()
	m.notifyWriteFinished()
}

func (m *Manager) notifyWriteFinished() {
	select {
	case m.writeFinished <- struct{}{}:
	default:
	}
}

func (m *Manager) throughputSpacing() time.Duration {
	if m.options.Throughput <= 0 {
		return 0
	}
	return time.Duration(1_000_000/m.options.Throughput) * time.Microsecond
}

// estimatedBatchSize is the exponentially-adjusted running average batch
// size, nudged up by 10% to favor slightly larger batches over time.
func (m *Manager) estimatedBatchSize() int {
	average := int(m.recordsWritten / m.batchesWritten)
	return average + average/10 + 1
}
