// Package logwriter composes the batch manager, fragment codec, manifest
// manager, and object store into the log's append path. It runs as three
// cooperating roles, communicating by channel rather than shared locks:
// the public Append/AppendMany API, a single batching-loop goroutine that
// owns the batch manager and manifest manager, and a per-batch I/O fan-out
// that uploads the fragment blob before the manifest is published.
package logwriter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wuxler/vlog/internal/batch"
	"github.com/wuxler/vlog/internal/fragcodec"
	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/manifestmgr"
	"github.com/wuxler/vlog/internal/objstore"
	"github.com/wuxler/vlog/internal/werr"
	"github.com/wuxler/vlog/pkg/errdefs"
	"github.com/wuxler/vlog/pkg/util/xcontext"
	"github.com/wuxler/vlog/pkg/xlog"
)

// minPollInterval bounds how long the batching loop ever sleeps between
// checks, so a writer whose batch interval is misconfigured to 0 still
// makes progress instead of spinning.
const minPollInterval = time.Millisecond

// Options configures a Writer.
type Options struct {
	Prefix         string
	WriterName     string
	FragmentScheme manifest.FragmentIDScheme
	Rollover       manifest.RolloverOptions
	Throttle       batch.ThrottleOptions
	Codec          fragcodec.Options
}

// Writer is a single log's append path. Exactly one Writer per log prefix
// should be active at a time; a second writer racing against the first
// will observe CAS contention and fail durably rather than corrupt state.
type Writer struct {
	store objstore.Store
	opts  Options

	batchMgr    *batch.Manager
	manifestMgr *manifestmgr.Manager

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// Open starts a Writer against an existing or freshly initialized log at
// opts.Prefix.
func Open(ctx context.Context, store objstore.Store, opts Options) (*Writer, error) {
	manifestMgr, err := manifestmgr.Open(ctx, store, manifestmgr.Options{
		Prefix:         opts.Prefix,
		WriterName:     opts.WriterName,
		FragmentScheme: opts.FragmentScheme,
		Rollover:       opts.Rollover,
	})
	if err != nil {
		return nil, fmt.Errorf("logwriter: opening manifest manager: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		store:       store,
		opts:        opts,
		batchMgr:    batch.New(opts.Throttle),
		manifestMgr: manifestMgr,
		loopCtx:     loopCtx,
		loopCancel:  cancel,
		loopDone:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Append enqueues record and blocks until it has been durably written,
// returning the position it was assigned.
func (w *Writer) Append(ctx context.Context, record []byte) (manifest.LogPosition, error) {
	result := w.batchMgr.Push(record)
	select {
	case res := <-result:
		return res.Position, res.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// AppendMany enqueues every record and blocks until all of them have been
// durably written, possibly split across more than one fragment.
func (w *Writer) AppendMany(ctx context.Context, records [][]byte) ([]manifest.LogPosition, error) {
	pending := make([]<-chan batch.Result, len(records))
	for i, record := range records {
		pending[i] = w.batchMgr.Push(record)
	}

	positions := make([]manifest.LogPosition, len(records))
	for i, result := range pending {
		select {
		case res := <-result:
			if res.Err != nil {
				return nil, res.Err
			}
			positions[i] = res.Position
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return positions, nil
}

// Close stops the batching loop after draining every record already
// enqueued, so no Append call that has already returned its channel is
// ever silently dropped.
func (w *Writer) Close(ctx context.Context) error {
	w.loopCancel()
	select {
	case <-w.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manifest returns the writer's own in-process view of the log's current
// manifest, without a fresh read from the object store.
func (w *Writer) Manifest() manifest.Manifest {
	return w.manifestMgr.Current()
}

func (w *Writer) loop() {
	defer close(w.loopDone)
	for {
		if err := xcontext.NonBlockingCheck(w.loopCtx, "logwriter: loop"); err != nil {
			w.drain()
			return
		}

		work, ok, err := w.batchMgr.TakeWork(w.manifestMgr)
		if err != nil {
			xlog.C(w.loopCtx).Errorf("logwriter: assigning position: %v", err)
			continue
		}
		if !ok {
			w.waitForMoreWork()
			continue
		}
		w.writeBatch(work)
	}
}

// waitForMoreWork blocks until either a write finishes (so gating
// conditions should be re-checked) or the batch interval has elapsed,
// whichever comes first, or the writer is closed.
func (w *Writer) waitForMoreWork() {
	wait := w.batchMgr.UntilNextBatch()
	if wait < minPollInterval {
		wait = minPollInterval
	}
	timeoutCtx, cancel := context.WithTimeout(w.loopCtx, wait)
	_ = w.batchMgr.WaitForWritable(timeoutCtx)
	cancel()
}

// drain flushes every record still enqueued, bypassing the throttle
// gating, so Close never returns while a caller's Append is still pending.
func (w *Writer) drain() {
	for {
		work, ok, err := w.batchMgr.ForceTakeWork(w.manifestMgr)
		if err != nil {
			xlog.C(w.loopCtx).Errorf("logwriter: draining: %v", err)
			return
		}
		if !ok {
			return
		}
		w.writeBatch(work)
	}
}

// writeBatch encodes, uploads, and publishes one batch. It always calls
// FinishWrite exactly once, and always delivers a Result to every caller
// folded into work.
func (w *Writer) writeBatch(work batch.Work) {
	records := work.Records()
	enc, err := fragcodec.Encode(records, work.Start, w.opts.Codec)
	if err != nil {
		w.batchMgr.FinishWrite(len(work.Items))
		work.Fail(fmt.Errorf("logwriter: encoding fragment: %w", err))
		return
	}

	frag := manifest.Fragment{
		ID:       work.FragmentID,
		Path:     manifest.FragmentPath(work.FragmentID),
		Start:    work.Start,
		Limit:    work.Start.Add(uint64(len(records))),
		NumBytes: uint64(len(enc.Bytes)),
		Setsum:   enc.Setsum,
	}

	g, gctx := errgroup.WithContext(w.loopCtx)
	g.Go(func() error {
		return w.uploadFragment(gctx, frag, enc.Bytes)
	})
	if err := g.Wait(); err != nil {
		w.batchMgr.FinishWrite(len(work.Items))
		work.Fail(err)
		return
	}

	_, err = w.manifestMgr.Publish(w.loopCtx, frag)
	w.batchMgr.FinishWrite(len(work.Items))
	if err != nil {
		work.Fail(err)
		return
	}
	work.Complete(nil)
}

func (w *Writer) uploadFragment(ctx context.Context, frag manifest.Fragment, data []byte) error {
	key := objstore.JoinPrefix(w.opts.Prefix, frag.Path)
	_, err := w.store.PutIfAbsent(ctx, key, data)
	if err == nil || errors.Is(err, errdefs.ErrAlreadyExists) {
		return nil
	}
	return werr.Wrap(werr.ErrStorage, err)
}
