// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package replicator keeps one namespace of the local blob store in sync
// with a remote peer.
//
// A run loads the persisted watermark, bootstraps from the latest remote
// snapshot if the replicator never ran, and then tails the remote change
// log until it is exhausted. Operations are replicated concurrently and may
// complete in any order; the watermark is only advanced to the key of an
// operation that completed while it was the smallest one in flight.
package replicator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ethersphere/mirror/pkg/blob"
	"github.com/ethersphere/mirror/pkg/ledger"
	"github.com/ethersphere/mirror/pkg/logging"
	"github.com/ethersphere/mirror/pkg/remote"
	"github.com/ethersphere/mirror/pkg/tracing"
	"github.com/ethersphere/mirror/pkg/watermark"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var (
	// ErrRunning is returned by operator mutations attempted during a run.
	ErrRunning = errors.New("replicator is running")
	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("replicator is closed")
	// ErrNoSnapshotAvailable ends a first run that requires a snapshot when
	// the remote has none.
	ErrNoSnapshotAvailable = errors.New("no snapshot available")
	// ErrRepeatedLogGap ends a run that hit a second log gap.
	ErrRepeatedLogGap = errors.New("repeated log gap")
	// ErrOutOfOrder is returned when a page lists operations that are not
	// after the cursor they were requested from.
	ErrOutOfOrder = errors.New("operations out of order")
)

// Options are the collaborators of a Replicator.
type Options struct {
	Config     Config
	Remote     remote.Interface
	Blobs      BlobReplicator
	Watermarks watermark.Store
	// Source defaults to the one selected by Config.Protocol.
	Source OpSource
	Logger logging.Logger
	Tracer *tracing.Tracer
}

// Replicator is the replication unit of one namespace. At most one run is
// in progress at any time.
type Replicator struct {
	config     Config
	remote     remote.Interface
	blobs      BlobReplicator
	watermarks watermark.Store
	source     OpSource
	logger     logging.Logger
	tracer     *tracing.Tracer
	ledger     *ledger.Ledger
	metrics    metrics

	running atomic.Bool
	closed  atomic.Bool

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	current   watermark.Watermark
	known     bool // current holds the persisted watermark
	lastRunAt time.Time
	lastRunID string
	lastErr   error
	lastTook  time.Duration
}

// New returns a replicator. The configuration must be valid.
func New(o Options) (*Replicator, error) {
	c := o.Config.withDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if o.Logger == nil {
		o.Logger = logging.New(io.Discard, 0)
	}
	if o.Source == nil {
		o.Source = NewOpSource(c, o.Remote, o.Blobs)
	}
	return &Replicator{
		config:     c,
		remote:     o.Remote,
		blobs:      o.Blobs,
		watermarks: o.Watermarks,
		source:     o.Source,
		logger:     o.Logger,
		tracer:     o.Tracer,
		ledger:     ledger.New(),
		metrics:    newMetrics(c.Name),
	}, nil
}

// Name returns the unique name of the replicator.
func (r *Replicator) Name() string {
	return r.config.Name
}

// Config returns the configuration of the replicator.
func (r *Replicator) Config() Config {
	return r.config
}

// Run performs one replication run and returns when it ended. If a run is
// already in progress it returns immediately with ran set to false.
func (r *Replicator) Run(ctx context.Context) (ran bool, err error) {
	if r.closed.Load() {
		return false, ErrClosed
	}
	if !r.running.CAS(false, true) {
		return false, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	runID := uuid.NewString()
	start := time.Now()

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.lastRunID = runID
	if r.closed.Load() {
		cancel()
	}
	r.mu.Unlock()

	span, logger, ctx := r.tracer.StartSpanFromContext(ctx, "replicator-run", r.logger)
	logger = logger.WithField("replicator", r.config.Name).WithField("run", runID)
	r.metrics.Running.Set(1)

	defer func() {
		cancel()
		r.ledger.Reset()
		tracing.FinishSpan(span, err)

		took := time.Since(start)
		r.metrics.RunDuration.Observe(took.Seconds())
		r.metrics.Running.Set(0)
		r.metrics.Runs.WithLabelValues(runResult(err)).Inc()

		r.mu.Lock()
		r.lastRunAt = time.Now()
		r.lastErr = err
		r.lastTook = took
		r.cancel = nil
		r.mu.Unlock()

		r.running.Store(false)
		close(done)
	}()

	logger.Debugf("replicator: run starting")
	err = r.run(ctx, logger)
	switch {
	case err == nil:
		logger.Debugf("replicator: run done in %s", time.Since(start))
	case errors.Is(err, context.Canceled):
		logger.Debugf("replicator: run cancelled")
	default:
		logger.Warningf("replicator: run failed: %v", err)
	}
	return true, err
}

func (r *Replicator) run(ctx context.Context, logger *logrus.Entry) error {
	w, err := r.watermarks.Load(ctx)
	if err != nil {
		return err
	}
	r.setCurrent(w)

	if w.IsZero() && !r.config.SkipSnapshot {
		desc, err := r.remote.GetLatestSnapshot(ctx, r.config.Namespace)
		if err != nil {
			if errors.Is(err, remote.ErrNoSnapshot) {
				return ErrNoSnapshotAvailable
			}
			return fmt.Errorf("latest snapshot: %w", err)
		}
		if w, err = r.replicateSnapshot(ctx, logger, desc.ID); err != nil {
			return err
		}
	}

	gapped := false
	for {
		gap, err := r.tail(ctx, logger, w)
		if err != nil {
			return err
		}
		if gap.IsZero() {
			return nil
		}

		r.metrics.LogGaps.Inc()
		if gapped {
			// TODO: a namespace whose log rotates faster than a snapshot
			// can be replicated never makes progress here; decide whether
			// to allow more than one snapshot fallback per run.
			return fmt.Errorf("%w after snapshot %s", ErrRepeatedLogGap, gap)
		}
		gapped = true

		if r.config.SkipSnapshot {
			logger.Warningf("replicator: log gap at %s, restarting from the end of the log, earlier history is not replicated", w)
			if w, err = r.watermarks.Reset(ctx); err != nil {
				return err
			}
			r.setCurrent(w)
			continue
		}

		logger.Infof("replicator: log gap at %s, recovering from snapshot %s", w, gap.Short())
		if w, err = r.replicateSnapshot(ctx, logger, gap); err != nil {
			return err
		}
	}
}

// replicateSnapshot replicates every live object of the snapshot and
// persists its watermark once all of them were handled.
func (r *Replicator) replicateSnapshot(ctx context.Context, logger *logrus.Entry, id blob.ID) (watermark.Watermark, error) {
	s, err := r.remote.GetSnapshot(ctx, r.config.Namespace, id)
	if err != nil {
		if errors.Is(err, remote.ErrNoSnapshot) {
			return watermark.Zero, fmt.Errorf("%w: snapshot %s", ErrNoSnapshotAvailable, id)
		}
		return watermark.Zero, fmt.Errorf("snapshot %s: %w", id, err)
	}
	defer s.Close()

	wm := s.Watermark()
	logger.Infof("replicator: replicating snapshot %s at %s", id.Short(), wm)

	d := r.newDispatcher(ctx)
	var walkErr error
	for {
		o, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			walkErr = err
			break
		}
		// snapshot entries carry no order key, the ledger is not involved
		if err := d.dispatch(func(ctx context.Context) error {
			return r.replicateLiveObject(ctx, o)
		}, func(err error) {
			r.itemDone(logger, "object "+o.ObjectID.String(), err)
		}); err != nil {
			walkErr = err
			break
		}
	}
	if err := d.wait(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		return watermark.Zero, walkErr
	}
	if err := ctx.Err(); err != nil {
		return watermark.Zero, err
	}

	r.metrics.SnapshotObjects.Add(float64(s.Count()))
	if err := r.save(ctx, wm); err != nil {
		return watermark.Zero, err
	}
	logger.Infof("replicator: snapshot %s replicated, %d objects", id.Short(), s.Count())
	return wm, nil
}

func (r *Replicator) replicateLiveObject(ctx context.Context, o remote.LiveObject) error {
	if err := r.blobs.ReplicateObject(ctx, r.config.Namespace, o.ObjectID, nil); err != nil {
		return err
	}
	if o.PrimaryBlob.IsZero() || o.PrimaryBlob == o.ObjectID {
		return nil
	}
	return r.blobs.ReplicateBlobs(ctx, r.config.Namespace, []blob.ID{o.PrimaryBlob})
}

// tail replicates change log pages starting after from until the log is
// exhausted. A non zero blob id is returned when the remote reported a log
// gap.
func (r *Replicator) tail(ctx context.Context, logger *logrus.Entry, from watermark.Watermark) (gap blob.ID, err error) {
	var (
		d          = r.newDispatcher(ctx)
		cursor     = from
		observed   bool
		last       watermark.Watermark
		reportedAt watermark.Watermark
	)

	for {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = d.stopped(); err != nil {
			break
		}

		var page remote.PageResult
		page, err = r.source.NextPage(ctx, cursor)
		if err != nil {
			err = fmt.Errorf("page after %q: %w", cursor, err)
			break
		}
		r.metrics.Pages.Inc()
		if page.Status == remote.StatusLogGap {
			if page.SnapshotBlob.IsZero() {
				err = fmt.Errorf("%w: log gap without snapshot", remote.ErrMalformedResponse)
				break
			}
			gap = page.SnapshotBlob
			break
		}

		for _, op := range page.Ops {
			if err = d.stopped(); err != nil {
				break
			}
			if !cursor.IsZero() {
				if c, cerr := watermark.Compare(op.OrderKey, cursor); cerr != nil || c <= 0 {
					err = fmt.Errorf("%w: %s after cursor %s", ErrOutOfOrder, op.OrderKey, cursor)
					break
				}
			}
			observed = true
			cursor = op.OrderKey
			last = op.OrderKey

			if op.Kind == remote.OpRemove {
				// content is kept until it is garbage collected locally
				r.metrics.RemovesIgnored.Inc()
				r.ledger.Add(op.OrderKey)
				if cerr := r.commit(ctx, op.OrderKey); cerr != nil {
					err = cerr
					break
				}
				continue
			}

			op := op
			r.ledger.Add(op.OrderKey)
			r.metrics.OpsDispatched.Inc()
			if err = d.dispatch(func(ctx context.Context) error {
				return r.source.Replicate(ctx, op)
			}, func(err error) {
				r.opDone(ctx, d, logger, op, err)
			}); err != nil {
				r.ledger.Fail(op.OrderKey)
				break
			}
		}
		if err != nil {
			break
		}
		reportedAt = page.Next
		if len(page.Ops) == 0 || !page.More {
			break
		}
	}

	// outstanding tasks are drained on every exit path
	if werr := d.wait(); werr != nil && err == nil {
		err = werr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil || !gap.IsZero() {
		return gap, err
	}

	if !observed {
		// a quiet log still moves the watermark to the reported position
		if !reportedAt.IsZero() && reportedAt != from {
			return blob.ZeroID, r.save(ctx, reportedAt)
		}
		return blob.ZeroID, nil
	}

	// all dispatched operations completed or were skipped
	r.mu.Lock()
	current := r.current
	r.mu.Unlock()
	if current != last {
		if c, cerr := watermark.Compare(last, current); cerr != nil || c > 0 {
			return blob.ZeroID, r.save(ctx, last)
		}
	}
	return blob.ZeroID, nil
}

func (r *Replicator) opDone(ctx context.Context, d *dispatcher, logger *logrus.Entry, op remote.Op, err error) {
	if err != nil && d.ctx.Err() != nil {
		// interrupted, not failed: the key stays in the ledger so that no
		// later key is committed past it in this run
		return
	}
	if err != nil {
		r.ledger.Fail(op.OrderKey)
		r.itemDone(logger, "op "+op.OrderKey.String(), err)
		return
	}
	r.metrics.OpsCompleted.Inc()
	if err := r.commit(ctx, op.OrderKey); err != nil {
		d.fail(err)
	}
}

func (r *Replicator) itemDone(logger *logrus.Entry, item string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	r.metrics.ItemsFailed.Inc()
	logger.Warningf("replicator: skipping %s: %v", item, err)
}

// commit completes k in the ledger and persists it if it was the smallest
// key in flight.
func (r *Replicator) commit(ctx context.Context, k watermark.Watermark) error {
	_, err := r.ledger.Commit(k, func(w watermark.Watermark) error {
		return r.save(ctx, w)
	})
	return err
}

// save persists w. Completed work is persisted even if the run is being
// cancelled.
func (r *Replicator) save(ctx context.Context, w watermark.Watermark) error {
	if err := r.watermarks.Save(context.WithoutCancel(ctx), w); err != nil {
		return err
	}
	r.metrics.Commits.Inc()
	r.setCurrent(w)
	return nil
}

func (r *Replicator) setCurrent(w watermark.Watermark) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = w
	r.known = true
}

// Stop cancels the run in progress and reports whether there was one. It
// does not wait for the run to end.
func (r *Replicator) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	return true
}

// Wait blocks until the run in progress, if any, has ended.
func (r *Replicator) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// DeleteState clears the persisted watermark so that the next run starts
// from scratch.
func (r *Replicator) DeleteState(ctx context.Context) error {
	return r.mutate(func() error {
		w, err := r.watermarks.Reset(ctx)
		if err != nil {
			return err
		}
		r.setCurrent(w)
		return nil
	})
}

// SetWatermark overrides the persisted watermark.
func (r *Replicator) SetWatermark(ctx context.Context, w watermark.Watermark) error {
	return r.mutate(func() error {
		if err := r.watermarks.Save(ctx, w); err != nil {
			return err
		}
		r.setCurrent(w)
		return nil
	})
}

// mutate runs f while holding the run slot so that no run starts
// concurrently.
func (r *Replicator) mutate(f func() error) error {
	if !r.running.CAS(false, true) {
		return ErrRunning
	}
	defer r.running.Store(false)
	return f()
}

// Close cancels the run in progress and waits for it to end. No run can be
// started afterwards.
func (r *Replicator) Close() error {
	r.closed.Store(true)
	r.Stop()
	r.Wait()
	return nil
}

func runResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrNoSnapshotAvailable):
		return "no_snapshot"
	case errors.Is(err, ErrRepeatedLogGap):
		return "log_gap"
	}
	return "error"
}
