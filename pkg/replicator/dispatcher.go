// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replicator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// dispatcher runs replication tasks concurrently, at most the configured
// number at a time. A failing task does not affect its siblings; only fail
// cancels the remaining work.
type dispatcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted // nil when unbounded
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (r *Replicator) newDispatcher(ctx context.Context) *dispatcher {
	ctx, cancel := context.WithCancel(ctx)
	d := &dispatcher{ctx: ctx, cancel: cancel}
	if n := r.config.MaxParallelReplications; n != Unbounded {
		d.sem = semaphore.NewWeighted(int64(n))
	}
	return d
}

// dispatch starts task once a slot is free and calls done with its result.
// It blocks while all slots are taken and returns an error only if the
// dispatcher was cancelled before the task could start.
func (d *dispatcher) dispatch(task func(context.Context) error, done func(error)) error {
	if err := d.stopped(); err != nil {
		return err
	}
	if d.sem != nil {
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			if ferr := d.failure(); ferr != nil {
				return ferr
			}
			return err
		}
		// Acquire succeeds without looking at the context when a slot is free
		if err := d.stopped(); err != nil {
			d.sem.Release(1)
			return err
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.sem != nil {
			defer d.sem.Release(1)
		}
		done(d.run(task))
	}()
	return nil
}

func (d *dispatcher) run(task func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("replication task panic: %v", p)
		}
	}()
	return task(d.ctx)
}

// fail records a fatal error and cancels outstanding tasks.
func (d *dispatcher) fail(err error) {
	d.mu.Lock()
	if d.err == nil {
		d.err = err
	}
	d.mu.Unlock()
	d.cancel()
}

// stopped returns the fatal error, or the context error once the
// dispatcher is cancelled.
func (d *dispatcher) stopped() error {
	if err := d.failure(); err != nil {
		return err
	}
	return d.ctx.Err()
}

func (d *dispatcher) failure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// wait blocks until all dispatched tasks are done and returns the fatal
// error, if any.
func (d *dispatcher) wait() error {
	d.wg.Wait()
	d.cancel()
	return d.failure()
}
