// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package coordinator schedules the runs of all configured replicators on
// the instance that holds leadership.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ethersphere/mirror/pkg/leader"
	"github.com/ethersphere/mirror/pkg/logging"
	"github.com/ethersphere/mirror/pkg/replicator"
	"github.com/ethersphere/mirror/pkg/watermark"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
)

const DefaultInterval = 30 * time.Second

var (
	ErrUnknownReplicator = errors.New("unknown replicator")
	ErrNotLeader         = errors.New("not the leader")
	ErrClosed            = errors.New("coordinator closed")
	// ErrRunPanic wraps the value of a panic raised by a run.
	ErrRunPanic = errors.New("run panicked")
)

// Replicator is the unit the coordinator schedules.
type Replicator interface {
	Name() string
	Run(ctx context.Context) (ran bool, err error)
	Stop() bool
	Status(ctx context.Context) (replicator.Status, error)
	DeleteState(ctx context.Context) error
	SetWatermark(ctx context.Context, w watermark.Watermark) error
	Close() error
}

var _ Replicator = (*replicator.Replicator)(nil)

type Options struct {
	Replicators []Replicator
	Leader      leader.Interface
	// Interval between ticks, DefaultInterval if zero.
	Interval time.Duration
	// Disabled starts the coordinator with replication disabled.
	Disabled bool
	Logger   logging.Logger
}

// run is the handle of a triggered run.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error // valid after done is closed
}

func (h *run) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

type entry struct {
	replicator Replicator
	run        *run
}

type Coordinator struct {
	leader   leader.Interface
	interval time.Duration
	logger   logging.Logger
	metrics  metrics
	enabled  atomic.Bool
	names    []string

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	quit     chan struct{}
	loopWg   sync.WaitGroup
	runsWg   sync.WaitGroup
	startOne sync.Once
}

func New(o Options) (*Coordinator, error) {
	if o.Leader == nil {
		o.Leader = leader.NewStatic(true)
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Logger == nil {
		o.Logger = logging.New(io.Discard, 0)
	}

	c := &Coordinator{
		leader:   o.Leader,
		interval: o.Interval,
		logger:   o.Logger,
		metrics:  newMetrics(),
		entries:  make(map[string]*entry, len(o.Replicators)),
		quit:     make(chan struct{}),
	}
	c.enabled.Store(!o.Disabled)

	for _, r := range o.Replicators {
		name := r.Name()
		if _, ok := c.entries[name]; ok {
			return nil, fmt.Errorf("duplicate replicator %q", name)
		}
		c.entries[name] = &entry{replicator: r}
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c, nil
}

// Start ticks the replicators on the interval and follows leadership
// changes until Close is called.
func (c *Coordinator) Start() {
	c.startOne.Do(func() {
		c.loopWg.Add(1)
		go c.loop()
	})
}

func (c *Coordinator) loop() {
	defer c.loopWg.Done()

	leadership, unsubscribe := c.leader.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	if c.leader.IsLeader() {
		c.metrics.Leader.Set(1)
	}
	c.Tick(context.Background())

	for {
		select {
		case <-c.quit:
			return
		case isLeader := <-leadership:
			if isLeader {
				c.logger.Info("coordinator: leadership acquired")
				c.metrics.Leader.Set(1)
				c.Tick(context.Background())
				continue
			}
			c.logger.Info("coordinator: leadership lost, cancelling runs")
			c.metrics.Leader.Set(0)
			c.metrics.LeadershipLost.Inc()
			c.cancelRuns()
		case <-ticker.C:
			c.Tick(context.Background())
		}
	}
}

// Tick starts a run of every replicator whose previous run completed. It
// does nothing on an instance that is not the leader or while replication
// is disabled.
func (c *Coordinator) Tick(ctx context.Context) {
	c.metrics.Ticks.Inc()

	if !c.leader.IsLeader() {
		c.logger.Debugf("coordinator: not the leader, skipping tick")
		c.metrics.TicksSkipped.Inc()
		return
	}
	if !c.enabled.Load() {
		c.logger.Debugf("coordinator: replication disabled, skipping tick")
		c.metrics.TicksSkipped.Inc()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, name := range c.names {
		e := c.entries[name]
		if !c.settle(e) {
			continue
		}
		c.start(ctx, e)
	}
}

// settle clears the handle of a finished run and reports whether a new run
// may be started. It must be called with c.mu held.
func (c *Coordinator) settle(e *entry) bool {
	if e.run == nil {
		return true
	}
	if !e.run.finished() {
		return false
	}
	if err := e.run.err; err != nil && !errors.Is(err, context.Canceled) {
		c.metrics.RunFaults.Inc()
		c.logger.Warningf("coordinator: replicator %s: last run failed: %v", e.replicator.Name(), err)
	}
	e.run = nil
	return true
}

// start triggers a run of e. It must be called with c.mu held.
func (c *Coordinator) start(ctx context.Context, e *entry) {
	ctx, cancel := context.WithCancel(ctx)
	h := &run{cancel: cancel, done: make(chan struct{})}
	e.run = h
	c.metrics.RunsTriggered.Inc()

	c.runsWg.Add(1)
	go func() {
		defer c.runsWg.Done()
		defer close(h.done)
		defer cancel()
		h.err = c.runSafe(ctx, e.replicator)
	}()
}

func (c *Coordinator) runSafe(ctx context.Context, r Replicator) (err error) {
	defer func() {
		if p := recover(); p != nil {
			c.metrics.RunPanics.Inc()
			err = fmt.Errorf("%w: %v", ErrRunPanic, p)
		}
	}()
	_, err = r.Run(ctx)
	return err
}

func (c *Coordinator) cancelRuns() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.run != nil {
			e.run.cancel()
		}
	}
}

func (c *Coordinator) lookup(name string) (*entry, error) {
	e, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReplicator, name)
	}
	return e, nil
}

// Trigger starts a run of the named replicator now, regardless of the
// interval and of the enabled flag. It reports false if a run is already in
// progress. The run is not bound to ctx.
func (c *Coordinator) Trigger(ctx context.Context, name string) (started bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}
	e, err := c.lookup(name)
	if err != nil {
		return false, err
	}
	if !c.leader.IsLeader() {
		return false, ErrNotLeader
	}
	if !c.settle(e) {
		return false, nil
	}
	c.start(context.WithoutCancel(ctx), e)
	return true, nil
}

// Stop cancels the run of the named replicator and reports whether one was
// in progress.
func (c *Coordinator) Stop(name string) (bool, error) {
	c.mu.Lock()
	e, err := c.lookup(name)
	if err != nil {
		c.mu.Unlock()
		return false, err
	}
	stopped := e.run != nil && !e.run.finished()
	if e.run != nil {
		e.run.cancel()
	}
	c.mu.Unlock()

	if e.replicator.Stop() {
		stopped = true
	}
	return stopped, nil
}

// Replicator returns the named replicator.
func (c *Coordinator) Replicator(name string) (Replicator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.replicator, nil
}

// Statuses returns the status of every replicator ordered by name.
func (c *Coordinator) Statuses(ctx context.Context) ([]replicator.Status, error) {
	statuses := make([]replicator.Status, 0, len(c.names))
	for _, name := range c.names {
		s, err := c.entries[name].replicator.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// SetEnabled enables or disables scheduled replication. Runs in progress
// are not affected.
func (c *Coordinator) SetEnabled(enabled bool) {
	if c.enabled.Swap(enabled) != enabled {
		c.logger.Infof("coordinator: replication enabled: %v", enabled)
	}
}

func (c *Coordinator) Enabled() bool {
	return c.enabled.Load()
}

func (c *Coordinator) IsLeader() bool {
	return c.leader.IsLeader()
}

// Close stops scheduling, cancels and awaits every run in progress and
// closes the replicators.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.quit)
	c.loopWg.Wait()

	c.cancelRuns()
	c.runsWg.Wait()

	var result *multierror.Error
	for _, name := range c.names {
		if err := c.entries[name].replicator.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close replicator %s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}
