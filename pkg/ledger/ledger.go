// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ledger tracks the order keys of replication tasks in flight and
// decides when a completed task's key is safe to persist as the watermark.
//
// Tasks complete in any order. A key may only be persisted when it was the
// smallest key in flight: every task with a smaller key has then already
// completed, and every task still in flight has a larger key.
package ledger

import (
	"sync"

	"github.com/ethersphere/mirror/pkg/watermark"
	"github.com/zhangyunhao116/skipmap"
)

// Ledger is an ordered multiset of in-flight watermarks. It is safe for
// concurrent use.
type Ledger struct {
	mu   sync.Mutex
	keys *skipmap.FuncMap[watermark.Watermark, int]
	size int
}

func New() *Ledger {
	return &Ledger{
		keys: newSet(),
	}
}

func newSet() *skipmap.FuncMap[watermark.Watermark, int] {
	return skipmap.NewFunc[watermark.Watermark, int](watermark.Less)
}

// Add records a dispatched task.
func (l *Ledger) Add(k watermark.Watermark) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, _ := l.keys.Load(k)
	l.keys.Store(k, n+1)
	l.size++
}

// Complete removes a successfully completed task and reports whether its
// key was the minimum, which makes it safe to persist.
func (l *Ledger) Complete(k watermark.Watermark) (wasMin bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.remove(k)
}

// Commit is Complete followed by save when the key was the minimum. The
// ledger stays locked while saving so that persisted keys never go
// backwards under concurrent completions.
func (l *Ledger) Commit(k watermark.Watermark, save func(watermark.Watermark) error) (committed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.remove(k) {
		return false, nil
	}
	if err := save(k); err != nil {
		return false, err
	}
	return true, nil
}

// Fail removes a task that did not complete. Its key is never persisted.
func (l *Ledger) Fail(k watermark.Watermark) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.remove(k)
}

func (l *Ledger) remove(k watermark.Watermark) (wasMin bool) {
	n, ok := l.keys.Load(k)
	if !ok {
		return false
	}
	l.size--
	if n > 1 {
		// a task with the same key is still in flight
		l.keys.Store(k, n-1)
		return false
	}
	min, _ := l.min()
	l.keys.Delete(k)
	return min == k
}

// Min returns the smallest key in flight.
func (l *Ledger) Min() (watermark.Watermark, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.min()
}

func (l *Ledger) min() (min watermark.Watermark, ok bool) {
	l.keys.Range(func(k watermark.Watermark, _ int) bool {
		min, ok = k, true
		return false
	})
	return min, ok
}

// Len returns the number of tasks in flight.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.size
}

// Reset drops all keys.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.keys = newSet()
	l.size = 0
}
