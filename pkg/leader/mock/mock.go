// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mock

import (
	"github.com/ethersphere/mirror/pkg/leader"
	"go.uber.org/atomic"
)

var _ leader.Interface = (*Elector)(nil)

// Elector is leadership controlled by the test.
type Elector struct {
	isLeader atomic.Bool
	leader.Notifier
}

type Option interface {
	apply(*Elector)
}
type optionFunc func(*Elector)

func (f optionFunc) apply(e *Elector) { f(e) }

// WithLeader sets the initial leadership state.
func WithLeader(isLeader bool) Option {
	return optionFunc(func(e *Elector) {
		e.isLeader.Store(isLeader)
	})
}

func New(opts ...Option) *Elector {
	e := new(Elector)
	for _, o := range opts {
		o.apply(e)
	}
	return e
}

func (e *Elector) IsLeader() bool {
	return e.isLeader.Load()
}

// Set changes leadership and notifies subscribers if it changed.
func (e *Elector) Set(isLeader bool) {
	if e.isLeader.Swap(isLeader) != isLeader {
		e.Notify(isLeader)
	}
}
