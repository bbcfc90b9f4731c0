// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package leader tells an instance whether it is the one that should
// replicate.
package leader

import "sync"

// Interface reports leadership of this instance.
type Interface interface {
	IsLeader() bool
	// Subscribe returns a channel that receives the leadership state after
	// every change. Only the latest state is kept for slow receivers.
	Subscribe() (c <-chan bool, unsubscribe func())
}

// Notifier delivers leadership changes to subscribers.
type Notifier struct {
	mu   sync.Mutex
	subs []chan bool
}

func (n *Notifier) Subscribe() (c <-chan bool, unsubscribe func()) {
	channel := make(chan bool, 1)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, channel)

	unsubscribe = func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s == channel {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				break
			}
		}
	}
	return channel, unsubscribe
}

// Notify sends isLeader to every subscriber, replacing a value that was not
// received yet.
func (n *Notifier) Notify(isLeader bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, c := range n.subs {
		select {
		case <-c:
		default:
		}
		c <- isLeader
	}
}

type static struct {
	isLeader bool
	Notifier
}

// NewStatic returns leadership that never changes, for single instance
// deployments.
func NewStatic(isLeader bool) Interface {
	return &static{isLeader: isLeader}
}

func (s *static) IsLeader() bool {
	return s.isLeader
}
