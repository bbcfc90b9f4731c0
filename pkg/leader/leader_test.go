// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leader_test

import (
	"testing"

	"github.com/ethersphere/mirror/pkg/leader"
)

func TestStatic(t *testing.T) {
	t.Parallel()

	if !leader.NewStatic(true).IsLeader() {
		t.Fatal("not leader")
	}
	if leader.NewStatic(false).IsLeader() {
		t.Fatal("unexpected leader")
	}
}

func TestNotifier(t *testing.T) {
	t.Parallel()

	var n leader.Notifier
	c1, unsubscribe1 := n.Subscribe()
	c2, unsubscribe2 := n.Subscribe()
	defer unsubscribe2()

	n.Notify(true)
	n.Notify(false)

	// slow receivers only see the latest state
	if got := <-c1; got {
		t.Fatal("got stale leadership state")
	}
	if got := <-c2; got {
		t.Fatal("got stale leadership state")
	}

	unsubscribe1()
	n.Notify(true)
	select {
	case <-c1:
		t.Fatal("notified after unsubscribe")
	default:
	}
	if got := <-c2; !got {
		t.Fatal("leadership gain not delivered")
	}
}
