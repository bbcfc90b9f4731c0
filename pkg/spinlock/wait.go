// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spinlock polls a condition until it holds or a timeout passes.
package spinlock

import (
	"errors"
	"time"
)

var ErrTimedOut = errors.New("timed out waiting for condition")

// Wait blocks until cond returns true or the timeout expires.
func Wait(timeout time.Duration, cond func() bool) error {
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	for {
		select {
		case <-timeoutTimer.C:
			if cond() {
				return nil
			}
			return ErrTimedOut
		default:
			if cond() {
				return nil
			}
			time.Sleep(time.Millisecond * 10)
		}
	}
}
