// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replicator

import (
	"context"
	"time"

	"github.com/ethersphere/mirror/pkg/watermark"
)

// Status is a point in time view of a replicator.
type Status struct {
	Name      string
	Namespace string
	Protocol  Protocol
	Running   bool
	LastRunAt time.Time
	LastRunID string
	LastError string
	// LastRunTook is the duration of the last finished run.
	LastRunTook time.Duration
	InFlight    int
	Watermark   watermark.Watermark
}

// Status returns the current status. While idle the watermark is read from
// the store, since it may have been changed by another instance.
func (r *Replicator) Status(ctx context.Context) (Status, error) {
	running := r.running.Load()
	inFlight := r.ledger.Len()

	r.mu.Lock()
	s := Status{
		Name:        r.config.Name,
		Namespace:   r.config.Namespace,
		Protocol:    r.config.Protocol,
		Running:     running && r.cancel != nil,
		LastRunAt:   r.lastRunAt,
		LastRunID:   r.lastRunID,
		LastRunTook: r.lastTook,
		InFlight:    inFlight,
		Watermark:   r.current,
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	known := r.known
	r.mu.Unlock()

	if !s.Running || !known {
		w, err := r.watermarks.Load(ctx)
		if err != nil {
			return s, err
		}
		s.Watermark = w
	}
	return s, nil
}
