// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package debugapi exposes the operator API used to inspect and control
// the replicators of a mirror node.
package debugapi

import (
	"context"
	"net/http"
	"sync"

	"github.com/ethersphere/mirror/pkg/coordinator"
	"github.com/ethersphere/mirror/pkg/logging"
	"github.com/ethersphere/mirror/pkg/replicator"
	"github.com/ethersphere/mirror/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
)

// Coordinator schedules and controls the replicators.
type Coordinator interface {
	Trigger(ctx context.Context, name string) (started bool, err error)
	Stop(name string) (bool, error)
	Replicator(name string) (coordinator.Replicator, error)
	Statuses(ctx context.Context) ([]replicator.Status, error)
	SetEnabled(enabled bool)
	Enabled() bool
	IsLeader() bool
}

var _ Coordinator = (*coordinator.Coordinator)(nil)

type Options struct {
	Logger             logging.Logger
	Tracer             *tracing.Tracer
	CORSAllowedOrigins []string
}

// Service implements http.Handler interface to be used in HTTP server.
type Service struct {
	Options

	coordinator     Coordinator
	metricsRegistry *prometheus.Registry

	// handler is changed in the Configure method
	handler   http.Handler
	handlerMu sync.RWMutex
}

// New creates a new operator API service with only basic routes enabled in
// order to expose the /health and /metrics endpoints before the
// replicators are configured.
func New(o Options) *Service {
	s := &Service{
		Options:         o,
		metricsRegistry: newMetricsRegistry(),
	}
	s.setRouter(s.newBasicRouter())
	return s
}

// Configure injects the coordinator and exposes the replicator routes. It
// is intended and safe to call this method only once.
func (s *Service) Configure(c Coordinator) {
	s.coordinator = c
	s.setRouter(s.newRouter())
}

// ServeHTTP implements http.Handler interface.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// protect handler as it is changed by the Configure method
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()

	h.ServeHTTP(w, r)
}
