// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics_test

import (
	"strings"
	"testing"

	m "github.com/ethersphere/mirror/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusCollectorsFromFields(t *testing.T) {
	t.Parallel()

	s := newService()
	collectors := m.PrometheusCollectorsFromFields(s)

	if l := len(collectors); l != 2 {
		t.Fatalf("got %v collectors %+v, want 2", l, collectors)
	}

	m1 := collectors[0].(prometheus.Metric).Desc().String()
	if !strings.Contains(m1, "replicator_run_count") {
		t.Errorf("unexpected metric %s", m1)
	}

	m2 := collectors[1].(prometheus.Metric).Desc().String()
	if !strings.Contains(m2, "replicator_run_duration_seconds") {
		t.Errorf("unexpected metric %s", m2)
	}
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	r := m.NewRegistry()
	mfs, err := r.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected standard collectors to be registered")
	}
}

type service struct {
	// valid metrics
	RunCount    prometheus.Counter
	RunDuration prometheus.Histogram
	// invalid metrics
	unexportedCount    prometheus.Counter
	UninitializedCount prometheus.Counter
}

func newService() *service {
	subsystem := "replicator"
	return &service{
		RunCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "run_count",
			Help:      "Number of replicator runs.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "run_duration_seconds",
			Help:      "Histogram of replicator run durations.",
		}),
		unexportedCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "unexported_count",
			Help:      "This metrics should not be discoverable by metrics.PrometheusCollectorsFromFields.",
		}),
	}
}
