// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coordinator

import (
	m "github.com/ethersphere/mirror/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	Ticks          prometheus.Counter
	TicksSkipped   prometheus.Counter // not leader or disabled
	RunsTriggered  prometheus.Counter
	RunFaults      prometheus.Counter
	RunPanics      prometheus.Counter
	LeadershipLost prometheus.Counter
	Leader         prometheus.Gauge
}

func newMetrics() metrics {
	subsystem := "coordinator"

	return metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "ticks_total",
			Help:      "Total scheduling ticks.",
		}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "ticks_skipped_total",
			Help:      "Total ticks skipped because this instance is not the leader or replication is disabled.",
		}),
		RunsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "runs_triggered_total",
			Help:      "Total replicator runs triggered.",
		}),
		RunFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "run_faults_total",
			Help:      "Total replicator runs that ended with an error.",
		}),
		RunPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "run_panics_total",
			Help:      "Total replicator runs that panicked.",
		}),
		LeadershipLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "leadership_lost_total",
			Help:      "Total times this instance lost leadership.",
		}),
		Leader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "leader",
			Help:      "One while this instance is the leader.",
		}),
	}
}

func (c *Coordinator) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(c.metrics)
}
