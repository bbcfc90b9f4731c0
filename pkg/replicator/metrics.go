// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replicator

import (
	m "github.com/ethersphere/mirror/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	Runs            *prometheus.CounterVec // finished runs by result
	RunDuration     prometheus.Histogram
	Running         prometheus.Gauge
	Pages           prometheus.Counter
	OpsDispatched   prometheus.Counter
	OpsCompleted    prometheus.Counter
	ItemsFailed     prometheus.Counter // ops and snapshot objects skipped after errors
	RemovesIgnored  prometheus.Counter
	Commits         prometheus.Counter // persisted watermarks
	LogGaps         prometheus.Counter
	SnapshotObjects prometheus.Counter
}

func newMetrics(name string) metrics {
	subsystem := "replicator"
	labels := prometheus.Labels{"replicator": name}

	return metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "runs_total",
			Help:        "Total finished runs by result.",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "run_duration_seconds",
			Help:        "Duration of replication runs.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "running",
			Help:        "One while a run is in progress.",
		}),
		Pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "pages_total",
			Help:        "Total change log pages read.",
		}),
		OpsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "ops_dispatched_total",
			Help:        "Total add operations dispatched.",
		}),
		OpsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "ops_completed_total",
			Help:        "Total add operations replicated.",
		}),
		ItemsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "items_failed_total",
			Help:        "Total operations and snapshot objects skipped after errors.",
		}),
		RemovesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "removes_ignored_total",
			Help:        "Total remove operations passed over.",
		}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "watermark_commits_total",
			Help:        "Total watermarks persisted.",
		}),
		LogGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "log_gaps_total",
			Help:        "Total log gaps encountered.",
		}),
		SnapshotObjects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "snapshot_objects_total",
			Help:        "Total live objects read from snapshots.",
		}),
	}
}

func (r *Replicator) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(r.metrics)
}
