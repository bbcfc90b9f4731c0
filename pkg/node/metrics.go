// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"github.com/ethersphere/mirror/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type nodeMetrics struct {
	// StartupDuration measures time in seconds until the coordinator started
	StartupDuration prometheus.Histogram
	// IncompatibleRemotes counts remotes refused at startup because of their
	// protocol version
	IncompatibleRemotes prometheus.Counter
}

func newMetrics() nodeMetrics {
	subsystem := "init"

	return nodeMetrics{
		StartupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: subsystem,
				Name:      "startup_duration_seconds",
				Help:      "Duration in seconds for the node to start replicating.",
			},
		),
		IncompatibleRemotes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: subsystem,
				Name:      "incompatible_remotes_total",
				Help:      "Remotes with an incompatible protocol version.",
			},
		),
	}
}

func Metrics(nodeMetrics nodeMetrics) []prometheus.Collector {
	return metrics.PrometheusCollectorsFromFields(nodeMetrics)
}
