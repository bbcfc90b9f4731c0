// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import (
	m "github.com/ethersphere/mirror/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	Requests        *prometheus.CounterVec   // requests by endpoint and status
	RequestDuration *prometheus.HistogramVec // request latency until headers
	LogGaps         prometheus.Counter
}

func newMetrics(labels prometheus.Labels) metrics {
	subsystem := "remote"

	return metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "requests_total",
			Help:        "Total requests to the remote by endpoint and status.",
		}, []string{"endpoint", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "request_duration_seconds",
			Help:        "Time until the response headers of a remote request arrived.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		LogGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "log_gaps_total",
			Help:        "Total log gap responses.",
		}),
	}
}

func (c *Client) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(c.metrics)
}
