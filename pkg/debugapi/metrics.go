// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"github.com/ethersphere/mirror"
	"github.com/ethersphere/mirror/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func newMetricsRegistry() (r *prometheus.Registry) {
	r = metrics.NewRegistry()

	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Name:      "info",
		Help:      "Mirror information.",
		ConstLabels: prometheus.Labels{
			"version":    mirror.Version,
			"remote_api": mirror.RemoteAPIVersion,
		},
	})
	info.Set(1)
	r.MustRegister(info)

	return r
}

func (s *Service) MustRegisterMetrics(cs ...prometheus.Collector) {
	s.metricsRegistry.MustRegister(cs...)
}
