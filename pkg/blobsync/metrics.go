// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blobsync

import (
	m "github.com/ethersphere/mirror/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	ObjectsReplicated prometheus.Counter
	ObjectsSkipped    prometheus.Counter // objects the remote could not resolve
	BlobsKnown        prometheus.Counter // blobs already present locally
	BlobsFetched      prometheus.Counter
	BytesFetched      prometheus.Counter
	SharedFetches     prometheus.Counter // fetches joined to one in flight
	FetchRetries      prometheus.Counter
	FetchFailures     prometheus.Counter
	OptionalSkipped   prometheus.Counter
	Spills            prometheus.Counter
}

func newMetrics(labels prometheus.Labels) metrics {
	subsystem := "blobsync"

	return metrics{
		ObjectsReplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "objects_replicated_total",
			Help:        "Total objects replicated.",
		}),
		ObjectsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "objects_skipped_total",
			Help:        "Total objects skipped because the remote could not resolve them.",
		}),
		BlobsKnown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "blobs_known_total",
			Help:        "Total blobs that were already present locally.",
		}),
		BlobsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "blobs_fetched_total",
			Help:        "Total blobs fetched and stored.",
		}),
		BytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "bytes_fetched_total",
			Help:        "Total bytes of fetched blobs.",
		}),
		SharedFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "shared_fetches_total",
			Help:        "Total blob requests served by a download already in flight.",
		}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "fetch_retries_total",
			Help:        "Total blob fetch retries.",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "fetch_failures_total",
			Help:        "Total required blobs that could not be fetched.",
		}),
		OptionalSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "optional_skipped_total",
			Help:        "Total optional blobs skipped after fetch failures.",
		}),
		Spills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   m.Namespace,
			Subsystem:   subsystem,
			ConstLabels: labels,
			Name:        "spills_total",
			Help:        "Total blobs buffered on disk.",
		}),
	}
}

func (r *Replicator) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(r.metrics)
}
