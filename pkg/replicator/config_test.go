// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replicator_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethersphere/mirror/pkg/replicator"
	"github.com/google/go-cmp/cmp"
)

func TestParseConfigs(t *testing.T) {
	t.Parallel()

	in := `
replicators:
  - name: images
    namespace: images
    remoteEndpoint: https://peer.example.com
    maxParallelReplications: -1
    skipSnapshot: true
  - name: charts
    namespace: charts
    remoteEndpoint: http://10.0.0.2:8080
    protocol: offset
    maxLogScanOffsets: 500
`
	got, err := replicator.ParseConfigs(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	want := []replicator.Config{
		{
			Name:                    "images",
			Namespace:               "images",
			RemoteEndpoint:          "https://peer.example.com",
			MaxParallelReplications: replicator.Unbounded,
			SkipSnapshot:            true,
			MaxLogScanOffsets:       replicator.DefaultMaxLogScanOffsets,
			Protocol:                replicator.ProtocolLog,
		},
		{
			Name:                    "charts",
			Namespace:               "charts",
			RemoteEndpoint:          "http://10.0.0.2:8080",
			MaxParallelReplications: replicator.DefaultMaxParallelReplications,
			MaxLogScanOffsets:       500,
			Protocol:                replicator.ProtocolOffset,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConfigsEmpty(t *testing.T) {
	t.Parallel()

	got, err := replicator.ParseConfigs(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d configs, want 0", len(got))
	}
}

func TestParseConfigsInvalid(t *testing.T) {
	t.Parallel()

	for name, in := range map[string]string{
		"missing namespace": `
replicators:
  - name: a
    remoteEndpoint: http://peer`,
		"missing endpoint": `
replicators:
  - name: a
    namespace: a`,
		"relative endpoint": `
replicators:
  - name: a
    namespace: a
    remoteEndpoint: peer`,
		"bad parallelism": `
replicators:
  - name: a
    namespace: a
    remoteEndpoint: http://peer
    maxParallelReplications: -2`,
		"bad page size": `
replicators:
  - name: a
    namespace: a
    remoteEndpoint: http://peer
    maxLogScanOffsets: -1`,
		"unknown protocol": `
replicators:
  - name: a
    namespace: a
    remoteEndpoint: http://peer
    protocol: gossip`,
		"duplicate name": `
replicators:
  - name: a
    namespace: a
    remoteEndpoint: http://peer
  - name: a
    namespace: b
    remoteEndpoint: http://peer`,
		"unknown field": `
replicators:
  - name: a
    namespace: a
    remoteEndpoint: http://peer
    colour: blue`,
	} {
		if _, err := replicator.ParseConfigs(strings.NewReader(in)); !errors.Is(err, replicator.ErrInvalidConfig) {
			t.Errorf("%s: got error %v, want %v", name, err, replicator.ErrInvalidConfig)
		}
	}
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	c := replicator.WithDefaults(replicator.Config{Name: "a"})
	if c.MaxParallelReplications != replicator.DefaultMaxParallelReplications || c.MaxLogScanOffsets != replicator.DefaultMaxLogScanOffsets || c.Protocol != replicator.ProtocolLog {
		t.Fatalf("defaults not applied: %+v", c)
	}
}
