// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replicator

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v2"
)

const (
	// Unbounded lifts the limit on parallel replications.
	Unbounded = -1

	DefaultMaxParallelReplications = 8
	DefaultMaxLogScanOffsets       = 100
)

// Protocol selects how a replicator reads the change log of the remote.
type Protocol string

const (
	// ProtocolLog tails the transaction log with opaque cursors.
	ProtocolLog Protocol = "log"
	// ProtocolOffset reads the legacy log by integer offset and generation.
	ProtocolOffset Protocol = "offset"
)

// ErrInvalidConfig is wrapped by all configuration validation errors.
var ErrInvalidConfig = errors.New("invalid replicator config")

// Config describes one replicator. It does not change for the lifetime of
// the process.
type Config struct {
	Name           string `yaml:"name"`
	Namespace      string `yaml:"namespace"`
	RemoteEndpoint string `yaml:"remoteEndpoint"`
	// MaxParallelReplications bounds the operations replicated at the same
	// time, Unbounded removes the bound and zero selects the default.
	MaxParallelReplications int  `yaml:"maxParallelReplications"`
	SkipSnapshot            bool `yaml:"skipSnapshot"`
	// MaxLogScanOffsets is the page size of change log requests.
	MaxLogScanOffsets int      `yaml:"maxLogScanOffsets"`
	Protocol          Protocol `yaml:"protocol"`
}

type configFile struct {
	Replicators []Config `yaml:"replicators"`
}

// withDefaults fills in the zero fields.
func (c Config) withDefaults() Config {
	if c.MaxParallelReplications == 0 {
		c.MaxParallelReplications = DefaultMaxParallelReplications
	}
	if c.MaxLogScanOffsets == 0 {
		c.MaxLogScanOffsets = DefaultMaxLogScanOffsets
	}
	if c.Protocol == "" {
		c.Protocol = ProtocolLog
	}
	return c
}

// Validate checks a single configuration.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if c.Namespace == "" {
		return fmt.Errorf("%w: %s: missing namespace", ErrInvalidConfig, c.Name)
	}
	if c.RemoteEndpoint == "" {
		return fmt.Errorf("%w: %s: missing remote endpoint", ErrInvalidConfig, c.Name)
	}
	if u, err := url.Parse(c.RemoteEndpoint); err != nil || u.Host == "" {
		return fmt.Errorf("%w: %s: remote endpoint %q is not an absolute url", ErrInvalidConfig, c.Name, c.RemoteEndpoint)
	}
	if c.MaxParallelReplications != Unbounded && c.MaxParallelReplications <= 0 {
		return fmt.Errorf("%w: %s: maxParallelReplications must be -1 or positive, got %d", ErrInvalidConfig, c.Name, c.MaxParallelReplications)
	}
	if c.MaxLogScanOffsets <= 0 {
		return fmt.Errorf("%w: %s: maxLogScanOffsets must be positive, got %d", ErrInvalidConfig, c.Name, c.MaxLogScanOffsets)
	}
	switch c.Protocol {
	case ProtocolLog, ProtocolOffset:
	default:
		return fmt.Errorf("%w: %s: unknown protocol %q", ErrInvalidConfig, c.Name, c.Protocol)
	}
	return nil
}

// ParseConfigs reads the YAML list of replicators, applies defaults and
// validates them. Unknown fields are rejected.
func ParseConfigs(r io.Reader) ([]Config, error) {
	var f configFile
	dec := yaml.NewDecoder(r)
	dec.SetStrict(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	names := make(map[string]struct{}, len(f.Replicators))
	cs := make([]Config, 0, len(f.Replicators))
	for _, c := range f.Replicators {
		c = c.withDefaults()
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, ok := names[c.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidConfig, c.Name)
		}
		names[c.Name] = struct{}{}
		cs = append(cs, c)
	}
	return cs, nil
}

// LoadConfigs parses the replicator definitions in the named file.
func LoadConfigs(path string) ([]Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseConfigs(f)
}
