// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package watermark

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethersphere/mirror/pkg/storage"
)

const keyPrefix = "watermark|"

// Store persists the watermark of one replicator.
type Store interface {
	// Load returns the persisted watermark or Zero if there is none.
	Load(ctx context.Context) (Watermark, error)
	// Save durably persists w before returning.
	Save(ctx context.Context, w Watermark) error
	// Reset clears the watermark, forcing a full resync on the next run.
	Reset(ctx context.Context) (Watermark, error)
}

// Shared is a watermark record kept outside of the local state store so
// that several instances pointed at the same remote can resume from each
// other's progress. Get returns storage.ErrNotFound if there is no record.
type Shared interface {
	Get(ctx context.Context, name string) (Watermark, error)
	Put(ctx context.Context, name string, w Watermark) error
	Delete(ctx context.Context, name string) error
}

type store struct {
	name   string
	key    string
	local  storage.StateStorer
	shared Shared
}

// NewStore returns the watermark store of the replicator with the given
// name. The shared record is optional.
func NewStore(name string, local storage.StateStorer, shared Shared) Store {
	return &store{
		name:   name,
		key:    Key(name),
		local:  local,
		shared: shared,
	}
}

// Key returns the state store key of the named replicator's watermark.
func Key(name string) string {
	return keyPrefix + name
}

// KeyPrefix is the state store prefix under which all watermarks are kept.
func KeyPrefix() string {
	return keyPrefix
}

func (s *store) Load(ctx context.Context) (Watermark, error) {
	if s.shared != nil {
		w, err := s.shared.Get(ctx, s.name)
		switch {
		case err == nil:
			return w, nil
		case !errors.Is(err, storage.ErrNotFound):
			return Zero, fmt.Errorf("load shared watermark: %w", err)
		}
	}

	var w Watermark
	if err := s.local.Get(s.key, &w); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Zero, nil
		}
		return Zero, fmt.Errorf("load watermark: %w", err)
	}
	return w, nil
}

func (s *store) Save(ctx context.Context, w Watermark) error {
	if err := s.local.Put(s.key, w); err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	if s.shared != nil {
		if err := s.shared.Put(ctx, s.name, w); err != nil {
			return fmt.Errorf("save shared watermark: %w", err)
		}
	}
	return nil
}

func (s *store) Reset(ctx context.Context) (Watermark, error) {
	if err := s.local.Delete(s.key); err != nil {
		return Zero, fmt.Errorf("reset watermark: %w", err)
	}
	if s.shared != nil {
		if err := s.shared.Delete(ctx, s.name); err != nil {
			return Zero, fmt.Errorf("reset shared watermark: %w", err)
		}
	}
	return Zero, nil
}
