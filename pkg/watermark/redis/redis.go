// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package redis keeps shared watermark records in Redis, so that every
// mirror instance replicating from the same remote resumes from the last
// watermark committed by any of them.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethersphere/mirror/pkg/storage"
	"github.com/ethersphere/mirror/pkg/watermark"
	rdb "github.com/redis/go-redis/v9"
)

var _ watermark.Shared = (*Shared)(nil)

// Shared is a watermark.Shared backed by a Redis client.
type Shared struct {
	c      rdb.UniversalClient
	prefix string
}

// New connects to the Redis server at addr. Keys are prefixed with prefix.
func New(addr string, db int, prefix string) *Shared {
	return NewWithClient(rdb.NewClient(&rdb.Options{Addr: addr, DB: db}), prefix)
}

// NewWithClient uses an existing client.
func NewWithClient(c rdb.UniversalClient, prefix string) *Shared {
	return &Shared{c: c, prefix: prefix}
}

func (s *Shared) key(name string) string {
	return s.prefix + watermark.Key(name)
}

func (s *Shared) Get(ctx context.Context, name string) (watermark.Watermark, error) {
	b, err := s.c.Get(ctx, s.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return watermark.Zero, storage.ErrNotFound
		}
		return watermark.Zero, err
	}
	var w watermark.Watermark
	if err := json.Unmarshal(b, &w); err != nil {
		return watermark.Zero, fmt.Errorf("decode %s: %w", s.key(name), err)
	}
	return w, nil
}

// Put writes the record without expiry.
func (s *Shared) Put(ctx context.Context, name string, w watermark.Watermark) error {
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.c.Set(ctx, s.key(name), b, 0).Err()
}

func (s *Shared) Delete(ctx context.Context, name string) error {
	return s.c.Del(ctx, s.key(name)).Err()
}

// Ping checks the connection to the server.
func (s *Shared) Ping(ctx context.Context) error {
	return s.c.Ping(ctx).Err()
}

func (s *Shared) Close() error {
	return s.c.Close()
}
