// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/ethersphere/mirror/pkg/blob"
	"github.com/ethersphere/mirror/pkg/blobstore"
)

var _ blobstore.Store = (*Store)(nil)

// Store is an in-memory blob store that counts writes.
type Store struct {
	mtx    sync.Mutex
	blobs  map[string][]byte
	puts   map[string]int
	putErr error
}

type Option interface {
	apply(*Store)
}
type optionFunc func(*Store)

func (f optionFunc) apply(s *Store) { f(s) }

// WithPutError makes every Put fail with err.
func WithPutError(err error) Option {
	return optionFunc(func(s *Store) {
		s.putErr = err
	})
}

func New(opts ...Option) *Store {
	s := &Store{
		blobs: make(map[string][]byte),
		puts:  make(map[string]int),
	}
	for _, o := range opts {
		o.apply(s)
	}
	return s
}

func key(namespace string, id blob.ID) string {
	return namespace + "/" + id.String()
}

func (s *Store) Exists(_ context.Context, namespace string, id blob.ID) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, ok := s.blobs[key(namespace, id)]
	return ok, nil
}

func (s *Store) Put(_ context.Context, namespace string, id blob.ID, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if blob.Hash(data) != id {
		return blob.ErrHashMismatch
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.blobs[key(namespace, id)] = data
	s.puts[key(namespace, id)]++
	return nil
}

func (s *Store) FilterUnknown(ctx context.Context, namespace string, ids []blob.ID) ([]blob.ID, error) {
	return blobstore.FilterUnknown(ctx, s, namespace, ids)
}

func (s *Store) Get(_ context.Context, namespace string, id blob.ID) (io.ReadCloser, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	data, ok := s.blobs[key(namespace, id)]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Preload stores data without counting it as a write.
func (s *Store) Preload(namespace string, data []byte) blob.ID {
	id := blob.Hash(data)
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.blobs[key(namespace, id)] = data
	return id
}

// Puts returns how many times id was written.
func (s *Store) Puts(namespace string, id blob.ID) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.puts[key(namespace, id)]
}

// TotalPuts returns the number of writes.
func (s *Store) TotalPuts() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	n := 0
	for _, c := range s.puts {
		n += c
	}
	return n
}

// Len returns the number of stored blobs.
func (s *Store) Len() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.blobs)
}
