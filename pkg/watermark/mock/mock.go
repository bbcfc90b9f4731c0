// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mock

import (
	"context"
	"sync"

	"github.com/ethersphere/mirror/pkg/storage"
	"github.com/ethersphere/mirror/pkg/watermark"
)

var (
	_ watermark.Store  = (*Store)(nil)
	_ watermark.Shared = (*Shared)(nil)
)

// Store is an in-memory watermark store that records every saved value.
type Store struct {
	mtx     sync.Mutex
	current watermark.Watermark
	saves   []watermark.Watermark
	saveErr error
	onSave  func(watermark.Watermark)
}

type Option func(*Store)

// WithWatermark sets the initial watermark.
func WithWatermark(w watermark.Watermark) Option {
	return func(s *Store) {
		s.current = w
	}
}

// WithSaveError makes Save fail with err.
func WithSaveError(err error) Option {
	return func(s *Store) {
		s.saveErr = err
	}
}

// WithOnSave calls f with every successfully saved watermark.
func WithOnSave(f func(watermark.Watermark)) Option {
	return func(s *Store) {
		s.onSave = f
	}
}

func NewStore(opts ...Option) *Store {
	s := new(Store)
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Load(_ context.Context) (watermark.Watermark, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.current, nil
}

func (s *Store) Save(_ context.Context, w watermark.Watermark) error {
	s.mtx.Lock()
	if s.saveErr != nil {
		s.mtx.Unlock()
		return s.saveErr
	}
	s.current = w
	s.saves = append(s.saves, w)
	f := s.onSave
	s.mtx.Unlock()

	if f != nil {
		f(w)
	}
	return nil
}

func (s *Store) Reset(_ context.Context) (watermark.Watermark, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.current = watermark.Zero
	return watermark.Zero, nil
}

// Saves returns all saved watermarks in order.
func (s *Store) Saves() []watermark.Watermark {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]watermark.Watermark(nil), s.saves...)
}

// Shared is an in-memory shared watermark record.
type Shared struct {
	mtx sync.Mutex
	m   map[string]watermark.Watermark
}

func NewShared() *Shared {
	return &Shared{m: make(map[string]watermark.Watermark)}
}

func (s *Shared) Get(_ context.Context, name string) (watermark.Watermark, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	w, ok := s.m[name]
	if !ok {
		return watermark.Zero, storage.ErrNotFound
	}
	return w, nil
}

func (s *Shared) Put(_ context.Context, name string, w watermark.Watermark) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.m[name] = w
	return nil
}

func (s *Shared) Delete(_ context.Context, name string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.m, name)
	return nil
}
