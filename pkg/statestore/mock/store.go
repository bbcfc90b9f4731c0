// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mock

import (
	"encoding"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/ethersphere/mirror/pkg/storage"
)

var _ storage.StateStorer = (*Store)(nil)

// ErrInjected is returned by a store configured to fail writes.
var ErrInjected = errors.New("statestore mock: injected failure")

// Store is an in-memory state store. Writes can be made to fail in order
// to exercise persistence error paths.
type Store struct {
	store map[string][]byte
	mtx   sync.RWMutex

	failPuts bool
	puts     int
}

func NewStateStore() *Store {
	return &Store{
		store: make(map[string][]byte),
	}
}

// FailPuts makes every subsequent Put and Delete return ErrInjected.
func (s *Store) FailPuts(v bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.failPuts = v
}

// Puts returns the number of successful Put calls.
func (s *Store) Puts() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.puts
}

func (s *Store) Get(key string, i interface{}) (err error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	data, ok := s.store[key]
	if !ok {
		return storage.ErrNotFound
	}

	if unmarshaler, ok := i.(encoding.BinaryUnmarshaler); ok {
		return unmarshaler.UnmarshalBinary(data)
	}

	return json.Unmarshal(data, i)
}

func (s *Store) Put(key string, i interface{}) (err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.failPuts {
		return ErrInjected
	}

	var bytes []byte
	if marshaler, ok := i.(encoding.BinaryMarshaler); ok {
		if bytes, err = marshaler.MarshalBinary(); err != nil {
			return err
		}
	} else if bytes, err = json.Marshal(i); err != nil {
		return err
	}

	s.store[key] = bytes
	s.puts++
	return nil
}

func (s *Store) Delete(key string) (err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.failPuts {
		return ErrInjected
	}

	delete(s.store, key)
	return nil
}

func (s *Store) Iterate(prefix string, iterFunc storage.StateIterFunc) (err error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	for k, v := range s.store {
		if !strings.HasPrefix(k, prefix) {
			continue
		}

		val := make([]byte, len(v))
		copy(val, v)
		stop, err := iterFunc([]byte(k), val)
		if err != nil {
			return err
		}

		if stop {
			return nil
		}
	}
	return nil
}

func (s *Store) Close() (err error) {
	return nil
}
