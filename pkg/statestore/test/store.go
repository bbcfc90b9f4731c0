// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package test is the shared conformance suite for state store
// implementations.
package test

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethersphere/mirror/pkg/storage"
	"github.com/google/go-cmp/cmp"
)

const (
	key1 = "watermark|alpha" // stores the serialized type
	key2 = "replicators"     // stores a json array
)

var (
	value1 = &Serializing{offset: 4711}
	value2 = []string{"alpha", "beta", "gamma"}
)

// Serializing is a value with a binary encoding, used to check that the
// store prefers encoding.BinaryMarshaler over JSON.
type Serializing struct {
	offset          uint64
	marshalCalled   bool
	unmarshalCalled bool
}

func (st *Serializing) MarshalBinary() (data []byte, err error) {
	d := make([]byte, 8)
	binary.BigEndian.PutUint64(d, st.offset)
	st.marshalCalled = true

	return d, nil
}

func (st *Serializing) UnmarshalBinary(data []byte) (err error) {
	if len(data) != 8 {
		return errors.New("invalid length")
	}
	st.offset = binary.BigEndian.Uint64(data)
	st.unmarshalCalled = true
	return nil
}

// Run executes the suite against fresh stores created by f.
func Run(t *testing.T, f func(t *testing.T) storage.StateStorer) {
	t.Helper()

	t.Run("put get", func(t *testing.T) {
		store := f(t)
		insertValues(t, store)
		testPersistedValues(t, store)
	})

	t.Run("not found", func(t *testing.T) {
		store := f(t)
		var v string
		if err := store.Get("missing", &v); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("got error %v, want %v", err, storage.ErrNotFound)
		}
	})

	t.Run("delete", func(t *testing.T) {
		store := f(t)
		insertValues(t, store)
		if err := store.Delete(key2); err != nil {
			t.Fatal(err)
		}
		var s []string
		if err := store.Get(key2, &s); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("got error %v, want %v", err, storage.ErrNotFound)
		}
		// deleting a missing key is not an error
		if err := store.Delete(key2); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("iterate", func(t *testing.T) {
		store := f(t)
		testStoreIterator(t, store)
	})
}

// RunPersist checks that values survive closing and reopening the store
// located in the same directory.
func RunPersist(t *testing.T, f func(t *testing.T, dir string) storage.StateStorer) {
	t.Helper()

	dir := t.TempDir()

	store := f(t, dir)
	insertValues(t, store)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	persisted := f(t, dir)
	t.Cleanup(func() {
		if err := persisted.Close(); err != nil {
			t.Fatal(err)
		}
	})
	testPersistedValues(t, persisted)
}

func insertValues(t *testing.T, store storage.StateStorer) {
	t.Helper()

	v1 := &Serializing{offset: value1.offset}
	if err := store.Put(key1, v1); err != nil {
		t.Fatal(err)
	}

	if !v1.marshalCalled {
		t.Fatal("binaryMarshaller not called on serialized type")
	}

	if err := store.Put(key2, value2); err != nil {
		t.Fatal(err)
	}
}

func testPersistedValues(t *testing.T, store storage.StateStorer) {
	t.Helper()

	v := &Serializing{}
	if err := store.Get(key1, v); err != nil {
		t.Fatal(err)
	}

	if !v.unmarshalCalled {
		t.Fatal("unmarshaler not called")
	}

	if v.offset != value1.offset {
		t.Fatalf("expected persisted to be %d but got %d", value1.offset, v.offset)
	}

	s := []string{}
	if err := store.Get(key2, &s); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(value2, s); diff != "" {
		t.Fatalf("deserialized data mismatch (-want +got):\n%s", diff)
	}
}

func testStoreIterator(t *testing.T, store storage.StateStorer) {
	t.Helper()

	storePrefix := "watermark|"
	if err := store.Put(storePrefix+"alpha", "value1"); err != nil {
		t.Fatal(err)
	}

	// do not include prefix in one of the entries
	if err := store.Put("other|beta", "value2"); err != nil {
		t.Fatal(err)
	}

	if err := store.Put(storePrefix+"gamma", "value3"); err != nil {
		t.Fatal(err)
	}

	entries := make(map[string]string)

	err := store.Iterate(storePrefix, func(key []byte, value []byte) (stop bool, err error) {
		var entry string
		if err := json.Unmarshal(value, &entry); err != nil {
			return true, err
		}
		entries[string(key)] = entry
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{"watermark|alpha": "value1", "watermark|gamma": "value3"}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("unexpected store entries (-want +got):\n%s", diff)
	}
}
