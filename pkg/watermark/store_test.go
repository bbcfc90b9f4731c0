// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package watermark_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethersphere/mirror/pkg/statestore/leveldb"
	statestore "github.com/ethersphere/mirror/pkg/statestore/mock"
	"github.com/ethersphere/mirror/pkg/watermark"
	"github.com/ethersphere/mirror/pkg/watermark/mock"
)

func TestStoreLocal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	local, err := leveldb.NewInMemoryStateStore(nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = local.Close() })

	s := watermark.NewStore("images", local, nil)

	w, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !w.IsZero() {
		t.Fatalf("got %v, want zero watermark", w)
	}

	want := watermark.Watermark{Generation: "g1", Bucket: 10, Sequence: 3}
	if err := s.Save(ctx, want); err != nil {
		t.Fatal(err)
	}

	// a second store over the same state must see the saved value
	w, err = watermark.NewStore("images", local, nil).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if w != want {
		t.Fatalf("got %v, want %v", w, want)
	}

	// watermarks are per replicator
	w, err = watermark.NewStore("charts", local, nil).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !w.IsZero() {
		t.Fatalf("got %v, want zero watermark", w)
	}

	if _, err := s.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	w, err = s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !w.IsZero() {
		t.Fatalf("got %v after reset, want zero watermark", w)
	}
}

func TestStoreSharedPreferred(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	local := statestore.NewStateStore()
	shared := mock.NewShared()

	older := watermark.Offset("g1", 5)
	newer := watermark.Offset("g1", 9)

	if err := local.Put(watermark.Key("images"), older); err != nil {
		t.Fatal(err)
	}
	if err := shared.Put(ctx, "images", newer); err != nil {
		t.Fatal(err)
	}

	s := watermark.NewStore("images", local, shared)
	w, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if w != newer {
		t.Fatalf("got %v, want shared record %v", w, newer)
	}

	// without a shared record the local one is used
	if err := shared.Delete(ctx, "images"); err != nil {
		t.Fatal(err)
	}
	w, err = s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if w != older {
		t.Fatalf("got %v, want local record %v", w, older)
	}

	// saves go to both records
	if err := s.Save(ctx, newer); err != nil {
		t.Fatal(err)
	}
	got, err := shared.Get(ctx, "images")
	if err != nil {
		t.Fatal(err)
	}
	if got != newer {
		t.Fatalf("got shared %v, want %v", got, newer)
	}
}

func TestStoreSaveError(t *testing.T) {
	t.Parallel()

	local := statestore.NewStateStore()
	local.FailPuts(true)

	s := watermark.NewStore("images", local, nil)
	if err := s.Save(context.Background(), watermark.Offset("g1", 1)); !errors.Is(err, statestore.ErrInjected) {
		t.Fatalf("got error %v, want %v", err, statestore.ErrInjected)
	}
}
