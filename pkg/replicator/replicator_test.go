// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replicator_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/ethersphere/mirror/pkg/blob"
	blobmock "github.com/ethersphere/mirror/pkg/blobstore/mock"
	"github.com/ethersphere/mirror/pkg/blobsync"
	"github.com/ethersphere/mirror/pkg/remote"
	remotemock "github.com/ethersphere/mirror/pkg/remote/mock"
	"github.com/ethersphere/mirror/pkg/replicator"
	"github.com/ethersphere/mirror/pkg/spinlock"
	"github.com/ethersphere/mirror/pkg/watermark"
	wmmock "github.com/ethersphere/mirror/pkg/watermark/mock"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"go.uber.org/atomic"
)

const ns = "images"

type env struct {
	remote *remotemock.Remote
	store  *blobmock.Store
	marks  *wmmock.Store
}

func newEnv(opts ...remotemock.Option) *env {
	return &env{
		remote: remotemock.New(opts...),
		store:  blobmock.New(),
		marks:  wmmock.NewStore(),
	}
}

func newReplicator(t *testing.T, c replicator.Config, e *env) *replicator.Replicator {
	t.Helper()

	if c.Name == "" {
		c.Name = ns
	}
	c.Namespace = ns
	c.RemoteEndpoint = "http://peer.test"

	blobs, err := blobsync.New(e.remote, e.store, blobsync.Options{
		Name:            c.Name,
		Fs:              afero.NewMemMapFs(),
		NotFoundBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	r, err := replicator.New(replicator.Options{
		Config:     c,
		Remote:     e.remote,
		Blobs:      blobs,
		Watermarks: e.marks,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func wm(seq uint64) watermark.Watermark {
	return watermark.Watermark{Generation: "g1", Bucket: 1, Sequence: seq}
}

func add(seq uint64, id blob.ID) remote.Op {
	return remote.Op{OrderKey: wm(seq), Kind: remote.OpAdd, ObjectID: id}
}

func remove(seq uint64, id blob.ID) remote.Op {
	return remote.Op{OrderKey: wm(seq), Kind: remote.OpRemove, ObjectID: id}
}

// addObject publishes an object with one layer.
func addObject(r *remotemock.Remote, name string) (object, layer blob.ID) {
	layer = r.AddBlob([]byte(name + " layer"))
	object = r.AddObject([]byte(name), remote.Reference{ID: layer})
	return object, layer
}

func assertStored(t *testing.T, s *blobmock.Store, ids ...blob.ID) {
	t.Helper()

	for _, id := range ids {
		ok, err := s.Exists(context.Background(), ns, id)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("blob %s not stored", id)
		}
	}
}

func assertWatermark(t *testing.T, s watermark.Store, want watermark.Watermark) {
	t.Helper()

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got watermark %v, want %v", got, want)
	}
}

func mustRun(t *testing.T, r *replicator.Replicator) {
	t.Helper()

	ran, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("run did not start")
	}
}

func TestRunSnapshotThenTail(t *testing.T) {
	t.Parallel()

	e := newEnv()
	o1, l1 := addObject(e.remote, "one")
	o2, l2 := addObject(e.remote, "two")
	if _, err := e.remote.AddSnapshot(ns, wm(5),
		remote.LiveObject{ObjectID: o1, PrimaryBlob: o1},
		remote.LiveObject{ObjectID: o2, PrimaryBlob: o2},
	); err != nil {
		t.Fatal(err)
	}
	o3, l3 := addObject(e.remote, "three")
	e.remote.AppendOps(add(6, o3), remove(7, o1))

	r := newReplicator(t, replicator.Config{}, e)
	mustRun(t, r)

	assertStored(t, e.store, o1, l1, o2, l2, o3, l3)
	assertWatermark(t, e.marks, wm(7))
	if saves := e.marks.Saves(); saves[0] != wm(5) {
		t.Fatalf("got first watermark %v, want snapshot watermark %v", saves[0], wm(5))
	}
}

func TestRunIdempotent(t *testing.T) {
	t.Parallel()

	e := newEnv()
	o1, _ := addObject(e.remote, "one")
	o2, _ := addObject(e.remote, "two")
	e.remote.AppendOps(add(1, o1), add(2, o2))

	r := newReplicator(t, replicator.Config{SkipSnapshot: true}, e)
	mustRun(t, r)

	puts, fetches := e.store.TotalPuts(), e.remote.TotalBlobFetches()
	if puts != 4 {
		t.Fatalf("got %d puts, want 4", puts)
	}

	mustRun(t, r)
	if got := e.store.TotalPuts(); got != puts {
		t.Fatalf("got %d puts after second run, want %d", got, puts)
	}
	if got := e.remote.TotalBlobFetches(); got != fetches {
		t.Fatalf("got %d fetches after second run, want %d", got, fetches)
	}

	// replaying the log from scratch does not write anything either
	if err := r.DeleteState(context.Background()); err != nil {
		t.Fatal(err)
	}
	mustRun(t, r)
	if got := e.store.TotalPuts(); got != puts {
		t.Fatalf("got %d puts after replay, want %d", got, puts)
	}
	assertWatermark(t, e.marks, wm(2))
}

func TestNoSnapshotAvailable(t *testing.T) {
	t.Parallel()

	e := newEnv()
	for i := uint64(1); i <= 3; i++ {
		o, _ := addObject(e.remote, fmt.Sprintf("object %d", i))
		e.remote.AppendOps(add(i, o))
	}

	r := newReplicator(t, replicator.Config{}, e)
	ran, err := r.Run(context.Background())
	if !ran || !errors.Is(err, replicator.ErrNoSnapshotAvailable) {
		t.Fatalf("got ran %v error %v, want %v", ran, err, replicator.ErrNoSnapshotAvailable)
	}
	assertWatermark(t, e.marks, watermark.Zero)

	s, err := r.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.LastRunAt.IsZero() || s.Running || s.LastError == "" {
		t.Fatalf("got status %+v", s)
	}
	if e.store.Len() != 0 {
		t.Fatalf("got %d blobs stored, want 0", e.store.Len())
	}

	r = newReplicator(t, replicator.Config{Name: "images-partial", SkipSnapshot: true}, e)
	mustRun(t, r)
	assertWatermark(t, e.marks, wm(3))
}

func TestLogGapRecovery(t *testing.T) {
	t.Parallel()

	e := newEnv(remotemock.WithLogGaps(1))
	e.marks = wmmock.NewStore(wmmock.WithWatermark(wm(1)))

	o1, l1 := addObject(e.remote, "one")
	if _, err := e.remote.AddSnapshot(ns, wm(5), remote.LiveObject{ObjectID: o1, PrimaryBlob: o1}); err != nil {
		t.Fatal(err)
	}
	o2, l2 := addObject(e.remote, "two")
	e.remote.AppendOps(add(6, o2))

	r := newReplicator(t, replicator.Config{}, e)
	mustRun(t, r)

	assertStored(t, e.store, o1, l1, o2, l2)
	want := []watermark.Watermark{wm(5), wm(6)}
	if diff := cmp.Diff(want, e.marks.Saves()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if got := e.remote.PageCalls(); got != 2 {
		t.Fatalf("got %d page requests, want 2", got)
	}
}

func TestRepeatedLogGap(t *testing.T) {
	t.Parallel()

	e := newEnv(remotemock.WithLogGaps(2))
	e.marks = wmmock.NewStore(wmmock.WithWatermark(wm(1)))

	o1, _ := addObject(e.remote, "one")
	if _, err := e.remote.AddSnapshot(ns, wm(5), remote.LiveObject{ObjectID: o1, PrimaryBlob: o1}); err != nil {
		t.Fatal(err)
	}

	r := newReplicator(t, replicator.Config{}, e)
	ran, err := r.Run(context.Background())
	if !ran || !errors.Is(err, replicator.ErrRepeatedLogGap) {
		t.Fatalf("got ran %v error %v, want %v", ran, err, replicator.ErrRepeatedLogGap)
	}
	if got := e.remote.PageCalls(); got != 2 {
		t.Fatalf("got %d page requests, want 2", got)
	}
	// the snapshot was replicated and remains a valid resumption point
	assertWatermark(t, e.marks, wm(5))

	// the next run resumes normally
	mustRun(t, r)
}

func TestLogGapSkipSnapshot(t *testing.T) {
	t.Parallel()

	e := newEnv(remotemock.WithLogGaps(1))
	e.marks = wmmock.NewStore(wmmock.WithWatermark(wm(1)))

	var objects []blob.ID
	for i := uint64(1); i <= 3; i++ {
		o, _ := addObject(e.remote, fmt.Sprintf("object %d", i))
		e.remote.AppendOps(add(i, o))
		objects = append(objects, o)
	}

	r := newReplicator(t, replicator.Config{SkipSnapshot: true}, e)
	mustRun(t, r)

	// the watermark was reset, so the first operation was replayed too
	assertStored(t, e.store, objects...)
	assertWatermark(t, e.marks, wm(3))
}

func TestOutOfOrderCompletion(t *testing.T) {
	t.Parallel()

	gates := make(map[blob.ID]chan struct{})
	entered := atomic.NewInt32(0)
	e := newEnv(remotemock.WithBlobHook(func(ctx context.Context, id blob.ID) error {
		gate, ok := gates[id]
		if !ok {
			return nil
		}
		entered.Inc()
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	var objects []blob.ID
	for i := uint64(1); i <= 4; i++ {
		o := e.remote.AddObject([]byte(fmt.Sprintf("object %d", i)))
		gates[o] = make(chan struct{})
		objects = append(objects, o)
		e.remote.AppendOps(add(i, o))
	}

	r := newReplicator(t, replicator.Config{SkipSnapshot: true, MaxParallelReplications: 4}, e)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background())
		errc <- err
	}()

	if err := spinlock.Wait(5*time.Second, func() bool { return entered.Load() == 4 }); err != nil {
		t.Fatal("operations were not replicated in parallel")
	}

	// complete in reverse dispatch order, the lowest key last
	for i := 3; i >= 1; i-- {
		close(gates[objects[i]])
		o := objects[i]
		if err := spinlock.Wait(5*time.Second, func() bool { return e.store.Puts(ns, o) == 1 }); err != nil {
			t.Fatalf("object %d not stored", i+1)
		}
	}
	if err := spinlock.Wait(5*time.Second, func() bool {
		s, err := r.Status(context.Background())
		return err == nil && s.InFlight == 1
	}); err != nil {
		t.Fatal("completed operations still in flight")
	}
	if saves := e.marks.Saves(); len(saves) != 0 {
		t.Fatalf("watermark advanced to %v while the lowest operation is in flight", saves)
	}

	close(gates[objects[0]])
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	want := []watermark.Watermark{wm(1), wm(4)}
	if diff := cmp.Diff(want, e.marks.Saves()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestMaxParallelReplications(t *testing.T) {
	t.Parallel()

	var (
		current = atomic.NewInt32(0)
		highest = atomic.NewInt32(0)
	)
	e := newEnv(remotemock.WithBlobHook(func(ctx context.Context, id blob.ID) error {
		c := current.Inc()
		defer current.Dec()
		for {
			h := highest.Load()
			if c <= h || highest.CAS(h, c) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return nil
	}))

	var objects []blob.ID
	for i := uint64(1); i <= 8; i++ {
		o := e.remote.AddObject([]byte(fmt.Sprintf("object %d", i)))
		objects = append(objects, o)
		e.remote.AppendOps(add(i, o))
	}

	r := newReplicator(t, replicator.Config{SkipSnapshot: true, MaxParallelReplications: 2}, e)
	mustRun(t, r)

	assertStored(t, e.store, objects...)
	if got := highest.Load(); got > 2 {
		t.Fatalf("got %d parallel replications, want at most 2", got)
	}
	assertWatermark(t, e.marks, wm(8))
}

func TestUnboundedParallelReplications(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := atomic.NewInt32(0)
	e := newEnv(remotemock.WithBlobHook(func(ctx context.Context, id blob.ID) error {
		entered.Inc()
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	for i := uint64(1); i <= 12; i++ {
		e.remote.AppendOps(add(i, e.remote.AddObject([]byte(fmt.Sprintf("object %d", i)))))
	}

	r := newReplicator(t, replicator.Config{SkipSnapshot: true, MaxParallelReplications: replicator.Unbounded}, e)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background())
		errc <- err
	}()

	if err := spinlock.Wait(5*time.Second, func() bool { return entered.Load() == 12 }); err != nil {
		t.Fatalf("got %d parallel replications, want 12", entered.Load())
	}
	close(release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	assertWatermark(t, e.marks, wm(12))
}

func TestSingleFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := atomic.NewInt32(0)
	e := newEnv(remotemock.WithBlobHook(func(ctx context.Context, id blob.ID) error {
		entered.Inc()
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	o1, _ := addObject(e.remote, "one")
	e.remote.AppendOps(add(1, o1))

	r := newReplicator(t, replicator.Config{SkipSnapshot: true}, e)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background())
		errc <- err
	}()
	if err := spinlock.Wait(5*time.Second, func() bool { return entered.Load() > 0 }); err != nil {
		t.Fatal("run did not start")
	}

	ctx := context.Background()
	ran, err := r.Run(ctx)
	if ran || err != nil {
		t.Fatalf("got ran %v error %v for a concurrent run", ran, err)
	}
	if err := r.DeleteState(ctx); !errors.Is(err, replicator.ErrRunning) {
		t.Fatalf("got error %v, want %v", err, replicator.ErrRunning)
	}
	if err := r.SetWatermark(ctx, wm(9)); !errors.Is(err, replicator.ErrRunning) {
		t.Fatalf("got error %v, want %v", err, replicator.ErrRunning)
	}
	s, err := r.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Running {
		t.Fatal("status does not report the run")
	}

	close(release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	if err := r.SetWatermark(ctx, wm(9)); err != nil {
		t.Fatal(err)
	}
	assertWatermark(t, e.marks, wm(9))
}

func TestRemovesAreNotReplicated(t *testing.T) {
	t.Parallel()

	e := newEnv()
	o1, _ := addObject(e.remote, "one")
	e.remote.AppendOps(remove(1, o1), remove(2, o1))

	r := newReplicator(t, replicator.Config{SkipSnapshot: true}, e)
	mustRun(t, r)

	if got := e.remote.TotalBlobFetches(); got != 0 {
		t.Fatalf("got %d blob fetches, want 0", got)
	}
	if got := e.remote.ReferenceCalls(); got != 0 {
		t.Fatalf("got %d reference lookups, want 0", got)
	}
	assertWatermark(t, e.marks, wm(2))
}

func TestRemoveKeepsLocalCopy(t *testing.T) {
	t.Parallel()

	e := newEnv()
	o1, l1 := addObject(e.remote, "one")
	e.remote.AppendOps(add(1, o1), remove(2, o1))

	r := newReplicator(t, replicator.Config{SkipSnapshot: true}, e)
	mustRun(t, r)

	assertStored(t, e.store, o1, l1)
}

func TestFailedItemIsSkipped(t *testing.T) {
	t.Parallel()

	e := newEnv()
	o1, _ := addObject(e.remote, "one")
	broken := e.remote.AddObject([]byte("broken"), remote.Reference{ID: blob.Hash([]byte("never uploaded"))})
	o3, _ := addObject(e.remote, "three")
	e.remote.AppendOps(add(1, o1), add(2, broken), add(3, o3))

	r := newReplicator(t, replicator.Config{SkipSnapshot: true}, e)
	mustRun(t, r)

	assertStored(t, e.store, o1, o3)
	assertWatermark(t, e.marks, wm(3))
}

func TestEnumerationFailure(t *testing.T) {
	t.Parallel()

	errReset := errors.New("connection reset")
	e := newEnv(remotemock.WithPageError(errReset))
	e.marks = wmmock.NewStore(wmmock.WithWatermark(wm(2)))

	r := newReplicator(t, replicator.Config{}, e)
	ran, err := r.Run(context.Background())
	if !ran || !errors.Is(err, errReset) {
		t.Fatalf("got ran %v error %v, want %v", ran, err, errReset)
	}
	if saves := e.marks.Saves(); len(saves) != 0 {
		t.Fatalf("got saves %v, want none", saves)
	}
}

func TestOutOfOrderPage(t *testing.T) {
	t.Parallel()

	e := newEnv()
	o1, _ := addObject(e.remote, "one")
	o2, _ := addObject(e.remote, "two")
	e.remote.AppendOps(add(2, o1), add(1, o2))

	r := newReplicator(t, replicator.Config{SkipSnapshot: true}, e)
	if _, err := r.Run(context.Background()); !errors.Is(err, replicator.ErrOutOfOrder) {
		t.Fatalf("got error %v, want %v", err, replicator.ErrOutOfOrder)
	}
}

func TestStop(t *testing.T) {
	t.Parallel()

	entered := atomic.NewInt32(0)
	e := newEnv(remotemock.WithBlobHook(func(ctx context.Context, id blob.ID) error {
		entered.Inc()
		<-ctx.Done()
		return ctx.Err()
	}))
	o1, _ := addObject(e.remote, "one")
	e.remote.AppendOps(add(1, o1))

	r := newReplicator(t, replicator.Config{SkipSnapshot: true}, e)
	if r.Stop() {
		t.Fatal("stopped an idle replicator")
	}

	errc := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background())
		errc <- err
	}()
	if err := spinlock.Wait(5*time.Second, func() bool { return entered.Load() > 0 }); err != nil {
		t.Fatal("run did not start")
	}

	if !r.Stop() {
		t.Fatal("no run to stop")
	}
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("got error %v, want %v", err, context.Canceled)
	}
	if saves := e.marks.Saves(); len(saves) != 0 {
		t.Fatalf("got saves %v, want none", saves)
	}

	s, err := r.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Running || s.InFlight != 0 {
		t.Fatalf("got status %+v after stop", s)
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	r := newReplicator(t, replicator.Config{SkipSnapshot: true}, newEnv())
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background()); !errors.Is(err, replicator.ErrClosed) {
		t.Fatalf("got error %v, want %v", err, replicator.ErrClosed)
	}
}

func TestSaveFailureEndsRun(t *testing.T) {
	t.Parallel()

	errDisk := errors.New("disk full")
	e := newEnv()
	e.marks = wmmock.NewStore(wmmock.WithSaveError(errDisk))
	o1, _ := addObject(e.remote, "one")
	e.remote.AppendOps(add(1, o1))

	r := newReplicator(t, replicator.Config{SkipSnapshot: true}, e)
	if _, err := r.Run(context.Background()); !errors.Is(err, errDisk) {
		t.Fatalf("got error %v, want %v", err, errDisk)
	}
}

func TestSaveFailureStopsEnumeration(t *testing.T) {
	t.Parallel()

	errDisk := errors.New("disk full")
	gates := make(map[blob.ID]chan struct{})
	entered := atomic.NewInt32(0)
	e := newEnv(remotemock.WithBlobHook(func(ctx context.Context, id blob.ID) error {
		gate, ok := gates[id]
		if !ok {
			return nil
		}
		entered.Inc()
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	e.marks = wmmock.NewStore(wmmock.WithSaveError(errDisk))

	var objects []blob.ID
	for i := uint64(1); i <= 20; i++ {
		o := e.remote.AddObject([]byte(fmt.Sprintf("object %d", i)))
		gates[o] = make(chan struct{})
		objects = append(objects, o)
		e.remote.AppendOps(add(i, o))
	}

	r := newReplicator(t, replicator.Config{SkipSnapshot: true, MaxParallelReplications: 2, MaxLogScanOffsets: 1}, e)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background())
		errc <- err
	}()

	if err := spinlock.Wait(5*time.Second, func() bool { return entered.Load() == 2 }); err != nil {
		t.Fatal("operations were not dispatched")
	}

	// the first commit fails while the second operation is still in flight
	close(gates[objects[0]])

	select {
	case err := <-errc:
		if !errors.Is(err, errDisk) {
			t.Fatalf("got error %v, want %v", err, errDisk)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not end after the failed commit")
	}

	// two pages were dispatched and at most one more was read while the
	// enumeration waited for a free slot
	if got := e.remote.PageCalls(); got > 3 {
		t.Fatalf("got %d page requests after a failed commit, want at most 3", got)
	}
	if got := entered.Load(); got != 2 {
		t.Fatalf("got %d operations started, want 2", got)
	}
}

func TestQuietLogAdvancesWatermark(t *testing.T) {
	t.Parallel()

	e := newEnv(remotemock.WithLogEnd(wm(40)))
	r := newReplicator(t, replicator.Config{SkipSnapshot: true}, e)
	mustRun(t, r)

	assertWatermark(t, e.marks, wm(40))
}

func TestPagination(t *testing.T) {
	t.Parallel()

	e := newEnv()
	var objects []blob.ID
	for i := uint64(1); i <= 7; i++ {
		o, _ := addObject(e.remote, fmt.Sprintf("object %d", i))
		e.remote.AppendOps(add(i, o))
		objects = append(objects, o)
	}

	r := newReplicator(t, replicator.Config{SkipSnapshot: true, MaxLogScanOffsets: 3}, e)
	mustRun(t, r)

	assertStored(t, e.store, objects...)
	assertWatermark(t, e.marks, wm(7))
	if got := e.remote.PageCalls(); got != 3 {
		t.Fatalf("got %d page requests, want 3", got)
	}
}

func TestProtocols(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		protocol       replicator.Protocol
		wantReferences int
	}{
		{protocol: replicator.ProtocolLog, wantReferences: 0},
		{protocol: replicator.ProtocolOffset, wantReferences: 1},
	} {
		tc := tc
		t.Run(string(tc.protocol), func(t *testing.T) {
			t.Parallel()

			e := newEnv()
			o1, l1 := addObject(e.remote, "one")
			op := add(1, o1)
			op.References = []remote.Reference{{ID: l1}}
			e.remote.AppendOps(op)

			r := newReplicator(t, replicator.Config{SkipSnapshot: true, Protocol: tc.protocol}, e)
			mustRun(t, r)

			assertStored(t, e.store, o1, l1)
			if got := e.remote.ReferenceCalls(); got != tc.wantReferences {
				t.Fatalf("got %d reference lookups, want %d", got, tc.wantReferences)
			}
		})
	}
}

// TestCrashAndResume interrupts runs at random points while operations
// complete in random order, then resumes with a fresh replicator. Every
// operation at or below the committed watermark must have been replicated,
// and nothing stored before the interruption is fetched again.
func TestCrashAndResume(t *testing.T) {
	t.Parallel()

	const n = 30

	for round := 0; round < 8; round++ {
		round := round
		t.Run(fmt.Sprintf("round %d", round), func(t *testing.T) {
			t.Parallel()

			rnd := rand.New(rand.NewSource(int64(round)))
			delays := make(map[blob.ID]time.Duration)
			e := newEnv(remotemock.WithBlobHook(func(ctx context.Context, id blob.ID) error {
				select {
				case <-time.After(delays[id]):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}))

			type item struct{ object, layer blob.ID }
			items := make([]item, 0, n)
			for i := uint64(1); i <= n; i++ {
				o, l := addObject(e.remote, fmt.Sprintf("round %d object %d", round, i))
				delays[o] = time.Duration(rnd.Intn(4)) * time.Millisecond
				delays[l] = time.Duration(rnd.Intn(4)) * time.Millisecond
				items = append(items, item{o, l})
				e.remote.AppendOps(add(i, o))
			}
			crashAfter := time.Duration(rnd.Intn(40)) * time.Millisecond

			c := replicator.Config{SkipSnapshot: true, MaxParallelReplications: 4, MaxLogScanOffsets: 7}
			ctx, cancel := context.WithTimeout(context.Background(), crashAfter)
			defer cancel()
			if _, err := newReplicator(t, c, e).Run(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				t.Fatal(err)
			}

			committed, err := e.marks.Load(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			for i, it := range items {
				if !committed.IsZero() && uint64(i+1) <= committed.Sequence {
					assertStored(t, e.store, it.object, it.layer)
				}
			}

			var storedBefore []blob.ID
			for _, it := range items {
				for _, id := range []blob.ID{it.object, it.layer} {
					if ok, _ := e.store.Exists(context.Background(), ns, id); ok {
						storedBefore = append(storedBefore, id)
					}
				}
			}

			mustRun(t, newReplicator(t, c, e))

			for _, it := range items {
				assertStored(t, e.store, it.object, it.layer)
			}
			for _, id := range storedBefore {
				if got := e.remote.BlobFetches(id); got != 1 {
					t.Fatalf("blob %s fetched %d times, want once", id, got)
				}
			}
			assertWatermark(t, e.marks, wm(n))
		})
	}
}
