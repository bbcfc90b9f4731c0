// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/coreos/go-semver/semver"
	"github.com/ethersphere/mirror/pkg/blob"
	"github.com/ethersphere/mirror/pkg/remote"
	"github.com/ethersphere/mirror/pkg/watermark"
)

var _ remote.Interface = (*Remote)(nil)

type snapshot struct {
	desc    remote.SnapshotDescriptor
	objects []remote.LiveObject
}

// Remote is an in-memory peer serving a single namespace.
type Remote struct {
	mtx sync.Mutex

	blobs     map[blob.ID][]byte
	refs      map[blob.ID][]remote.Reference
	refErrs   map[blob.ID]error
	blobErrs  map[blob.ID][]error
	snapshots map[blob.ID]snapshot
	latest    blob.ID
	ops       []remote.Op
	logEnd    watermark.Watermark
	retained  watermark.Watermark
	gaps      int
	pageErr   error
	blobHook  func(ctx context.Context, id blob.ID) error
	version   string

	pageCalls   int
	blobFetches map[blob.ID]int
	refCalls    int
}

type Option interface {
	apply(*Remote)
}
type optionFunc func(*Remote)

func (f optionFunc) apply(r *Remote) { f(r) }

// WithLogEnd sets the cursor reported for pages without operations.
func WithLogEnd(w watermark.Watermark) Option {
	return optionFunc(func(r *Remote) {
		r.logEnd = w
	})
}

// WithRetainedFrom makes page requests for cursors before w report a log
// gap pointing at the latest snapshot.
func WithRetainedFrom(w watermark.Watermark) Option {
	return optionFunc(func(r *Remote) {
		r.retained = w
	})
}

// WithLogGaps makes the next n page requests report a log gap regardless
// of the cursor.
func WithLogGaps(n int) Option {
	return optionFunc(func(r *Remote) {
		r.gaps = n
	})
}

// WithPageError makes every page request fail with err.
func WithPageError(err error) Option {
	return optionFunc(func(r *Remote) {
		r.pageErr = err
	})
}

// WithBlobHook calls f before serving every blob. A non nil error is
// returned to the caller instead of the blob.
func WithBlobHook(f func(ctx context.Context, id blob.ID) error) Option {
	return optionFunc(func(r *Remote) {
		r.blobHook = f
	})
}

// WithVersion sets the reported protocol version.
func WithVersion(v string) Option {
	return optionFunc(func(r *Remote) {
		r.version = v
	})
}

func New(opts ...Option) *Remote {
	r := &Remote{
		blobs:       make(map[blob.ID][]byte),
		refs:        make(map[blob.ID][]remote.Reference),
		refErrs:     make(map[blob.ID]error),
		blobErrs:    make(map[blob.ID][]error),
		snapshots:   make(map[blob.ID]snapshot),
		blobFetches: make(map[blob.ID]int),
		version:     "1.2.0",
	}
	for _, o := range opts {
		o.apply(r)
	}
	return r
}

// AddBlob stores data and returns its id.
func (r *Remote) AddBlob(data []byte) blob.ID {
	id := blob.Hash(data)
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.blobs[id] = data
	return id
}

// AddObject stores the object blob and the list of blobs it references.
func (r *Remote) AddObject(data []byte, refs ...remote.Reference) blob.ID {
	id := r.AddBlob(data)
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.refs[id] = refs
	return id
}

// SetReferenceError makes resolving the references of id fail with err.
func (r *Remote) SetReferenceError(id blob.ID, err error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.refErrs[id] = err
}

// SetBlobErrors makes the next len(errs) fetches of id fail with the given
// errors in order.
func (r *Remote) SetBlobErrors(id blob.ID, errs ...error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.blobErrs[id] = append(r.blobErrs[id], errs...)
}

// CorruptBlob replaces the served content of id without changing its id.
func (r *Remote) CorruptBlob(id blob.ID, data []byte) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.blobs[id] = data
}

// AppendOps adds operations to the log. They must be in ascending order.
func (r *Remote) AppendOps(ops ...remote.Op) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.ops = append(r.ops, ops...)
}

// AddSnapshot publishes a snapshot of the given objects taken at w and
// makes it the latest one.
func (r *Remote) AddSnapshot(namespace string, w watermark.Watermark, objects ...remote.LiveObject) (blob.ID, error) {
	var buf bytes.Buffer
	if err := remote.WriteSnapshot(&buf, namespace, w, objects); err != nil {
		return blob.ZeroID, err
	}
	id := r.AddBlob(buf.Bytes())

	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.snapshots[id] = snapshot{
		desc:    remote.SnapshotDescriptor{ID: id, Namespace: namespace, Watermark: w},
		objects: objects,
	}
	r.latest = id
	return id, nil
}

func (r *Remote) GetLatestSnapshot(_ context.Context, _ string) (remote.SnapshotDescriptor, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.latest.IsZero() {
		return remote.SnapshotDescriptor{}, remote.ErrNoSnapshot
	}
	return r.snapshots[r.latest].desc, nil
}

func (r *Remote) GetSnapshot(_ context.Context, _ string, id blob.ID) (*remote.SnapshotReader, error) {
	r.mtx.Lock()
	data, ok := r.blobs[id]
	_, isSnapshot := r.snapshots[id]
	r.mtx.Unlock()
	if !ok || !isSnapshot {
		return nil, remote.ErrNoSnapshot
	}
	return remote.NewSnapshotReader(io.NopCloser(bytes.NewReader(data)))
}

func (r *Remote) GetIncrementalPage(_ context.Context, _ string, from watermark.Watermark, limit int) (remote.PageResult, error) {
	return r.page(from, limit)
}

func (r *Remote) GetOffsetPage(_ context.Context, _ string, from watermark.Watermark, limit int) (remote.PageResult, error) {
	return r.page(from, limit)
}

func (r *Remote) page(from watermark.Watermark, limit int) (remote.PageResult, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.pageCalls++
	if r.pageErr != nil {
		return remote.PageResult{}, r.pageErr
	}
	if r.gaps > 0 {
		r.gaps--
		return remote.LogGap(r.latest), nil
	}
	if !from.IsZero() && !r.retained.IsZero() && watermark.Less(from, r.retained) {
		return remote.LogGap(r.latest), nil
	}

	var ops []remote.Op
	more := false
	for _, op := range r.ops {
		if !watermark.Less(from, op.OrderKey) {
			continue
		}
		if limit > 0 && len(ops) == limit {
			more = true
			break
		}
		ops = append(ops, op)
	}

	next := from
	if len(ops) > 0 {
		next = ops[len(ops)-1].OrderKey
	} else if !r.logEnd.IsZero() {
		next = r.logEnd
	}
	return remote.PageResult{
		Status: remote.StatusOK,
		Ops:    ops,
		Next:   next,
		More:   more,
	}, nil
}

func (r *Remote) GetObjectReferences(_ context.Context, _ string, id blob.ID) ([]remote.Reference, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.refCalls++
	if err, ok := r.refErrs[id]; ok {
		return nil, err
	}
	refs, ok := r.refs[id]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return append([]remote.Reference(nil), refs...), nil
}

func (r *Remote) GetBlob(ctx context.Context, _ string, id blob.ID) (io.ReadCloser, int64, error) {
	r.mtx.Lock()
	hook := r.blobHook
	r.mtx.Unlock()

	if hook != nil {
		if err := hook(ctx, id); err != nil {
			return nil, 0, err
		}
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.blobFetches[id]++
	if errs := r.blobErrs[id]; len(errs) > 0 {
		r.blobErrs[id] = errs[1:]
		return nil, 0, errs[0]
	}
	data, ok := r.blobs[id]
	if !ok {
		return nil, 0, remote.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (r *Remote) Version(_ context.Context) (*semver.Version, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return semver.NewVersion(r.version)
}

// PageCalls returns the number of page requests served.
func (r *Remote) PageCalls() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.pageCalls
}

// BlobFetches returns how many times id was requested.
func (r *Remote) BlobFetches(id blob.ID) int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.blobFetches[id]
}

// TotalBlobFetches returns the number of blob requests served.
func (r *Remote) TotalBlobFetches() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	n := 0
	for _, c := range r.blobFetches {
		n += c
	}
	return n
}

// ReferenceCalls returns the number of reference lookups.
func (r *Remote) ReferenceCalls() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.refCalls
}
