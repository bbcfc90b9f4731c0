// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replicator

import (
	"context"

	"github.com/ethersphere/mirror/pkg/blob"
	"github.com/ethersphere/mirror/pkg/remote"
	"github.com/ethersphere/mirror/pkg/watermark"
)

// BlobReplicator copies objects and blobs into the local store.
type BlobReplicator interface {
	ReplicateObject(ctx context.Context, namespace string, objectID blob.ID, refs []remote.Reference) error
	ReplicateBlobs(ctx context.Context, namespace string, ids []blob.ID) error
}

// OpSource is the change log a replicator tails.
type OpSource interface {
	// NextPage returns the operations after from.
	NextPage(ctx context.Context, from watermark.Watermark) (remote.PageResult, error)
	// Replicate applies one add operation to the local store.
	Replicate(ctx context.Context, op remote.Op) error
}

// NewOpSource returns the source for the configured protocol.
func NewOpSource(c Config, r remote.Interface, b BlobReplicator) OpSource {
	if c.Protocol == ProtocolOffset {
		return &offsetSource{namespace: c.Namespace, limit: c.MaxLogScanOffsets, remote: r, blobs: b}
	}
	return &logSource{namespace: c.Namespace, limit: c.MaxLogScanOffsets, remote: r, blobs: b}
}

// logSource tails the transaction log. Pages may carry the references of
// each object so that no extra lookup is needed.
type logSource struct {
	namespace string
	limit     int
	remote    remote.Interface
	blobs     BlobReplicator
}

func (s *logSource) NextPage(ctx context.Context, from watermark.Watermark) (remote.PageResult, error) {
	return s.remote.GetIncrementalPage(ctx, s.namespace, from, s.limit)
}

func (s *logSource) Replicate(ctx context.Context, op remote.Op) error {
	return s.blobs.ReplicateObject(ctx, s.namespace, op.ObjectID, op.References)
}

// offsetSource reads the legacy log, which only lists object ids. The
// references of every object are resolved from the remote.
type offsetSource struct {
	namespace string
	limit     int
	remote    remote.Interface
	blobs     BlobReplicator
}

func (s *offsetSource) NextPage(ctx context.Context, from watermark.Watermark) (remote.PageResult, error) {
	return s.remote.GetOffsetPage(ctx, s.namespace, from, s.limit)
}

func (s *offsetSource) Replicate(ctx context.Context, op remote.Op) error {
	return s.blobs.ReplicateObject(ctx, s.namespace, op.ObjectID, nil)
}
