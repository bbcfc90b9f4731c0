// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blobstore defines the local content addressed store that
// replication writes into.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethersphere/mirror/pkg/blob"
)

var (
	// ErrNotFound is returned by Get for unknown blobs.
	ErrNotFound = errors.New("blobstore: not found")
	// ErrInvalidNamespace is returned for namespaces that can not be used
	// as a storage location.
	ErrInvalidNamespace = errors.New("blobstore: invalid namespace")
)

// Store is the local blob store. Implementations must accept concurrent
// writes of the same blob; since blobs are addressed by content the last
// write wins.
type Store interface {
	Exists(ctx context.Context, namespace string, id blob.ID) (bool, error)
	// Put stores the content read from r under id. Content that does not
	// hash to id is rejected with blob.ErrHashMismatch.
	Put(ctx context.Context, namespace string, id blob.ID, r io.Reader) error
	// FilterUnknown returns the ids that are not present in the store, in
	// the order they were given.
	FilterUnknown(ctx context.Context, namespace string, ids []blob.ID) ([]blob.ID, error)
	Get(ctx context.Context, namespace string, id blob.ID) (io.ReadCloser, error)
}

// ValidateNamespace rejects namespaces that would escape the store root.
func ValidateNamespace(namespace string) error {
	if namespace == "" || namespace == "." || namespace == ".." || strings.ContainsAny(namespace, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
	}
	return nil
}

// FilterUnknown implements Store.FilterUnknown on top of Exists.
func FilterUnknown(ctx context.Context, s Store, namespace string, ids []blob.ID) ([]blob.ID, error) {
	var unknown []blob.ID
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := s.Exists(ctx, namespace, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			unknown = append(unknown, id)
		}
	}
	return unknown, nil
}
