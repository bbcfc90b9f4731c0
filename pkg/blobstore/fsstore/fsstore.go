// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fsstore stores blobs as files, one directory per namespace with
// a level of fan-out directories named after the first two characters of
// the blob id.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethersphere/mirror/pkg/blob"
	"github.com/ethersphere/mirror/pkg/blobstore"
	"github.com/spf13/afero"
)

var _ blobstore.Store = (*Store)(nil)

// Store is a blobstore.Store on an afero file system.
type Store struct {
	fs   afero.Fs
	root string
}

// New returns a store rooted at dir on fs. Use afero.NewOsFs for the local
// disk and afero.NewMemMapFs in tests.
func New(fs afero.Fs, dir string) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob store root: %w", err)
	}
	return &Store{fs: fs, root: dir}, nil
}

func (s *Store) path(namespace string, id blob.ID) (string, error) {
	if err := blobstore.ValidateNamespace(namespace); err != nil {
		return "", err
	}
	if _, err := blob.ParseID(id.String()); err != nil {
		return "", err
	}
	return filepath.Join(s.root, namespace, string(id[:2]), id.String()), nil
}

func (s *Store) Exists(_ context.Context, namespace string, id blob.ID) (bool, error) {
	p, err := s.path(namespace, id)
	if err != nil {
		return false, err
	}
	_, err = s.fs.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	}
	return false, err
}

// Put writes to a temporary file in the target directory and renames it
// into place once the content is verified.
func (s *Store) Put(ctx context.Context, namespace string, id blob.ID, r io.Reader) (err error) {
	p, err := s.path(namespace, id)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := afero.TempFile(s.fs, dir, "."+id.Short()+"-*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = s.fs.Remove(tmp)
		}
	}()

	h := blob.NewHasher()
	if _, err = io.Copy(io.MultiWriter(f, h), &ctxReader{ctx: ctx, r: r}); err != nil {
		return err
	}
	if err = blob.Verify(id, h); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return s.fs.Rename(tmp, p)
}

func (s *Store) FilterUnknown(ctx context.Context, namespace string, ids []blob.ID) ([]blob.ID, error) {
	return blobstore.FilterUnknown(ctx, s, namespace, ids)
}

func (s *Store) Get(_ context.Context, namespace string, id blob.ID) (io.ReadCloser, error) {
	p, err := s.path(namespace, id)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, blobstore.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// ctxReader stops a copy when the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
