// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"path/filepath"

	"github.com/ethersphere/mirror/pkg/blobstore/fsstore"
	"github.com/ethersphere/mirror/pkg/logging"
	"github.com/ethersphere/mirror/pkg/statestore/leveldb"
	"github.com/spf13/afero"
)

// InitStateStore will initialize the state store with the given path to the
// data directory. When given an empty directory path, the function will
// instead initialize an in-memory state store that will not be persisted.
func InitStateStore(logger logging.Logger, dataDir string) (*leveldb.Store, error) {
	if dataDir == "" {
		logger.Warning("using in-mem state store, no watermarks will be persisted")
		return leveldb.NewInMemoryStateStore(logger)
	}
	return leveldb.NewStateStore(filepath.Join(dataDir, "statestore"), logger)
}

// InitBlobStore returns the local blob store under the data directory, or
// an in-memory one when no data directory is given.
func InitBlobStore(logger logging.Logger, dataDir string) (*fsstore.Store, afero.Fs, error) {
	if dataDir == "" {
		logger.Warning("using in-mem blob store, no blobs will be persisted")
		fs := afero.NewMemMapFs()
		s, err := fsstore.New(fs, "/blobs")
		return s, fs, err
	}
	fs := afero.NewOsFs()
	s, err := fsstore.New(fs, filepath.Join(dataDir, "blobs"))
	return s, fs, err
}
