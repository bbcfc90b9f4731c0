// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import (
	"errors"
	"fmt"
	"io"

	"github.com/ethersphere/mirror/pkg/blob"
	"github.com/ethersphere/mirror/pkg/watermark"
	"github.com/vmihailenco/msgpack/v5"
)

// LiveObject is an entry of a snapshot listing.
type LiveObject struct {
	ObjectID    blob.ID `msgpack:"o"`
	PrimaryBlob blob.ID `msgpack:"b"`
}

type snapshotHeader struct {
	Namespace  string `msgpack:"ns"`
	Generation string `msgpack:"g"`
	Bucket     int64  `msgpack:"k"`
	Sequence   uint64 `msgpack:"s"`
}

// SnapshotReader lazily decodes a snapshot blob: a msgpack header followed
// by one LiveObject per live object, until the end of the stream.
type SnapshotReader struct {
	rc        io.ReadCloser
	dec       *msgpack.Decoder
	namespace string
	watermark watermark.Watermark
	count     int
}

// NewSnapshotReader reads the header of the snapshot in rc. The reader owns
// rc and closes it on Close.
func NewSnapshotReader(rc io.ReadCloser) (*SnapshotReader, error) {
	dec := msgpack.NewDecoder(rc)
	var h snapshotHeader
	if err := dec.Decode(&h); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("%w: snapshot header: %v", ErrMalformedResponse, err)
	}
	return &SnapshotReader{
		rc:        rc,
		dec:       dec,
		namespace: h.Namespace,
		watermark: watermark.Watermark{
			Generation: h.Generation,
			Bucket:     h.Bucket,
			Sequence:   h.Sequence,
		},
	}, nil
}

// Namespace returns the namespace the snapshot was taken of.
func (r *SnapshotReader) Namespace() string {
	return r.namespace
}

// Watermark returns the log position the snapshot is equivalent to.
func (r *SnapshotReader) Watermark() watermark.Watermark {
	return r.watermark
}

// Next returns the next live object or io.EOF after the last one.
func (r *SnapshotReader) Next() (LiveObject, error) {
	var o LiveObject
	if err := r.dec.Decode(&o); err != nil {
		if errors.Is(err, io.EOF) {
			return LiveObject{}, io.EOF
		}
		return LiveObject{}, fmt.Errorf("%w: snapshot entry %d: %v", ErrMalformedResponse, r.count, err)
	}
	r.count++
	return o, nil
}

// Count returns the number of objects read so far.
func (r *SnapshotReader) Count() int {
	return r.count
}

func (r *SnapshotReader) Close() error {
	return r.rc.Close()
}

// WriteSnapshot encodes a snapshot listing in the format read by
// SnapshotReader.
func WriteSnapshot(w io.Writer, namespace string, wm watermark.Watermark, objects []LiveObject) error {
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(snapshotHeader{
		Namespace:  namespace,
		Generation: wm.Generation,
		Bucket:     wm.Bucket,
		Sequence:   wm.Sequence,
	}); err != nil {
		return err
	}
	for _, o := range objects {
		if err := enc.Encode(o); err != nil {
			return err
		}
	}
	return nil
}
