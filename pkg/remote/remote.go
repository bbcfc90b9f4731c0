// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coreos/go-semver/semver"
	"github.com/ethersphere/mirror/pkg/blob"
	"github.com/ethersphere/mirror/pkg/watermark"
)

var (
	// ErrNotFound is returned when the remote does not know the object or blob.
	ErrNotFound = errors.New("remote: not found")
	// ErrBadRequest is returned when the remote refuses to resolve a request.
	ErrBadRequest = errors.New("remote: bad request")
	// ErrNoSnapshot is returned when the remote has no snapshot of a namespace.
	ErrNoSnapshot = errors.New("remote: no snapshot available")
	// ErrMalformedResponse is returned when a response can not be decoded.
	ErrMalformedResponse = errors.New("remote: malformed response")
)

// Interface is the replication protocol as seen by a replicator.
type Interface interface {
	// GetLatestSnapshot returns the descriptor of the newest snapshot of
	// the namespace or ErrNoSnapshot.
	GetLatestSnapshot(ctx context.Context, namespace string) (SnapshotDescriptor, error)
	// GetSnapshot opens the listing stored in a snapshot blob.
	GetSnapshot(ctx context.Context, namespace string, id blob.ID) (*SnapshotReader, error)
	// GetIncrementalPage returns up to limit log operations after the cursor
	// from. The zero watermark requests the current end of the log.
	GetIncrementalPage(ctx context.Context, namespace string, from watermark.Watermark, limit int) (PageResult, error)
	// GetOffsetPage is GetIncrementalPage for the legacy offset protocol.
	GetOffsetPage(ctx context.Context, namespace string, from watermark.Watermark, limit int) (PageResult, error)
	// GetObjectReferences returns the blobs an object needs. ErrNotFound and
	// ErrBadRequest mark objects that can not be resolved.
	GetObjectReferences(ctx context.Context, namespace string, id blob.ID) ([]Reference, error)
	// GetBlob streams blob content. The length is -1 if the remote did not
	// declare it.
	GetBlob(ctx context.Context, namespace string, id blob.ID) (io.ReadCloser, int64, error)
	// Version returns the protocol version of the remote.
	Version(ctx context.Context) (*semver.Version, error)
}

// OpKind is the kind of a change log operation.
type OpKind int

const (
	OpAdd OpKind = iota
	OpRemove
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// MarshalText encodes the kind as its name.
func (k OpKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes the kind from its name.
func (k *OpKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "add":
		*k = OpAdd
	case "remove":
		*k = OpRemove
	default:
		return fmt.Errorf("%w: unknown op kind %q", ErrMalformedResponse, b)
	}
	return nil
}

// Reference is a blob needed by an object.
type Reference struct {
	ID blob.ID `json:"id"`
	// Optional blobs may be missing from the remote without failing the
	// object they belong to.
	Optional bool `json:"optional,omitempty"`
}

// Op is a single change log record.
type Op struct {
	OrderKey watermark.Watermark `json:"orderKey"`
	Kind     OpKind              `json:"kind"`
	ObjectID blob.ID             `json:"objectId"`
	// References are the blobs of the object if the remote included them in
	// the page. When empty they are resolved with GetObjectReferences.
	References []Reference `json:"references,omitempty"`
}

// SnapshotDescriptor identifies a point-in-time listing of a namespace.
type SnapshotDescriptor struct {
	ID        blob.ID             `json:"id"`
	Namespace string              `json:"namespace"`
	Watermark watermark.Watermark `json:"watermark"`
}

// PageStatus tags the outcome of a page request.
type PageStatus int

const (
	StatusOK PageStatus = iota
	// StatusLogGap means the requested cursor is older than the retained
	// log. PageResult.SnapshotBlob names the snapshot to recover from.
	StatusLogGap
)

func (s PageStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusLogGap:
		return "log gap"
	}
	return fmt.Sprintf("PageStatus(%d)", int(s))
}

// PageResult is one page of the change log.
type PageResult struct {
	Status PageStatus
	Ops    []Op
	// Next is the cursor reported by the remote for the following page.
	Next watermark.Watermark
	// More is false when the remote has no further operations right now.
	More         bool
	SnapshotBlob blob.ID
}

// LogGap returns the page result signalling a log gap.
func LogGap(snapshot blob.ID) PageResult {
	return PageResult{Status: StatusLogGap, SnapshotBlob: snapshot}
}

// StatusError is an unexpected HTTP response status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("remote: %d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

// Transient reports whether the request may succeed if repeated.
func (e *StatusError) Transient() bool {
	switch e.Code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsTransient reports whether err is a transient gateway error.
func IsTransient(err error) bool {
	var e *StatusError
	return errors.As(err, &e) && e.Transient()
}
