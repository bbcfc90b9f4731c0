// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	blobmock "github.com/ethersphere/mirror/pkg/blobstore/mock"
	"github.com/ethersphere/mirror/pkg/blobsync"
	"github.com/ethersphere/mirror/pkg/coordinator"
	"github.com/ethersphere/mirror/pkg/debugapi"
	"github.com/ethersphere/mirror/pkg/leader"
	"github.com/ethersphere/mirror/pkg/logging"
	remotemock "github.com/ethersphere/mirror/pkg/remote/mock"
	"github.com/ethersphere/mirror/pkg/replicator"
	wmmock "github.com/ethersphere/mirror/pkg/watermark/mock"
	"github.com/spf13/afero"
	"resenje.org/web"
)

type testServerOptions struct {
	// Coordinator is injected with Configure when set.
	Coordinator debugapi.Coordinator
}

func newTestServer(t *testing.T, o testServerOptions) *http.Client {
	t.Helper()

	s := debugapi.New(debugapi.Options{
		Logger: logging.New(io.Discard, 0),
	})
	if o.Coordinator != nil {
		s.Configure(o.Coordinator)
	}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	return &http.Client{
		Transport: web.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			u, err := url.Parse(ts.URL + r.URL.String())
			if err != nil {
				return nil, err
			}
			r.URL = u
			return ts.Client().Transport.RoundTrip(r)
		}),
	}
}

type testReplicator struct {
	*replicator.Replicator
	remote *remotemock.Remote
	marks  *wmmock.Store
}

func newTestReplicator(t *testing.T, name string, opts ...remotemock.Option) testReplicator {
	t.Helper()

	r := remotemock.New(opts...)
	marks := wmmock.NewStore()
	blobs, err := blobsync.New(r, blobmock.New(), blobsync.Options{
		Name:            name,
		Fs:              afero.NewMemMapFs(),
		NotFoundBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := replicator.New(replicator.Options{
		Config: replicator.Config{
			Name:           name,
			Namespace:      "images",
			RemoteEndpoint: "http://peer.test",
			SkipSnapshot:   true,
		},
		Remote:     r,
		Blobs:      blobs,
		Watermarks: marks,
	})
	if err != nil {
		t.Fatal(err)
	}
	return testReplicator{Replicator: rep, remote: r, marks: marks}
}

func newTestCoordinator(t *testing.T, l leader.Interface, rs ...testReplicator) *coordinator.Coordinator {
	t.Helper()

	o := coordinator.Options{
		Leader:   l,
		Interval: time.Hour,
		Logger:   logging.New(io.Discard, 0),
	}
	for _, r := range rs {
		o.Replicators = append(o.Replicators, r.Replicator)
	}
	c, err := coordinator.New(o)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}
