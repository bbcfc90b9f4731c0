// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi_test

import (
	"net/http"
	"testing"

	"github.com/ethersphere/mirror"
	"github.com/ethersphere/mirror/pkg/debugapi"
	"github.com/ethersphere/mirror/pkg/jsonhttp"
	"github.com/ethersphere/mirror/pkg/jsonhttp/jsonhttptest"
	"github.com/ethersphere/mirror/pkg/leader"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	client := newTestServer(t, testServerOptions{})

	jsonhttptest.Request(t, client, http.MethodGet, "/health", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(debugapi.StatusResponse{
			Status:           "ok",
			Version:          mirror.Version,
			RemoteAPIVersion: mirror.RemoteAPIVersion,
		}),
	)
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()

		client := newTestServer(t, testServerOptions{})

		jsonhttptest.Request(t, client, http.MethodGet, "/readiness", http.StatusNotFound,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Message: http.StatusText(http.StatusNotFound),
				Code:    http.StatusNotFound,
			}),
		)
	})

	t.Run("configured", func(t *testing.T) {
		t.Parallel()

		client := newTestServer(t, testServerOptions{
			Coordinator: newTestCoordinator(t, leader.NewStatic(false)),
		})

		isLeader := false
		jsonhttptest.Request(t, client, http.MethodGet, "/readiness", http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(debugapi.StatusResponse{
				Status:  "ok",
				Version: mirror.Version,
				Leader:  &isLeader,
			}),
		)
	})
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	client := newTestServer(t, testServerOptions{})

	var body []byte
	jsonhttptest.Request(t, client, http.MethodGet, "/metrics", http.StatusOK,
		jsonhttptest.WithPutResponseBody(&body),
	)
	if len(body) == 0 {
		t.Fatal("empty metrics response")
	}
}
