// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/ethersphere/mirror/pkg/blob"
	"github.com/ethersphere/mirror/pkg/debugapi"
	"github.com/ethersphere/mirror/pkg/jsonhttp"
	"github.com/ethersphere/mirror/pkg/jsonhttp/jsonhttptest"
	"github.com/ethersphere/mirror/pkg/leader"
	leadermock "github.com/ethersphere/mirror/pkg/leader/mock"
	"github.com/ethersphere/mirror/pkg/remote"
	remotemock "github.com/ethersphere/mirror/pkg/remote/mock"
	"github.com/ethersphere/mirror/pkg/spinlock"
	"github.com/ethersphere/mirror/pkg/watermark"
	"go.uber.org/atomic"
)

func TestReplicators(t *testing.T) {
	t.Parallel()

	a := newTestReplicator(t, "a")
	b := newTestReplicator(t, "b")
	if err := b.marks.Save(context.Background(), watermark.Watermark{Generation: "g1", Bucket: 2, Sequence: 9}); err != nil {
		t.Fatal(err)
	}
	client := newTestServer(t, testServerOptions{
		Coordinator: newTestCoordinator(t, leader.NewStatic(true), b, a),
	})

	jsonhttptest.Request(t, client, http.MethodGet, "/replicators", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(debugapi.ReplicatorsResponse{
			Leader:  true,
			Enabled: true,
			Replicators: []debugapi.ReplicatorResponse{
				{Name: "a", Namespace: "images", Protocol: "log"},
				{Name: "b", Namespace: "images", Protocol: "log", Watermark: "g1/2.9"},
			},
		}),
	)

	jsonhttptest.Request(t, client, http.MethodGet, "/replicators/b", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(debugapi.ReplicatorResponse{
			Name: "b", Namespace: "images", Protocol: "log", Watermark: "g1/2.9",
		}),
	)

	jsonhttptest.Request(t, client, http.MethodGet, "/replicators/c", http.StatusNotFound,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: "unknown replicator",
			Code:    http.StatusNotFound,
		}),
	)
}

func TestTriggerAndStop(t *testing.T) {
	t.Parallel()

	entered := atomic.NewInt32(0)
	rep := newTestReplicator(t, "a", remotemock.WithBlobHook(func(ctx context.Context, _ blob.ID) error {
		entered.Inc()
		<-ctx.Done()
		return ctx.Err()
	}))
	rep.remote.AppendOps(remote.Op{
		OrderKey: watermark.Watermark{Generation: "g1", Bucket: 1, Sequence: 1},
		Kind:     remote.OpAdd,
		ObjectID: rep.remote.AddObject([]byte("object")),
	})
	client := newTestServer(t, testServerOptions{
		Coordinator: newTestCoordinator(t, leader.NewStatic(true), rep),
	})

	jsonhttptest.Request(t, client, http.MethodPost, "/replicators/a/trigger", http.StatusAccepted,
		jsonhttptest.WithExpectedJSONResponse(debugapi.TriggerResponse{Started: true}),
	)
	if err := spinlock.Wait(5*time.Second, func() bool { return entered.Load() > 0 }); err != nil {
		t.Fatal("run did not start")
	}

	jsonhttptest.Request(t, client, http.MethodPost, "/replicators/a/trigger", http.StatusConflict,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: "run in progress",
			Code:    http.StatusConflict,
		}),
	)
	jsonhttptest.Request(t, client, http.MethodDelete, "/replicators/a/state", http.StatusConflict,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: "run in progress",
			Code:    http.StatusConflict,
		}),
	)
	jsonhttptest.Request(t, client, http.MethodPut, "/replicators/a/watermark", http.StatusConflict,
		jsonhttptest.WithJSONRequestBody(debugapi.WatermarkRequest{Watermark: "g1/1.5"}),
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: "run in progress",
			Code:    http.StatusConflict,
		}),
	)

	var running debugapi.ReplicatorResponse
	jsonhttptest.Request(t, client, http.MethodGet, "/replicators/a", http.StatusOK,
		jsonhttptest.WithUnmarshalResponse(&running),
	)
	if !running.Running || running.InFlight != 1 {
		t.Fatalf("got status %+v, want a running replicator with one operation in flight", running)
	}

	jsonhttptest.Request(t, client, http.MethodPost, "/replicators/a/stop", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(debugapi.StopResponse{Stopped: true}),
	)
	if err := spinlock.Wait(5*time.Second, func() bool {
		s, err := rep.Status(context.Background())
		return err == nil && !s.Running && !s.LastRunAt.IsZero()
	}); err != nil {
		t.Fatal("run did not stop")
	}
	rep.Wait()

	jsonhttptest.Request(t, client, http.MethodPut, "/replicators/a/watermark", http.StatusOK,
		jsonhttptest.WithJSONRequestBody(debugapi.WatermarkRequest{Watermark: "g1/1.5"}),
		jsonhttptest.WithExpectedJSONResponse(debugapi.WatermarkResponse{Watermark: "g1/1.5"}),
	)
	var stopped debugapi.ReplicatorResponse
	jsonhttptest.Request(t, client, http.MethodGet, "/replicators/a", http.StatusOK,
		jsonhttptest.WithUnmarshalResponse(&stopped),
	)
	if stopped.Running || stopped.LastRunAt == nil || stopped.LastError == "" || stopped.Watermark != "g1/1.5" {
		t.Fatalf("got status %+v", stopped)
	}

	jsonhttptest.Request(t, client, http.MethodDelete, "/replicators/a/state", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: http.StatusText(http.StatusOK),
			Code:    http.StatusOK,
		}),
	)
	if w, _ := rep.marks.Load(context.Background()); !w.IsZero() {
		t.Fatalf("got watermark %v after delete, want none", w)
	}
}

func TestTriggerErrors(t *testing.T) {
	t.Parallel()

	l := leadermock.New()
	client := newTestServer(t, testServerOptions{
		Coordinator: newTestCoordinator(t, l, newTestReplicator(t, "a")),
	})

	jsonhttptest.Request(t, client, http.MethodPost, "/replicators/a/trigger", http.StatusServiceUnavailable,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: "not the leader",
			Code:    http.StatusServiceUnavailable,
		}),
	)
	jsonhttptest.Request(t, client, http.MethodPost, "/replicators/b/trigger", http.StatusNotFound,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: "unknown replicator",
			Code:    http.StatusNotFound,
		}),
	)
	jsonhttptest.Request(t, client, http.MethodPost, "/replicators/b/stop", http.StatusNotFound,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: "unknown replicator",
			Code:    http.StatusNotFound,
		}),
	)
	jsonhttptest.Request(t, client, http.MethodGet, "/replicators/a/trigger", http.StatusMethodNotAllowed)
}

func TestSetWatermarkInvalid(t *testing.T) {
	t.Parallel()

	client := newTestServer(t, testServerOptions{
		Coordinator: newTestCoordinator(t, leader.NewStatic(true), newTestReplicator(t, "a")),
	})

	for _, tc := range []struct {
		name    string
		body    interface{}
		message string
	}{
		{name: "invalid watermark", body: debugapi.WatermarkRequest{Watermark: "g1-1-5"}, message: "invalid watermark"},
		{name: "invalid sequence", body: debugapi.WatermarkRequest{Watermark: "g1/1.x"}, message: "invalid watermark"},
		{name: "invalid body", body: []string{"g1/1.5"}, message: "invalid request body"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			jsonhttptest.Request(t, client, http.MethodPut, "/replicators/a/watermark", http.StatusBadRequest,
				jsonhttptest.WithJSONRequestBody(tc.body),
				jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
					Message: tc.message,
					Code:    http.StatusBadRequest,
				}),
			)
		})
	}
}

func TestReplication(t *testing.T) {
	t.Parallel()

	client := newTestServer(t, testServerOptions{
		Coordinator: newTestCoordinator(t, leader.NewStatic(true)),
	})

	jsonhttptest.Request(t, client, http.MethodGet, "/replication", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(debugapi.ReplicationResponse{Enabled: true, Leader: true}),
	)

	disabled := false
	jsonhttptest.Request(t, client, http.MethodPut, "/replication", http.StatusOK,
		jsonhttptest.WithJSONRequestBody(debugapi.ReplicationRequest{Enabled: &disabled}),
		jsonhttptest.WithExpectedJSONResponse(debugapi.ReplicationResponse{Enabled: false, Leader: true}),
	)

	jsonhttptest.Request(t, client, http.MethodPut, "/replication", http.StatusBadRequest,
		jsonhttptest.WithJSONRequestBody(struct{}{}),
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: "invalid request body",
			Code:    http.StatusBadRequest,
		}),
	)
}
