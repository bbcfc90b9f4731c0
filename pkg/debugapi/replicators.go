// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ethersphere/mirror/pkg/coordinator"
	"github.com/ethersphere/mirror/pkg/jsonhttp"
	"github.com/ethersphere/mirror/pkg/replicator"
	"github.com/ethersphere/mirror/pkg/watermark"
	"github.com/gorilla/mux"
)

const maxRequestSize = 1024

type ReplicatorResponse struct {
	Name        string     `json:"name"`
	Namespace   string     `json:"namespace"`
	Protocol    string     `json:"protocol"`
	Running     bool       `json:"running"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
	LastRunID   string     `json:"lastRunId,omitempty"`
	LastRunTook string     `json:"lastRunTook,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	InFlight    int        `json:"inFlight"`
	Watermark   string     `json:"watermark"`
}

type ReplicatorsResponse struct {
	Leader      bool                 `json:"leader"`
	Enabled     bool                 `json:"enabled"`
	Replicators []ReplicatorResponse `json:"replicators"`
}

type ReplicationRequest struct {
	Enabled *bool `json:"enabled"`
}

type ReplicationResponse struct {
	Enabled bool `json:"enabled"`
	Leader  bool `json:"leader"`
}

type TriggerResponse struct {
	Started bool `json:"started"`
}

type StopResponse struct {
	Stopped bool `json:"stopped"`
}

type WatermarkRequest struct {
	Watermark string `json:"watermark"`
}

type WatermarkResponse struct {
	Watermark string `json:"watermark"`
}

func newReplicatorResponse(s replicator.Status) ReplicatorResponse {
	r := ReplicatorResponse{
		Name:      s.Name,
		Namespace: s.Namespace,
		Protocol:  string(s.Protocol),
		Running:   s.Running,
		LastRunID: s.LastRunID,
		LastError: s.LastError,
		InFlight:  s.InFlight,
		Watermark: s.Watermark.String(),
	}
	if !s.LastRunAt.IsZero() {
		t := s.LastRunAt.UTC()
		r.LastRunAt = &t
		r.LastRunTook = s.LastRunTook.String()
	}
	return r
}

func (s *Service) replicatorsHandler(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.coordinator.Statuses(r.Context())
	if err != nil {
		s.Logger.Debugf("debug api: replicators: %v", err)
		s.Logger.Error("debug api: replicators: cannot get status")
		jsonhttp.InternalServerError(w, "cannot get status")
		return
	}

	resp := ReplicatorsResponse{
		Leader:      s.coordinator.IsLeader(),
		Enabled:     s.coordinator.Enabled(),
		Replicators: make([]ReplicatorResponse, 0, len(statuses)),
	}
	for _, st := range statuses {
		resp.Replicators = append(resp.Replicators, newReplicatorResponse(st))
	}
	jsonhttp.OK(w, resp)
}

// lookup responds with not found if the replicator in the path does not
// exist.
func (s *Service) lookup(w http.ResponseWriter, r *http.Request) (coordinator.Replicator, bool) {
	name := mux.Vars(r)["name"]
	rep, err := s.coordinator.Replicator(name)
	if err != nil {
		if errors.Is(err, coordinator.ErrUnknownReplicator) {
			jsonhttp.NotFound(w, "unknown replicator")
			return nil, false
		}
		s.Logger.Debugf("debug api: replicator %s: %v", name, err)
		jsonhttp.InternalServerError(w, nil)
		return nil, false
	}
	return rep, true
}

func (s *Service) replicatorHandler(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}
	st, err := rep.Status(r.Context())
	if err != nil {
		s.Logger.Debugf("debug api: replicator %s: status: %v", rep.Name(), err)
		s.Logger.Errorf("debug api: replicator %s: cannot get status", rep.Name())
		jsonhttp.InternalServerError(w, "cannot get status")
		return
	}
	jsonhttp.OK(w, newReplicatorResponse(st))
}

func (s *Service) triggerHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	started, err := s.coordinator.Trigger(r.Context(), name)
	switch {
	case errors.Is(err, coordinator.ErrUnknownReplicator):
		jsonhttp.NotFound(w, "unknown replicator")
		return
	case errors.Is(err, coordinator.ErrNotLeader):
		jsonhttp.ServiceUnavailable(w, "not the leader")
		return
	case err != nil:
		s.Logger.Debugf("debug api: trigger %s: %v", name, err)
		jsonhttp.InternalServerError(w, nil)
		return
	}
	if !started {
		jsonhttp.Conflict(w, "run in progress")
		return
	}
	jsonhttp.Accepted(w, TriggerResponse{Started: true})
}

func (s *Service) stopHandler(w http.ResponseWriter, r *http.Request) {
	stopped, err := s.coordinator.Stop(mux.Vars(r)["name"])
	if err != nil {
		if errors.Is(err, coordinator.ErrUnknownReplicator) {
			jsonhttp.NotFound(w, "unknown replicator")
			return
		}
		jsonhttp.InternalServerError(w, nil)
		return
	}
	jsonhttp.OK(w, StopResponse{Stopped: stopped})
}

func (s *Service) deleteStateHandler(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := rep.DeleteState(r.Context()); err != nil {
		if errors.Is(err, replicator.ErrRunning) {
			jsonhttp.Conflict(w, "run in progress")
			return
		}
		s.Logger.Debugf("debug api: replicator %s: delete state: %v", rep.Name(), err)
		s.Logger.Errorf("debug api: replicator %s: cannot delete state", rep.Name())
		jsonhttp.InternalServerError(w, "cannot delete state")
		return
	}
	s.Logger.Infof("debug api: replicator %s: state deleted", rep.Name())
	jsonhttp.OK(w, nil)
}

func (s *Service) setWatermarkHandler(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if jsonhttp.HandleBodyReadError(err, w) {
			return
		}
		jsonhttp.InternalServerError(w, "cannot read request")
		return
	}
	var req WatermarkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		jsonhttp.BadRequest(w, "invalid request body")
		return
	}
	wm, err := watermark.Parse(req.Watermark)
	if err != nil {
		jsonhttp.BadRequest(w, "invalid watermark")
		return
	}

	if err := rep.SetWatermark(r.Context(), wm); err != nil {
		if errors.Is(err, replicator.ErrRunning) {
			jsonhttp.Conflict(w, "run in progress")
			return
		}
		s.Logger.Debugf("debug api: replicator %s: set watermark: %v", rep.Name(), err)
		s.Logger.Errorf("debug api: replicator %s: cannot set watermark", rep.Name())
		jsonhttp.InternalServerError(w, "cannot set watermark")
		return
	}
	s.Logger.Infof("debug api: replicator %s: watermark set to %q", rep.Name(), wm)
	jsonhttp.OK(w, WatermarkResponse{Watermark: wm.String()})
}

func (s *Service) replicationHandler(w http.ResponseWriter, _ *http.Request) {
	jsonhttp.OK(w, ReplicationResponse{
		Enabled: s.coordinator.Enabled(),
		Leader:  s.coordinator.IsLeader(),
	})
}

func (s *Service) setReplicationHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if jsonhttp.HandleBodyReadError(err, w) {
			return
		}
		jsonhttp.InternalServerError(w, "cannot read request")
		return
	}
	var req ReplicationRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Enabled == nil {
		jsonhttp.BadRequest(w, "invalid request body")
		return
	}

	s.coordinator.SetEnabled(*req.Enabled)
	jsonhttp.OK(w, ReplicationResponse{
		Enabled: s.coordinator.Enabled(),
		Leader:  s.coordinator.IsLeader(),
	})
}
