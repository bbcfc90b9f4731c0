// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"

	"github.com/ethersphere/mirror"
	"github.com/ethersphere/mirror/pkg/jsonhttp"
)

type StatusResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	RemoteAPIVersion string `json:"remoteApiVersion,omitempty"`
	Leader           *bool  `json:"leader,omitempty"`
}

func (s *Service) healthHandler(w http.ResponseWriter, _ *http.Request) {
	jsonhttp.OK(w, StatusResponse{
		Status:           "ok",
		Version:          mirror.Version,
		RemoteAPIVersion: mirror.RemoteAPIVersion,
	})
}

func (s *Service) readinessHandler(w http.ResponseWriter, _ *http.Request) {
	leader := s.coordinator.IsLeader()
	jsonhttp.OK(w, StatusResponse{
		Status:  "ok",
		Version: mirror.Version,
		Leader:  &leader,
	})
}
