// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import (
	"context"
	"fmt"

	"github.com/coreos/go-semver/semver"
	"github.com/ethersphere/mirror"
)

// CheckVersion returns true if the remote speaks a protocol version
// compatible with this client: the same major version and a minor version
// that is not older than ours.
func CheckVersion(ctx context.Context, c Interface) (ok bool, version string, err error) {
	v, err := c.Version(ctx)
	if err != nil {
		return false, "", fmt.Errorf("remote version: %w", err)
	}
	return IsCompatible(v), v.String(), nil
}

// IsCompatible checks v against the protocol version of this client.
func IsCompatible(v *semver.Version) bool {
	want := semver.New(mirror.RemoteAPIVersion)
	return v.Major == want.Major && !v.LessThan(semver.Version{Major: want.Major, Minor: want.Minor})
}
