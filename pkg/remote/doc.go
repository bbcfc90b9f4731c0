// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package remote contains the client side of the replication protocol that is
used to pull the content of a namespace from a peer store.

The peer exposes a point-in-time snapshot of the live objects of a namespace
and a paginated log of changes. A replicator bootstraps from the latest
snapshot with `GetLatestSnapshot` and `GetSnapshot`, then tails the change log
with `GetIncrementalPage`, or `GetOffsetPage` against peers that only speak
the legacy offset protocol. Blob content and the reference lists of objects
are fetched with `GetBlob` and `GetObjectReferences`.

When the requested cursor is older than the log the peer retains, the page
result carries StatusLogGap and the id of a fresh snapshot blob instead of
operations.
*/
package remote
