// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blobsync makes remote objects and the blobs they reference
// present in the local blob store.
package blobsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ethersphere/mirror/pkg/blob"
	"github.com/ethersphere/mirror/pkg/blobstore"
	"github.com/ethersphere/mirror/pkg/logging"
	"github.com/ethersphere/mirror/pkg/remote"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"
	"resenje.org/singleflight"
)

const (
	defaultTransientRetries = 3
	defaultNotFoundRetries  = 3
	defaultNotFoundBackoff  = 5 * time.Second
	defaultParallel         = 4
	defaultCacheSize        = 100_000
	defaultSpillThreshold   = 4 << 20
)

// ErrBlobUnavailable is wrapped by BlobError.
var ErrBlobUnavailable = errors.New("blob unavailable")

// BlobError reports a required blob that could not be replicated after all
// retries. It fails the object that needs the blob but not the run.
type BlobError struct {
	Namespace string
	ID        blob.ID
	Err       error
}

func (e *BlobError) Error() string {
	return fmt.Sprintf("blob %s/%s unavailable: %v", e.Namespace, e.ID, e.Err)
}

func (e *BlobError) Unwrap() []error {
	return []error{ErrBlobUnavailable, e.Err}
}

// Options are the optional parameters of New.
type Options struct {
	// Name labels the metrics of this replicator.
	Name   string
	Logger logging.Logger
	// Fs holds spill files, it defaults to the OS file system.
	Fs afero.Fs
	// SpillDir is the directory of spill files, the default is the
	// system temporary directory.
	SpillDir string
	// SpillThreshold is the largest declared blob length buffered in
	// memory. Blobs of unknown length are always spilled.
	SpillThreshold   int64
	TransientRetries int
	NotFoundRetries  int
	NotFoundBackoff  time.Duration
	// Parallel bounds concurrent blob fetches of one object.
	Parallel  int
	CacheSize int
}

// Replicator copies objects from a remote into the local store.
type Replicator struct {
	remote remote.Interface
	store  blobstore.Store
	logger logging.Logger

	fs               afero.Fs
	spillDir         string
	spillThreshold   int64
	transientRetries int
	notFoundRetries  int
	notFoundBackoff  time.Duration
	parallel         int64

	known   *lru.Cache // namespace/id of blobs known to be stored locally
	flights singleflight.Group
	metrics metrics
}

// New returns a blob replicator that fetches from r and writes to s.
func New(r remote.Interface, s blobstore.Store, o Options) (*Replicator, error) {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.SpillThreshold <= 0 {
		o.SpillThreshold = defaultSpillThreshold
	}
	if o.TransientRetries <= 0 {
		o.TransientRetries = defaultTransientRetries
	}
	if o.NotFoundRetries <= 0 {
		o.NotFoundRetries = defaultNotFoundRetries
	}
	if o.NotFoundBackoff <= 0 {
		o.NotFoundBackoff = defaultNotFoundBackoff
	}
	if o.Parallel <= 0 {
		o.Parallel = defaultParallel
	}
	if o.CacheSize <= 0 {
		o.CacheSize = defaultCacheSize
	}
	if o.Logger == nil {
		o.Logger = logging.New(io.Discard, 0)
	}

	known, err := lru.New(o.CacheSize)
	if err != nil {
		return nil, err
	}

	return &Replicator{
		remote:           r,
		store:            s,
		logger:           o.Logger,
		fs:               o.Fs,
		spillDir:         o.SpillDir,
		spillThreshold:   o.SpillThreshold,
		transientRetries: o.TransientRetries,
		notFoundRetries:  o.NotFoundRetries,
		notFoundBackoff:  o.NotFoundBackoff,
		parallel:         int64(o.Parallel),
		known:            known,
		metrics:          newMetrics(prometheus.Labels{"replicator": o.Name}),
	}, nil
}

// ReplicateObject makes the object blob and all blobs it references present
// locally. When refs is nil the references are resolved from the remote;
// objects the remote can not resolve are skipped without an error.
func (r *Replicator) ReplicateObject(ctx context.Context, namespace string, objectID blob.ID, refs []remote.Reference) error {
	if refs == nil {
		var err error
		refs, err = r.remote.GetObjectReferences(ctx, namespace, objectID)
		switch {
		case errors.Is(err, remote.ErrNotFound), errors.Is(err, remote.ErrBadRequest):
			r.metrics.ObjectsSkipped.Inc()
			r.logger.Debugf("blobsync: skipping object %s/%s: %v", namespace, objectID, err)
			return nil
		case err != nil:
			return fmt.Errorf("object %s/%s references: %w", namespace, objectID, err)
		}
	}

	candidates := make([]remote.Reference, 0, len(refs)+1)
	candidates = append(candidates, remote.Reference{ID: objectID})
	candidates = append(candidates, refs...)

	if err := r.replicate(ctx, namespace, candidates); err != nil {
		return err
	}
	r.metrics.ObjectsReplicated.Inc()
	return nil
}

// ReplicateBlobs makes the given blobs present locally. All of them are
// required.
func (r *Replicator) ReplicateBlobs(ctx context.Context, namespace string, ids []blob.ID) error {
	refs := make([]remote.Reference, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, remote.Reference{ID: id})
	}
	return r.replicate(ctx, namespace, refs)
}

func (r *Replicator) replicate(ctx context.Context, namespace string, refs []remote.Reference) error {
	missing, err := r.missing(ctx, namespace, dedupe(refs))
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	var (
		sem  = semaphore.NewWeighted(r.parallel)
		wg   sync.WaitGroup
		mu   sync.Mutex
		merr *multierror.Error
	)
	for _, ref := range missing {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			merr = multierror.Append(merr, err)
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(ref remote.Reference) {
			defer wg.Done()
			defer sem.Release(1)

			err := r.fetch(ctx, namespace, ref.ID)
			if err == nil {
				return
			}
			if ctx.Err() != nil {
				mu.Lock()
				merr = multierror.Append(merr, ctx.Err())
				mu.Unlock()
				return
			}
			if ref.Optional {
				r.metrics.OptionalSkipped.Inc()
				r.logger.Warningf("blobsync: skipping optional blob %s/%s: %v", namespace, ref.ID, err)
				return
			}
			r.metrics.FetchFailures.Inc()
			mu.Lock()
			merr = multierror.Append(merr, &BlobError{Namespace: namespace, ID: ref.ID, Err: err})
			mu.Unlock()
		}(ref)
	}
	wg.Wait()

	return merr.ErrorOrNil()
}

// missing drops the blobs that are known to be stored locally.
func (r *Replicator) missing(ctx context.Context, namespace string, refs []remote.Reference) ([]remote.Reference, error) {
	ids := make([]blob.ID, 0, len(refs))
	byID := make(map[blob.ID]remote.Reference, len(refs))
	for _, ref := range refs {
		if r.known.Contains(cacheKey(namespace, ref.ID)) {
			r.metrics.BlobsKnown.Inc()
			continue
		}
		ids = append(ids, ref.ID)
		byID[ref.ID] = ref
	}
	if len(ids) == 0 {
		return nil, nil
	}

	unknown, err := r.store.FilterUnknown(ctx, namespace, ids)
	if err != nil {
		return nil, fmt.Errorf("filter known blobs: %w", err)
	}

	isUnknown := make(map[blob.ID]struct{}, len(unknown))
	for _, id := range unknown {
		isUnknown[id] = struct{}{}
	}
	missing := make([]remote.Reference, 0, len(unknown))
	for _, id := range ids {
		if _, ok := isUnknown[id]; !ok {
			r.metrics.BlobsKnown.Inc()
			r.known.Add(cacheKey(namespace, id), struct{}{})
			continue
		}
		missing = append(missing, byID[id])
	}
	return missing, nil
}

// fetch downloads one blob, sharing the download with concurrent callers
// asking for the same blob.
func (r *Replicator) fetch(ctx context.Context, namespace string, id blob.ID) error {
	key := cacheKey(namespace, id)
	_, shared, err := r.flights.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		if err := r.fetchWithRetry(ctx, namespace, id); err != nil {
			return nil, err
		}
		r.known.Add(key, struct{}{})
		return nil, nil
	})
	if shared {
		r.metrics.SharedFetches.Inc()
	}
	return err
}

func (r *Replicator) fetchWithRetry(ctx context.Context, namespace string, id blob.ID) error {
	var transient, notFound int
	for {
		err := r.fetchOnce(ctx, namespace, id)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, remote.ErrNotFound):
			if notFound >= r.notFoundRetries {
				return err
			}
			notFound++
			r.metrics.FetchRetries.Inc()
			r.logger.Tracef("blobsync: blob %s/%s not found, retry %d in %s", namespace, id.Short(), notFound, r.notFoundBackoff)
			if err := sleep(ctx, r.notFoundBackoff); err != nil {
				return err
			}
		case remote.IsTransient(err), errors.Is(err, blob.ErrHashMismatch):
			if transient >= r.transientRetries {
				return err
			}
			transient++
			r.metrics.FetchRetries.Inc()
			r.logger.Tracef("blobsync: blob %s/%s: %v, retry %d", namespace, id.Short(), err, transient)
		default:
			return err
		}
	}
}

func (r *Replicator) fetchOnce(ctx context.Context, namespace string, id blob.ID) error {
	rc, length, err := r.remote.GetBlob(ctx, namespace, id)
	if err != nil {
		return err
	}
	defer rc.Close()

	if length >= 0 && length <= r.spillThreshold {
		return r.putBuffered(ctx, namespace, id, rc, length)
	}
	return r.putSpilled(ctx, namespace, id, rc)
}

func (r *Replicator) putBuffered(ctx context.Context, namespace string, id blob.ID, rc io.Reader, length int64) error {
	buf := bytes.NewBuffer(make([]byte, 0, length))
	h := blob.NewHasher()
	n, err := io.Copy(io.MultiWriter(buf, h), rc)
	if err != nil {
		return err
	}
	if err := blob.Verify(id, h); err != nil {
		return err
	}
	if err := r.store.Put(ctx, namespace, id, buf); err != nil {
		return fmt.Errorf("store blob %s/%s: %w", namespace, id, err)
	}
	r.metrics.BlobsFetched.Inc()
	r.metrics.BytesFetched.Add(float64(n))
	return nil
}

func (r *Replicator) putSpilled(ctx context.Context, namespace string, id blob.ID, rc io.Reader) error {
	f, err := afero.TempFile(r.fs, r.spillDir, "mirror-spill-*")
	if err != nil {
		return fmt.Errorf("spill file: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = r.fs.Remove(f.Name())
	}()
	r.metrics.Spills.Inc()

	h := blob.NewHasher()
	n, err := io.Copy(io.MultiWriter(f, h), rc)
	if err != nil {
		return err
	}
	if err := blob.Verify(id, h); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := r.store.Put(ctx, namespace, id, f); err != nil {
		return fmt.Errorf("store blob %s/%s: %w", namespace, id, err)
	}
	r.metrics.BlobsFetched.Inc()
	r.metrics.BytesFetched.Add(float64(n))
	return nil
}

func dedupe(refs []remote.Reference) []remote.Reference {
	seen := make(map[blob.ID]int, len(refs))
	out := make([]remote.Reference, 0, len(refs))
	for _, ref := range refs {
		if i, ok := seen[ref.ID]; ok {
			// required wins over optional
			out[i].Optional = out[i].Optional && ref.Optional
			continue
		}
		seen[ref.ID] = len(out)
		out = append(out, ref)
	}
	return out
}

func cacheKey(namespace string, id blob.ID) string {
	return namespace + "/" + id.String()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
