// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/ethersphere/mirror/pkg/blob"
	"github.com/ethersphere/mirror/pkg/logging"
	"github.com/ethersphere/mirror/pkg/tracing"
	"github.com/ethersphere/mirror/pkg/watermark"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var _ Interface = (*Client)(nil)

// maxErrorBody limits how much of an unexpected response is kept in errors.
const maxErrorBody = 512

// Options configure the HTTP client.
type Options struct {
	// HTTPClient defaults to a client without a timeout, requests are
	// bounded by their context.
	HTTPClient *http.Client
	// RateLimit is the number of requests per second, zero disables
	// throttling.
	RateLimit float64
	Burst     int
	Tracer    *tracing.Tracer
	Logger    logging.Logger
}

// Client speaks the replication protocol over HTTP.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	tracer  *tracing.Tracer
	logger  logging.Logger
	metrics metrics
}

// NewClient returns a client for the remote at endpoint.
func NewClient(endpoint string, o Options) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("remote endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote endpoint %q: unsupported scheme", endpoint)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{
		base:    u,
		http:    o.HTTPClient,
		tracer:  o.Tracer,
		logger:  o.Logger,
		metrics: newMetrics(prometheus.Labels{"remote": u.String()}),
	}
	if c.http == nil {
		c.http = new(http.Client)
	}
	if o.RateLimit > 0 {
		burst := o.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(o.RateLimit), burst)
	}
	return c, nil
}

// Endpoint returns the base URL of the remote.
func (c *Client) Endpoint() string {
	return c.base.String()
}

type snapshotResponse struct {
	ID        blob.ID             `json:"id"`
	Namespace string              `json:"namespace"`
	Watermark watermark.Watermark `json:"watermark"`
}

func (c *Client) GetLatestSnapshot(ctx context.Context, namespace string) (SnapshotDescriptor, error) {
	var r snapshotResponse
	err := c.getJSON(ctx, "snapshot_latest", nsPath(namespace, "snapshots", "latest"), nil, &r)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return SnapshotDescriptor{}, ErrNoSnapshot
		}
		return SnapshotDescriptor{}, err
	}
	if r.ID.IsZero() {
		return SnapshotDescriptor{}, fmt.Errorf("%w: snapshot without id", ErrMalformedResponse)
	}
	if r.Namespace == "" {
		r.Namespace = namespace
	}
	return SnapshotDescriptor(r), nil
}

func (c *Client) GetSnapshot(ctx context.Context, namespace string, id blob.ID) (*SnapshotReader, error) {
	resp, err := c.do(ctx, "snapshot", nsPath(namespace, "snapshots", id.String()), nil)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	return NewSnapshotReader(resp.Body)
}

type pageResponse struct {
	Ops  []Op                `json:"ops"`
	Next watermark.Watermark `json:"next"`
	More bool                `json:"more"`
}

type gapResponse struct {
	Snapshot blob.ID `json:"snapshot"`
}

func (c *Client) GetIncrementalPage(ctx context.Context, namespace string, from watermark.Watermark, limit int) (PageResult, error) {
	q := url.Values{}
	q.Set("cursor", from.String())
	q.Set("limit", strconv.Itoa(limit))
	return c.getPage(ctx, "log", nsPath(namespace, "log"), q)
}

func (c *Client) GetOffsetPage(ctx context.Context, namespace string, from watermark.Watermark, limit int) (PageResult, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatUint(from.Sequence, 10))
	q.Set("generation", from.Generation)
	q.Set("limit", strconv.Itoa(limit))
	return c.getPage(ctx, "offsets", nsPath(namespace, "offsets"), q)
}

func (c *Client) getPage(ctx context.Context, endpoint, path string, q url.Values) (PageResult, error) {
	resp, err := c.do(ctx, endpoint, path, q)
	if err != nil {
		var se *StatusError
		if !errors.As(err, &se) || se.Code != http.StatusGone {
			return PageResult{}, err
		}
		var g gapResponse
		if jerr := json.Unmarshal([]byte(se.Message), &g); jerr != nil || g.Snapshot.IsZero() {
			return PageResult{}, fmt.Errorf("%w: log gap without snapshot", ErrMalformedResponse)
		}
		c.metrics.LogGaps.Inc()
		return LogGap(g.Snapshot), nil
	}
	defer resp.Body.Close()

	var p pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return PageResult{}, fmt.Errorf("%w: %s page: %v", ErrMalformedResponse, endpoint, err)
	}
	return PageResult{
		Status: StatusOK,
		Ops:    p.Ops,
		Next:   p.Next,
		More:   p.More,
	}, nil
}

type referencesResponse struct {
	References []Reference `json:"references"`
}

func (c *Client) GetObjectReferences(ctx context.Context, namespace string, id blob.ID) ([]Reference, error) {
	var r referencesResponse
	err := c.getJSON(ctx, "references", nsPath(namespace, "objects", id.String(), "references"), nil, &r)
	switch {
	case IsStatus(err, http.StatusNotFound):
		return nil, ErrNotFound
	case IsStatus(err, http.StatusBadRequest):
		return nil, ErrBadRequest
	case err != nil:
		return nil, err
	}
	return r.References, nil
}

func (c *Client) GetBlob(ctx context.Context, namespace string, id blob.ID) (io.ReadCloser, int64, error) {
	resp, err := c.do(ctx, "blob", nsPath(namespace, "blobs", id.String()), nil)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (c *Client) Version(ctx context.Context) (*semver.Version, error) {
	var r healthResponse
	if err := c.getJSON(ctx, "health", "/health", nil, &r); err != nil {
		return nil, err
	}
	v, err := semver.NewVersion(r.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", ErrMalformedResponse, r.Version, err)
	}
	return v, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, q url.Values, v interface{}) error {
	resp, err := c.do(ctx, endpoint, path, q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, endpoint, err)
	}
	return nil
}

// do issues a GET request and returns the response if its status is 200.
// The caller must close the body.
func (c *Client) do(ctx context.Context, endpoint, path string, q url.Values) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u := *c.base
	u.Path += path
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if err := c.tracer.InjectHTTPHeaders(ctx, req.Header); err != nil && !errors.Is(err, tracing.ErrContextNotFound) {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.Requests.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%s %s: %w", endpoint, u.Path, err)
	}
	c.metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	c.metrics.Requests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if c.logger != nil {
			c.logger.Tracef("remote: %s %s: status %d", endpoint, u.Path, resp.StatusCode)
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

func nsPath(namespace string, elem ...string) string {
	parts := make([]string, 0, len(elem)+2)
	parts = append(parts, "/v1/namespaces", url.PathEscape(namespace))
	for _, e := range elem {
		parts = append(parts, url.PathEscape(e))
	}
	return strings.Join(parts, "/")
}

// IsStatus reports whether err is an unexpected response with the given
// status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
