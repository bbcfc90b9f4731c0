// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package node defines the concept of a mirror node by bootstrapping and
// injecting all necessary dependencies.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethersphere/mirror/pkg/blobsync"
	"github.com/ethersphere/mirror/pkg/coordinator"
	"github.com/ethersphere/mirror/pkg/debugapi"
	"github.com/ethersphere/mirror/pkg/leader"
	"github.com/ethersphere/mirror/pkg/leader/zookeeper"
	"github.com/ethersphere/mirror/pkg/logging"
	"github.com/ethersphere/mirror/pkg/remote"
	"github.com/ethersphere/mirror/pkg/replicator"
	"github.com/ethersphere/mirror/pkg/tracing"
	"github.com/ethersphere/mirror/pkg/watermark"
	"github.com/ethersphere/mirror/pkg/watermark/redis"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Mirror struct {
	apiServer          *http.Server
	apiAddr            net.Addr
	coordinator        *coordinator.Coordinator
	leaderCloser       io.Closer
	sharedCloser       io.Closer
	errorLogWriter     *io.PipeWriter
	tracerCloser       io.Closer
	stateStoreCloser   io.Closer
	shutdownInProgress bool
	shutdownMutex      sync.Mutex
}

type Options struct {
	DataDir            string
	APIAddr            string
	CORSAllowedOrigins []string
	Logger             logging.Logger
	TracingEnabled     bool
	TracingEndpoint    string
	TracingServiceName string
	TracingSampleRate  float64
	Replicators        []replicator.Config
	PollInterval       time.Duration
	ReplicationEnabled bool
	RedisAddr          string
	RedisDB            int
	RedisKeyPrefix     string
	ZookeeperServers   []string
	ZookeeperPath      string
	NodeID             string
	RemoteRateLimit    float64
	RemoteBurst        int
	BlobCacheSize      int
	SpillThreshold     int64
	NotFoundBackoff    time.Duration
}

const versionCheckTimeout = 10 * time.Second

var ErrShutdownInProgress = errors.New("shutdown in progress")

func NewMirror(o Options) (_ *Mirror, err error) {
	start := time.Now()
	logger := o.Logger

	tracer, tracerCloser, err := tracing.NewTracer(&tracing.Options{
		Enabled:     o.TracingEnabled,
		Endpoint:    o.TracingEndpoint,
		ServiceName: o.TracingServiceName,
		SampleRate:  o.TracingSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}

	m := &Mirror{
		errorLogWriter: logger.WriterLevel(logrus.ErrorLevel),
		tracerCloser:   tracerCloser,
	}
	defer func() {
		if err != nil {
			if serr := m.Shutdown(); serr != nil {
				logger.Debugf("shutdown after failed start: %v", serr)
			}
		}
	}()

	metrics := newMetrics()

	var apiService *debugapi.Service
	if o.APIAddr != "" {
		// set up basic debug api endpoints for debugging and /health endpoint
		apiService = debugapi.New(debugapi.Options{
			Logger:             logger,
			Tracer:             tracer,
			CORSAllowedOrigins: o.CORSAllowedOrigins,
		})

		apiListener, err := net.Listen("tcp", o.APIAddr)
		if err != nil {
			return nil, fmt.Errorf("api listener: %w", err)
		}

		m.apiServer = &http.Server{
			IdleTimeout:       30 * time.Second,
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           apiService,
			ErrorLog:          log.New(m.errorLogWriter, "", 0),
		}
		m.apiAddr = apiListener.Addr()

		go func() {
			logger.Infof("api address: %s", apiListener.Addr())

			if err := m.apiServer.Serve(apiListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Debugf("api server: %v", err)
				logger.Error("unable to serve api")
			}
		}()

		apiService.MustRegisterMetrics(logger.Metrics()...)
		apiService.MustRegisterMetrics(Metrics(metrics)...)
	}

	stateStore, err := InitStateStore(logger, o.DataDir)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	m.stateStoreCloser = stateStore

	var shared watermark.Shared
	if o.RedisAddr != "" {
		s := redis.New(o.RedisAddr, o.RedisDB, o.RedisKeyPrefix)
		m.sharedCloser = s

		ctx, cancel := context.WithTimeout(context.Background(), versionCheckTimeout)
		err := s.Ping(ctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis %s: %w", o.RedisAddr, err)
		}
		logger.Infof("sharing watermarks through redis %s", o.RedisAddr)
		shared = s
	}

	blobStore, fs, err := InitBlobStore(logger, o.DataDir)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	spillDir := ""
	if o.DataDir != "" {
		spillDir = filepath.Join(o.DataDir, "spill")
		if err := fs.MkdirAll(spillDir, 0o755); err != nil {
			return nil, fmt.Errorf("spill directory: %w", err)
		}
	}

	clients := make(map[string]*remote.Client)
	var replicators []coordinator.Replicator
	for _, c := range o.Replicators {
		client, err := remote.NewClient(c.RemoteEndpoint, remote.Options{
			RateLimit: o.RemoteRateLimit,
			Burst:     o.RemoteBurst,
			Tracer:    tracer,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("replicator %s: %w", c.Name, err)
		}
		// replicators of the same endpoint share its client and rate limit
		if shared, ok := clients[client.Endpoint()]; ok {
			client = shared
		} else {
			if err := checkRemote(logger, client, metrics); err != nil {
				return nil, err
			}
			clients[client.Endpoint()] = client
			if apiService != nil {
				apiService.MustRegisterMetrics(client.Metrics()...)
			}
		}

		blobs, err := blobsync.New(client, blobStore, blobsync.Options{
			Name:            c.Name,
			Logger:          logger,
			Fs:              fs,
			SpillDir:        spillDir,
			SpillThreshold:  o.SpillThreshold,
			NotFoundBackoff: o.NotFoundBackoff,
			CacheSize:       o.BlobCacheSize,
		})
		if err != nil {
			return nil, fmt.Errorf("replicator %s: %w", c.Name, err)
		}

		r, err := replicator.New(replicator.Options{
			Config:     c,
			Remote:     client,
			Blobs:      blobs,
			Watermarks: watermark.NewStore(c.Name, stateStore, shared),
			Logger:     logger,
			Tracer:     tracer,
		})
		if err != nil {
			return nil, err
		}
		replicators = append(replicators, r)

		if apiService != nil {
			apiService.MustRegisterMetrics(blobs.Metrics()...)
			apiService.MustRegisterMetrics(r.Metrics()...)
		}
		logger.Infof("replicator %s: namespace %s from %s", c.Name, c.Namespace, client.Endpoint())
	}

	var elector leader.Interface = leader.NewStatic(true)
	if len(o.ZookeeperServers) > 0 {
		e, err := zookeeper.New(zookeeper.Options{
			Servers: o.ZookeeperServers,
			Path:    o.ZookeeperPath,
			NodeID:  o.NodeID,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("leader election: %w", err)
		}
		m.leaderCloser = e
		elector = e
		logger.Infof("leader election through zookeeper %s as %q", o.ZookeeperPath, o.NodeID)
	}

	m.coordinator, err = coordinator.New(coordinator.Options{
		Replicators: replicators,
		Leader:      elector,
		Interval:    o.PollInterval,
		Disabled:    !o.ReplicationEnabled,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	m.coordinator.Start()

	if apiService != nil {
		apiService.MustRegisterMetrics(m.coordinator.Metrics()...)
		// inject dependencies and configure full debug api http path routes
		apiService.Configure(m.coordinator)
	}

	metrics.StartupDuration.Observe(time.Since(start).Seconds())
	return m, nil
}

// checkRemote refuses remotes with an incompatible protocol version. An
// unreachable remote is accepted, runs retry on every tick.
func checkRemote(logger logging.Logger, c *remote.Client, metrics nodeMetrics) error {
	ctx, cancel := context.WithTimeout(context.Background(), versionCheckTimeout)
	defer cancel()

	ok, version, err := remote.CheckVersion(ctx, c)
	if err != nil {
		logger.Warningf("remote %s: cannot check protocol version: %v", c.Endpoint(), err)
		return nil
	}
	if !ok {
		metrics.IncompatibleRemotes.Inc()
		return fmt.Errorf("remote %s: incompatible protocol version %s", c.Endpoint(), version)
	}
	logger.Debugf("remote %s: protocol version %s", c.Endpoint(), version)
	return nil
}

// APIAddr returns the address the operator API listens on.
func (m *Mirror) APIAddr() net.Addr {
	return m.apiAddr
}

func (m *Mirror) Shutdown() error {
	var mErr error

	// if a shutdown is already in process, return here
	m.shutdownMutex.Lock()
	if m.shutdownInProgress {
		m.shutdownMutex.Unlock()
		return ErrShutdownInProgress
	}
	m.shutdownInProgress = true
	m.shutdownMutex.Unlock()

	// tryClose is a convenient closure which decrease
	// repetitive io.Closer tryClose procedure.
	tryClose := func(c io.Closer, errMsg string) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", errMsg, err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var eg errgroup.Group
	if m.apiServer != nil {
		eg.Go(func() error {
			if err := m.apiServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
	}
	if m.coordinator != nil {
		// cancels and awaits all runs, committed watermarks stay valid
		eg.Go(func() error {
			if err := m.coordinator.Close(); err != nil {
				return fmt.Errorf("coordinator: %w", err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		mErr = multierror.Append(mErr, err)
	}

	tryClose(m.leaderCloser, "leader election")
	tryClose(m.sharedCloser, "shared watermarks")
	tryClose(m.tracerCloser, "tracer")
	tryClose(m.stateStoreCloser, "statestore")
	tryClose(m.errorLogWriter, "error log writer")

	return mErr
}
