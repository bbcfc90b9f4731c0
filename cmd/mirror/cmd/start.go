// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethersphere/mirror"
	"github.com/ethersphere/mirror/pkg/logging"
	"github.com/ethersphere/mirror/pkg/node"
	"github.com/ethersphere/mirror/pkg/replicator"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 2 * time.Minute

func (c *command) initStartCmd() (err error) {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start replicating from the configured remotes",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if len(args) > 0 {
				return cmd.Help()
			}

			logger, err := newLogger(cmd, c.config.GetString(optionNameVerbosity))
			if err != nil {
				return fmt.Errorf("new logger: %w", err)
			}

			replicators, err := replicator.LoadConfigs(c.config.GetString(optionNameReplicatorsFile))
			if err != nil {
				return fmt.Errorf("replicators: %w", err)
			}

			logger.Infof("version: %v", mirror.Version)

			m, err := node.NewMirror(nodeOptions(c, logger, replicators))
			if err != nil {
				return err
			}

			// Wait for termination or interrupt signals.
			// We want to clean up things at the end.
			interruptChannel := make(chan os.Signal, 1)
			signal.Notify(interruptChannel, syscall.SIGINT, syscall.SIGTERM)

			// Block main goroutine until it is interrupted
			sig := <-interruptChannel

			logger.Debugf("received signal: %v", sig)
			logger.Info("shutting down")

			// Shutdown
			done := make(chan struct{})
			go func() {
				defer close(done)

				if err := m.Shutdown(); err != nil {
					logger.Errorf("shutdown: %v", err)
				}
			}()

			// If shutdown function is blocking too long,
			// allow process termination by receiving another signal.
			select {
			case sig := <-interruptChannel:
				logger.Debugf("received signal: %v", sig)
			case <-time.After(shutdownTimeout):
				logger.Error("shutdown timed out")
			case <-done:
			}
			return nil
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setAllFlags(cmd)
	c.root.AddCommand(cmd)
	return nil
}

func nodeOptions(c *command, logger logging.Logger, replicators []replicator.Config) node.Options {
	return node.Options{
		DataDir:            c.config.GetString(optionNameDataDir),
		APIAddr:            c.config.GetString(optionNameAPIAddr),
		CORSAllowedOrigins: c.config.GetStringSlice(optionCORSAllowedOrigins),
		Logger:             logger,
		TracingEnabled:     c.config.GetBool(optionNameTracingEnabled),
		TracingEndpoint:    c.config.GetString(optionNameTracingEndpoint),
		TracingServiceName: c.config.GetString(optionNameTracingServiceName),
		TracingSampleRate:  c.config.GetFloat64(optionNameTracingSampleRate),
		Replicators:        replicators,
		PollInterval:       c.config.GetDuration(optionNamePollInterval),
		ReplicationEnabled: c.config.GetBool(optionNameReplicationEnabled),
		RedisAddr:          c.config.GetString(optionNameRedisAddr),
		RedisDB:            c.config.GetInt(optionNameRedisDB),
		RedisKeyPrefix:     c.config.GetString(optionNameRedisKeyPrefix),
		ZookeeperServers:   c.config.GetStringSlice(optionNameZookeeperServers),
		ZookeeperPath:      c.config.GetString(optionNameZookeeperPath),
		NodeID:             c.config.GetString(optionNameNodeID),
		RemoteRateLimit:    c.config.GetFloat64(optionNameRemoteRateLimit),
		RemoteBurst:        c.config.GetInt(optionNameRemoteBurst),
		BlobCacheSize:      c.config.GetInt(optionNameBlobCacheSize),
		SpillThreshold:     c.config.GetInt64(optionNameSpillThreshold),
		NotFoundBackoff:    c.config.GetDuration(optionNameNotFoundBackoff),
	}
}
