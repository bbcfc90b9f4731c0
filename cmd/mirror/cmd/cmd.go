// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethersphere/mirror/pkg/coordinator"
	"github.com/ethersphere/mirror/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	optionNameDataDir            = "data-dir"
	optionNameAPIAddr            = "api-addr"
	optionCORSAllowedOrigins     = "cors-allowed-origins"
	optionNameReplicatorsFile    = "replicators-file"
	optionNamePollInterval       = "poll-interval"
	optionNameReplicationEnabled = "replication-enabled"
	optionNameVerbosity          = "verbosity"
	optionNameTracingEnabled     = "tracing-enable"
	optionNameTracingEndpoint    = "tracing-endpoint"
	optionNameTracingServiceName = "tracing-service-name"
	optionNameTracingSampleRate  = "tracing-sample-rate"
	optionNameRedisAddr          = "redis-addr"
	optionNameRedisDB            = "redis-db"
	optionNameRedisKeyPrefix     = "redis-key-prefix"
	optionNameZookeeperServers   = "zookeeper-servers"
	optionNameZookeeperPath      = "zookeeper-path"
	optionNameNodeID             = "node-id"
	optionNameRemoteRateLimit    = "remote-rate-limit"
	optionNameRemoteBurst        = "remote-burst"
	optionNameBlobCacheSize      = "blob-cache-size"
	optionNameSpillThreshold     = "spill-threshold"
	optionNameNotFoundBackoff    = "not-found-backoff"
)

func init() {
	cobra.EnableCommandSorting = false
}

type command struct {
	root    *cobra.Command
	config  *viper.Viper
	cfgFile string
	homeDir string
}

type option func(*command)

func newCommand(opts ...option) (c *command, err error) {
	c = &command{
		root: &cobra.Command{
			Use:           "mirror",
			Short:         "Content-addressed blob store replication",
			SilenceErrors: true,
			SilenceUsage:  true,
			PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
				return c.initConfig()
			},
		},
	}

	for _, o := range opts {
		o(c)
	}

	// Find home directory.
	if err := c.setHomeDir(); err != nil {
		return nil, err
	}

	c.initGlobalFlags()

	if err := c.initStartCmd(); err != nil {
		return nil, err
	}

	c.initStateCmd()
	c.initVersionCmd()

	return c, nil
}

func (c *command) Execute() (err error) {
	return c.root.Execute()
}

// Execute parses command line arguments and runs appropriate functions.
func Execute() (err error) {
	c, err := newCommand()
	if err != nil {
		return err
	}
	return c.Execute()
}

func (c *command) initGlobalFlags() {
	globalFlags := c.root.PersistentFlags()
	globalFlags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.mirror.yaml)")
}

func (c *command) initConfig() (err error) {
	config := viper.New()
	configName := ".mirror"
	if c.cfgFile != "" {
		// Use config file from the flag.
		config.SetConfigFile(c.cfgFile)
	} else {
		// Search config in home directory with name ".mirror" (without extension).
		config.AddConfigPath(c.homeDir)
		config.SetConfigName(configName)
	}

	// Environment
	config.SetEnvPrefix("mirror")
	config.AutomaticEnv() // read in environment variables that match
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if c.homeDir != "" && c.cfgFile == "" {
		c.cfgFile = filepath.Join(c.homeDir, configName+".yaml")
	}

	// If a config file is found, read it in.
	if err := config.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if !errors.As(err, &e) && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	c.config = config
	return nil
}

func (c *command) setHomeDir() (err error) {
	if c.homeDir != "" {
		return
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	c.homeDir = dir
	return nil
}

func (c *command) setAllFlags(cmd *cobra.Command) {
	hostname, _ := os.Hostname()

	cmd.Flags().String(optionNameDataDir, c.dataDir(), "data directory")
	cmd.Flags().String(optionNameAPIAddr, ":1640", "operator HTTP API listen address")
	cmd.Flags().StringSlice(optionCORSAllowedOrigins, []string{}, "origins with CORS headers enabled")
	cmd.Flags().String(optionNameReplicatorsFile, filepath.Join(c.dataDir(), "replicators.yaml"), "YAML file with replicator definitions")
	cmd.Flags().Duration(optionNamePollInterval, coordinator.DefaultInterval, "interval between replication passes")
	cmd.Flags().Bool(optionNameReplicationEnabled, true, "start replication passes on the leader")
	cmd.Flags().String(optionNameVerbosity, "info", "log verbosity level 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace")
	cmd.Flags().Bool(optionNameTracingEnabled, false, "enable tracing")
	cmd.Flags().String(optionNameTracingEndpoint, "127.0.0.1:6831", "endpoint to send tracing data")
	cmd.Flags().String(optionNameTracingServiceName, "mirror", "service name identifier for tracing")
	cmd.Flags().Float64(optionNameTracingSampleRate, 1, "fraction of replication runs to trace")
	cmd.Flags().String(optionNameRedisAddr, "", "redis address of the shared watermark record, disabled if empty")
	cmd.Flags().Int(optionNameRedisDB, 0, "redis database of the shared watermark record")
	cmd.Flags().String(optionNameRedisKeyPrefix, "mirror", "redis key prefix of the shared watermark record")
	cmd.Flags().StringSlice(optionNameZookeeperServers, nil, "zookeeper servers for leader election, single instance if empty")
	cmd.Flags().String(optionNameZookeeperPath, "/mirror/leader", "zookeeper path of the leader election")
	cmd.Flags().String(optionNameNodeID, hostname, "identifier of this instance in the leader election")
	cmd.Flags().Float64(optionNameRemoteRateLimit, 0, "requests per second to a remote, unlimited if zero")
	cmd.Flags().Int(optionNameRemoteBurst, 0, "request burst to a remote")
	cmd.Flags().Int(optionNameBlobCacheSize, 0, "number of blob ids remembered as present locally")
	cmd.Flags().Int64(optionNameSpillThreshold, 0, "blob size in bytes above which transfers are buffered on disk")
	cmd.Flags().Duration(optionNameNotFoundBackoff, 0, "wait between retries of blobs missing on the remote")
}

func newLogger(cmd *cobra.Command, verbosity string) (logging.Logger, error) {
	var logger logging.Logger
	switch strings.ToLower(verbosity) {
	case "0", "silent":
		logger = logging.New(io.Discard, 0)
	case "1", "error":
		logger = logging.New(cmd.OutOrStdout(), logrus.ErrorLevel)
	case "2", "warn":
		logger = logging.New(cmd.OutOrStdout(), logrus.WarnLevel)
	case "3", "info":
		logger = logging.New(cmd.OutOrStdout(), logrus.InfoLevel)
	case "4", "debug":
		logger = logging.New(cmd.OutOrStdout(), logrus.DebugLevel)
	case "5", "trace":
		logger = logging.New(cmd.OutOrStdout(), logrus.TraceLevel)
	default:
		return nil, fmt.Errorf("unknown verbosity level %q", verbosity)
	}
	return logger, nil
}
