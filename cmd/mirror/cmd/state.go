// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ethersphere/mirror/pkg/logging"
	"github.com/ethersphere/mirror/pkg/node"
	"github.com/ethersphere/mirror/pkg/statestore/leveldb"
	"github.com/ethersphere/mirror/pkg/watermark"
	"github.com/ethersphere/mirror/pkg/watermark/redis"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

// initStateCmd adds offline operations on the persisted watermarks. The
// node must not be running as it holds the lock of the state store.
func (c *command) initStateCmd() {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and change persisted replicator watermarks",
	}

	cmd.PersistentFlags().String(optionNameDataDir, c.dataDir(), "data directory")
	cmd.PersistentFlags().String(optionNameVerbosity, "warn", "log verbosity level 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace")
	cmd.PersistentFlags().String(optionNameRedisAddr, "", "redis address of the shared watermark record, also updated if set")
	cmd.PersistentFlags().Int(optionNameRedisDB, 0, "redis database of the shared watermark record")
	cmd.PersistentFlags().String(optionNameRedisKeyPrefix, "mirror", "redis key prefix of the shared watermark record")

	c.stateShowCmd(cmd)
	c.stateResetCmd(cmd)
	c.stateSetCmd(cmd)

	c.root.AddCommand(cmd)
}

func (c *command) dataDir() string {
	return filepath.Join(c.homeDir, ".mirror")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (c *command) stateShowCmd(parent *cobra.Command) {
	parent.AddCommand(&cobra.Command{
		Use:   "show [name]",
		Short: "Print the watermarks of all or the named replicator",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			return withStateStore(cmd, func(store *leveldb.Store, _ *redis.Shared) error {
				var filter string
				if len(args) > 0 {
					filter = args[0]
				}
				return store.Iterate(watermark.KeyPrefix(), func(key, value []byte) (bool, error) {
					name := strings.TrimPrefix(string(key), watermark.KeyPrefix())
					if filter != "" && name != filter {
						return false, nil
					}
					var w watermark.Watermark
					if err := json.Unmarshal(value, &w); err != nil {
						return true, fmt.Errorf("watermark %s: %w", name, err)
					}
					cmd.Printf("%s\t%s\n", name, w)
					return false, nil
				})
			})
		},
	})
}

func (c *command) stateResetCmd(parent *cobra.Command) {
	parent.AddCommand(&cobra.Command{
		Use:   "reset <name>",
		Short: "Clear the watermark of a replicator, forcing a full resync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			return withStateStore(cmd, func(store *leveldb.Store, shared *redis.Shared) error {
				if _, err := newWatermarkStore(args[0], store, shared).Reset(commandContext(cmd)); err != nil {
					return err
				}
				cmd.Printf("%s\treset\n", args[0])
				return nil
			})
		},
	})
}

func (c *command) stateSetCmd(parent *cobra.Command) {
	parent.AddCommand(&cobra.Command{
		Use:   "set <name> <watermark>",
		Short: "Set the watermark of a replicator",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			w, err := watermark.Parse(args[1])
			if err != nil {
				return err
			}
			return withStateStore(cmd, func(store *leveldb.Store, shared *redis.Shared) error {
				if err := newWatermarkStore(args[0], store, shared).Save(commandContext(cmd), w); err != nil {
					return err
				}
				cmd.Printf("%s\t%s\n", args[0], w)
				return nil
			})
		},
	})
}

func newWatermarkStore(name string, store *leveldb.Store, shared *redis.Shared) watermark.Store {
	if shared == nil {
		return watermark.NewStore(name, store, nil)
	}
	return watermark.NewStore(name, store, shared)
}

// withStateStore opens the persisted state store and the optional shared
// record for the duration of f.
func withStateStore(cmd *cobra.Command, f func(*leveldb.Store, *redis.Shared) error) (err error) {
	v, err := cmd.Flags().GetString(optionNameVerbosity)
	if err != nil {
		return fmt.Errorf("get verbosity: %w", err)
	}
	logger, err := newLogger(cmd, v)
	if err != nil {
		return fmt.Errorf("new logger: %w", err)
	}

	dataDir, err := cmd.Flags().GetString(optionNameDataDir)
	if err != nil {
		return fmt.Errorf("get data-dir: %w", err)
	}
	if dataDir == "" {
		return errors.New("no data-dir provided")
	}

	shared, err := openShared(cmd, logger)
	if err != nil {
		return err
	}
	if shared != nil {
		defer func() {
			if e := shared.Close(); e != nil {
				err = multierror.Append(err, e)
			}
		}()
	}

	store, err := node.InitStateStore(logger, dataDir)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	defer func() {
		if e := store.Close(); e != nil {
			err = multierror.Append(err, e)
		}
	}()

	return f(store, shared)
}

func openShared(cmd *cobra.Command, logger logging.Logger) (*redis.Shared, error) {
	addr, err := cmd.Flags().GetString(optionNameRedisAddr)
	if err != nil || addr == "" {
		return nil, err
	}
	db, err := cmd.Flags().GetInt(optionNameRedisDB)
	if err != nil {
		return nil, err
	}
	prefix, err := cmd.Flags().GetString(optionNameRedisKeyPrefix)
	if err != nil {
		return nil, err
	}

	s := redis.New(addr, db, prefix)
	if err := s.Ping(commandContext(cmd)); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	logger.Debugf("updating shared watermarks through redis %s", addr)
	return s, nil
}
