// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pocketsuite/localsync/localsync"
)

var (
	flagDataDir string
	flagServer  string
	flagToken   string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskpad",
		Short: "Local-first task list",
		Long: `taskpad keeps your tasks on disk and usable offline; with a server
URL and session token configured it syncs them in the background.`,
		SilenceUsage: true,
	}

	defaultDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		defaultDir = filepath.Join(home, ".taskpad")
	}
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", defaultDir, "directory for local state")
	cmd.PersistentFlags().StringVar(&flagServer, "server", os.Getenv("TASKPAD_SERVER"), "sync server base URL")
	cmd.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("TASKPAD_TOKEN"), "session token (empty = local only)")

	cmd.AddCommand(
		newAddCmd(),
		newListCmd(),
		newDoneCmd(),
		newRemoveCmd(),
		newRestoreCmd(),
		newTrashCmd(),
		newSyncCmd(),
	)
	return cmd
}

// openEngine builds an engine over the on-disk replica. With no token
// configured the engine runs local-only and skips all remote calls.
func openEngine() (*localsync.Engine, error) {
	if flagDataDir == "" {
		return nil, fmt.Errorf("no data directory; pass --data-dir")
	}
	if err := os.MkdirAll(flagDataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := localsync.OpenBoltStore(filepath.Join(flagDataDir, "taskpad.db"), logger)
	if err != nil {
		return nil, err
	}

	var remote localsync.RemoteStore
	if flagServer != "" {
		token := flagToken
		remote = localsync.NewHTTPRemote(flagServer, func(context.Context) (string, error) {
			return token, nil
		}, logger)
	}

	return localsync.New(localsync.Config{
		Store:  store,
		Remote: remote,
		Logger: logger,
		Notify: func(message string) {
			fmt.Fprintln(os.Stderr, message)
		},
	})
}

// finish pushes pending work if a server is configured, then closes
// the engine. Sync failures are non-fatal; local state is the truth.
func finish(eng *localsync.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := eng.SyncOnce(ctx); err != nil && !errors.Is(err, localsync.ErrUnauthenticated) {
		fmt.Fprintln(os.Stderr, "sync skipped:", err)
	}
	_ = eng.Close()
}
