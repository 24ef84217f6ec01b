// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pocketsuite/localsync/localsync"
)

func newAddCmd() *cobra.Command {
	var color string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer finish(eng)

			rec := eng.Create(localsync.Record{
				Title: strings.Join(args, " "),
				Color: color,
			})
			fmt.Printf("added %s  %s\n", shortID(rec.Key()), rec.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&color, "color", "", "display color")
	return cmd
}

func newListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer finish(eng)

			for _, rec := range eng.Records() {
				if rec.Done && !all {
					continue
				}
				mark := " "
				if rec.Done {
					mark = "x"
				}
				synced := " "
				if !rec.Synced() {
					synced = "*" // not yet acknowledged by the server
				}
				fmt.Printf("[%s]%s %s  %s\n", mark, synced, shortID(rec.Key()), rec.Title)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include completed tasks")
	return cmd
}

func newDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer finish(eng)

			rec, ok := resolve(eng, args[0])
			if !ok {
				return fmt.Errorf("no task matching %q", args[0])
			}
			rec.Done = true
			if _, err := eng.Update(rec); err != nil {
				return err
			}
			fmt.Printf("done %s  %s\n", shortID(rec.Key()), rec.Title)
			return nil
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a task (restorable for a minute)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer finish(eng)

			rec, ok := resolve(eng, args[0])
			if !ok {
				return fmt.Errorf("no task matching %q", args[0])
			}
			entry, err := eng.Delete(rec.Key())
			if err != nil {
				return err
			}
			fmt.Printf("deleted %s  %s (restore with: taskpad restore %s)\n",
				shortID(entry.Record.Key()), entry.Record.Title, shortID(entry.Record.Key()))
			return nil
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Bring a deleted task back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer finish(eng)

			key, ok := resolveDeleted(eng, args[0])
			if !ok {
				return fmt.Errorf("nothing restorable matching %q", args[0])
			}
			rec, err := eng.Restore(key)
			if err != nil {
				return err
			}
			fmt.Printf("restored %s  %s\n", shortID(rec.Key()), rec.Title)
			return nil
		},
	}
}

func newTrashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trash",
		Short: "List tasks still restorable",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer finish(eng)

			for _, entry := range eng.Deleted() {
				deleted := time.UnixMilli(entry.DeletedAt)
				fmt.Printf("%s  %s (deleted %s ago)\n",
					shortID(entry.Record.Key()), entry.Record.Title,
					time.Since(deleted).Round(time.Second))
			}
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push pending changes and pull the server's records",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.SyncOnce(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("synced, %d records\n", len(eng.Records()))
			return nil
		},
	}
}

// resolve finds an active task by id prefix or exact title.
func resolve(eng *localsync.Engine, arg string) (localsync.Record, bool) {
	for _, rec := range eng.Records() {
		if strings.HasPrefix(rec.Key(), arg) || strings.HasPrefix(rec.LocalID, arg) || rec.Title == arg {
			return rec, true
		}
	}
	return localsync.Record{}, false
}

// resolveDeleted finds a holding-area entry by id prefix or title.
func resolveDeleted(eng *localsync.Engine, arg string) (string, bool) {
	for _, entry := range eng.Deleted() {
		rec := entry.Record
		if strings.HasPrefix(rec.Key(), arg) || strings.HasPrefix(rec.LocalID, arg) || rec.Title == arg {
			return rec.Key(), true
		}
	}
	return "", false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
