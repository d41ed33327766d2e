package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"jitstreamer/internal/api"
	"jitstreamer/internal/config"
	"jitstreamer/internal/launchqueue"
	"jitstreamer/internal/store"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the launch queue",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued launches in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, db *store.DB) error {
				q := launchqueue.New(db)
				entries, err := q.List(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "Launch queue is empty")
					return nil
				}
				fmt.Fprintln(out, renderQueueItems(api.FromEntries(entries)))

				stats, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d pending, %d running, %d failed\n", stats.Pending, stats.Running, stats.Failed)
				return nil
			})
		},
	}
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <udid>",
		Short: "Show the queue position of a device without consuming failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			udid := strings.TrimSpace(args[0])
			return ctx.withStore(func(_ *config.Config, db *store.DB) error {
				entries, err := launchqueue.New(db).List(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				ahead := 0
				for _, entry := range entries {
					if entry.UDID != udid {
						if entry.Status == launchqueue.StatusPending {
							ahead++
						}
						continue
					}
					switch entry.Status {
					case launchqueue.StatusRunning:
						fmt.Fprintf(out, "%s: running (%s)\n", udid, entry.BundleID)
					case launchqueue.StatusError:
						fmt.Fprintf(out, "%s: failed (%s): %s\n", udid, entry.BundleID, entry.Error)
					default:
						fmt.Fprintf(out, "%s: pending (%s), position %d\n", udid, entry.BundleID, ahead)
					}
					return nil
				}
				fmt.Fprintf(out, "%s: not in queue\n", udid)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every queued launch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to clear the launch queue without --force")
			}
			return ctx.withStore(func(_ *config.Config, db *store.DB) error {
				removed, err := launchqueue.New(db).DrainAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d launch(es)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Confirm removal of all queued launches")
	return cmd
}
