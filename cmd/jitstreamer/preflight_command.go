package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"jitstreamer/internal/config"
	"jitstreamer/internal/preflight"
	"jitstreamer/internal/store"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, the developer disk image, helper binaries, and the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, db *store.DB) error {
				results := preflight.RunAll(cmd.Context(), cfg, db)
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Preflight", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
				if failed := preflight.Failed(results); len(failed) > 0 {
					return errors.New("preflight failed")
				}
				return nil
			})
		},
	}
}
