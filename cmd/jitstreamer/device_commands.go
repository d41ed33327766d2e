package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"jitstreamer/internal/config"
	"jitstreamer/internal/credentials"
	"jitstreamer/internal/registry"
	"jitstreamer/internal/store"
)

func newDeviceCommand(ctx *commandContext) *cobra.Command {
	deviceCmd := &cobra.Command{
		Use:   "device",
		Short: "Manage the device registry",
	}
	deviceCmd.AddCommand(newDeviceAddCommand(ctx))
	deviceCmd.AddCommand(newDeviceListCommand(ctx))
	deviceCmd.AddCommand(newDeviceShowCommand(ctx))
	deviceCmd.AddCommand(newDeviceRemoveCommand(ctx))
	return deviceCmd
}

func newDeviceAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <udid> <ip>",
		Short: "Register a device at an address, replacing any previous holder of the address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			udid := strings.TrimSpace(args[0])
			ip := strings.TrimSpace(args[1])
			return ctx.withStore(func(cfg *config.Config, db *store.DB) error {
				if err := registry.New(db).Upsert(cmd.Context(), udid, ip); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Registered %s at %s\n", udid, ip)
				if _, err := loadPairing(cfg, udid); err != nil {
					fmt.Fprintf(out, "warning: %v\n", err)
				}
				return nil
			})
		},
	}
}

func newDeviceListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, db *store.DB) error {
				devices, err := registry.New(db).List(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(devices) == 0 {
					fmt.Fprintln(out, "No devices registered")
					return nil
				}
				rows := make([][]string, 0, len(devices))
				for _, d := range devices {
					_, pairErr := loadPairing(cfg, d.UDID)
					rows = append(rows, []string{d.UDID, d.IP, formatLastUsed(d.LastUsed), yesNo(pairErr == nil)})
				}
				fmt.Fprintln(out, renderTable([]string{"UDID", "IP", "Last Used", "Paired"}, rows, nil))
				return nil
			})
		},
	}
}

func newDeviceShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <udid>",
		Short: "Show a registered device and its pairing record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			udid := strings.TrimSpace(args[0])
			return ctx.withStore(func(cfg *config.Config, db *store.DB) error {
				d, err := registry.New(db).Lookup(cmd.Context(), udid)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Device "+d.UDID, colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Address", statusInfo, d.IP, colorize))
				fmt.Fprintln(out, renderStatusLine("Last used", statusInfo, formatLastUsed(d.LastUsed), colorize))

				pairing, err := loadPairing(cfg, udid)
				if err != nil {
					fmt.Fprintln(out, renderStatusLine("Pairing file", statusError, err.Error(), colorize))
					return nil
				}
				fmt.Fprintln(out, renderStatusLine("Pairing file", statusOK, pairing.Path, colorize))
				fmt.Fprintln(out, renderStatusLine("Host ID", statusInfo, pairing.HostID, colorize))
				return nil
			})
		},
	}
}

func newDeviceRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <udid>",
		Short: "Remove a device registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			udid := strings.TrimSpace(args[0])
			return ctx.withStore(func(_ *config.Config, db *store.DB) error {
				if err := registry.New(db).Remove(cmd.Context(), udid); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", udid)
				return nil
			})
		},
	}
}

func loadPairing(cfg *config.Config, udid string) (*credentials.PairingFile, error) {
	creds, err := credentials.NewStore(cfg.Paths.LockdownDir, 1)
	if err != nil {
		return nil, err
	}
	pairing, err := creds.Get(udid)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil, fmt.Errorf("no pairing file at %s", creds.Path(udid))
	}
	return pairing, err
}

func formatLastUsed(ts time.Time) string {
	if ts.IsZero() {
		return "never"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}
