package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"jitstreamer/internal/api"
	"jitstreamer/internal/config"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show live heartbeat, mount, and queue state from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			reqCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			diag, err := fetchDiagnostics(reqCtx, cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			renderDiagnostics(out, diag, shouldColorize(out))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for the daemon")
	return cmd
}

// daemonURL builds the loopback URL for path. Wildcard binds are reached via
// the loopback address.
func daemonURL(cfg *config.Config, path string) string {
	host := strings.TrimSpace(cfg.Server.Bind)
	switch host {
	case "", "::", "0.0.0.0":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)) + path
}

func fetchDiagnostics(ctx context.Context, cfg *config.Config) (api.DiagnosticsResponse, error) {
	var diag api.DiagnosticsResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, daemonURL(cfg, "/api/diagnostics"), nil)
	if err != nil {
		return diag, err
	}
	if token := strings.TrimSpace(cfg.Server.APIToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return diag, fmt.Errorf("connect to daemon: %w; start it with `jitstreamer daemon`", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return diag, fmt.Errorf("daemon rejected the API token; check server.api_token")
	default:
		return diag, fmt.Errorf("daemon returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&diag); err != nil {
		return diag, fmt.Errorf("decode diagnostics: %w", err)
	}
	return diag, nil
}

func renderDiagnostics(out io.Writer, diag api.DiagnosticsResponse, colorize bool) {
	for _, line := range renderSectionHeader("Engines", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Heartbeats", statusInfo, countSummary(diag.Heartbeats), colorize))
	fmt.Fprintln(out, renderStatusLine("Mounts", statusInfo, countSummary(diag.Mounts), colorize))

	queueKind := statusOK
	if diag.Queue.Failed > 0 {
		queueKind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Launch queue", queueKind, fmt.Sprintf("%d pending, %d running, %d failed",
		diag.Queue.Pending, diag.Queue.Running, diag.Queue.Failed), colorize))
	if diag.Error != "" {
		fmt.Fprintln(out, renderStatusLine("Diagnostics", statusError, diag.Error, colorize))
	}

	if len(diag.Items) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderQueueItems(diag.Items))
	}
}

func countSummary(udids []string) string {
	if len(udids) == 0 {
		return "none"
	}
	return fmt.Sprintf("%d (%s)", len(udids), strings.Join(udids, ", "))
}

func renderQueueItems(items []api.QueueItem) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.Ordinal, 10),
			item.UDID,
			item.IP,
			item.BundleID,
			displayStatus(item.Status),
			item.Error,
		})
	}
	return renderTable(
		[]string{"#", "UDID", "IP", "Bundle", "Status", "Error"},
		rows,
		[]columnAlignment{alignRight},
	)
}
