package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"jitstreamer/internal/config"
	"jitstreamer/internal/daemon"
	"jitstreamer/internal/launchqueue"
	"jitstreamer/internal/testsupport"
)

const testUDID = "00008101-000E2A4C1B3D"

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newCLIConfig(t *testing.T, opts ...testsupport.ConfigOption) (*config.Config, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Server.Port = 19172
	return cfg, writeTestConfig(t, cfg)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	_, configPath := newCLIConfig(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Listen address: 127.0.0.1:19172")

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidateRejectsBadPort(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.Port = 70000
	configPath := writeTestConfig(t, cfg)

	_, _, err := runCLI(t, []string{"config", "validate"}, configPath)
	if err == nil || !strings.Contains(err.Error(), "server.port") {
		t.Fatalf("expected port validation error, got %v", err)
	}
}

func TestDeviceCommands(t *testing.T) {
	cfg, configPath := newCLIConfig(t)
	testsupport.WritePairingFile(t, cfg.Paths.LockdownDir, testUDID)

	out, _, err := runCLI(t, []string{"device", "list"}, configPath)
	if err != nil {
		t.Fatalf("device list: %v", err)
	}
	requireContains(t, out, "No devices registered")

	out, _, err = runCLI(t, []string{"device", "add", testUDID, "10.7.0.9"}, configPath)
	if err != nil {
		t.Fatalf("device add: %v", err)
	}
	requireContains(t, out, "Registered "+testUDID)
	if strings.Contains(out, "warning") {
		t.Fatalf("unexpected pairing warning:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"device", "add", "unpaired-device", "10.7.0.10"}, configPath)
	if err != nil {
		t.Fatalf("device add unpaired: %v", err)
	}
	requireContains(t, out, "warning: no pairing file")

	out, _, err = runCLI(t, []string{"device", "list"}, configPath)
	if err != nil {
		t.Fatalf("device list: %v", err)
	}
	requireContains(t, out, "10.7.0.9")
	requireContains(t, out, "never")

	out, _, err = runCLI(t, []string{"device", "show", testUDID}, configPath)
	if err != nil {
		t.Fatalf("device show: %v", err)
	}
	requireContains(t, out, "host-"+testUDID)

	if _, _, err := runCLI(t, []string{"device", "add", testUDID, "not-an-ip"}, configPath); err == nil {
		t.Fatal("expected invalid ip to be rejected")
	}

	if _, _, err := runCLI(t, []string{"device", "remove", "unpaired-device"}, configPath); err != nil {
		t.Fatalf("device remove: %v", err)
	}
	if _, _, err := runCLI(t, []string{"device", "show", "unpaired-device"}, configPath); err == nil {
		t.Fatal("expected removed device lookup to fail")
	}
}

func TestQueueCommands(t *testing.T) {
	cfg, configPath := newCLIConfig(t)

	out, _, err := runCLI(t, []string{"queue", "list"}, configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "Launch queue is empty")

	db := testsupport.MustOpenStore(t, cfg)
	q := launchqueue.New(db)
	ctx := context.Background()
	for i, udid := range []string{"dev-a", "dev-b", testUDID} {
		if _, err := q.Enqueue(ctx, udid, "10.7.0."+strconv.Itoa(i+2), "com.example.app"); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	claimed, err := q.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Claim: %v", err)
	}

	out, _, err = runCLI(t, []string{"queue", "list"}, configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "Running")
	requireContains(t, out, "2 pending, 1 running, 0 failed")

	out, _, err = runCLI(t, []string{"queue", "status", testUDID}, configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "position 1")

	out, _, err = runCLI(t, []string{"queue", "status", "dev-a"}, configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "running")

	if _, _, err := runCLI(t, []string{"queue", "clear"}, configPath); err == nil {
		t.Fatal("expected clear without --force to fail")
	}
	out, _, err = runCLI(t, []string{"queue", "clear", "--force"}, configPath)
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	requireContains(t, out, "Removed 3 launch(es)")

	out, _, err = runCLI(t, []string{"queue", "status", testUDID}, configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "not in queue")
}

func TestPreflightCommand(t *testing.T) {
	_, configPath := newCLIConfig(t, testsupport.WithStubbedHelper(), testsupport.WithDiskImage())

	out, _, err := runCLI(t, []string{"preflight"}, configPath)
	if err != nil {
		t.Fatalf("preflight: %v\n%s", err, out)
	}
	requireContains(t, out, "Developer disk image")
	requireContains(t, out, "[OK]")
	if strings.Contains(out, "[ERROR]") {
		t.Fatalf("unexpected failure:\n%s", out)
	}
}

func TestPreflightCommandReportsFailures(t *testing.T) {
	_, configPath := newCLIConfig(t, testsupport.WithStubbedHelper())

	out, _, err := runCLI(t, []string{"preflight"}, configPath)
	if err == nil {
		t.Fatal("expected preflight to fail without a disk image")
	}
	requireContains(t, out, "[ERROR]")
}

func TestStatusCommandAgainstRunningDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("tok"))
	db := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedDevice(t, db, testUDID, "10.7.0.9")

	d, err := daemon.New(cfg, db, &testsupport.FakeDevice{}, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	if _, err := launchqueue.New(db).Enqueue(context.Background(), testUDID, "10.7.0.9", "com.example.emu"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	_, port, err := net.SplitHostPort(d.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	cfg.Server.Port, _ = strconv.Atoi(port)
	configPath := writeTestConfig(t, cfg)

	out, _, err := runCLI(t, []string{"status"}, configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "1 pending, 0 running, 0 failed")
	requireContains(t, out, "com.example.emu")

	cfg.Server.APIToken = "wrong"
	configPath = writeTestConfig(t, cfg)
	if _, _, err := runCLI(t, []string{"status"}, configPath); err == nil || !strings.Contains(err.Error(), "api_token") {
		t.Fatalf("expected token rejection, got %v", err)
	}
}

func TestDaemonURL(t *testing.T) {
	cfg := config.Default()
	if got := daemonURL(&cfg, "/hello"); got != "http://127.0.0.1:9172/hello" {
		t.Fatalf("wildcard bind url = %s", got)
	}
	cfg.Server.Bind = "10.0.0.5"
	if got := daemonURL(&cfg, "/hello"); got != "http://10.0.0.5:9172/hello" {
		t.Fatalf("explicit bind url = %s", got)
	}
}

func TestDisplayStatus(t *testing.T) {
	if got := displayStatus("pending"); got != "Pending" {
		t.Fatalf("displayStatus = %q", got)
	}
}

func TestLogsCommandPrintsTail(t *testing.T) {
	cfg, configPath := newCLIConfig(t)
	content := "one\ntwo\nthree\n"
	if err := os.WriteFile(filepath.Join(cfg.Paths.LogDir, "jitstreamer.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "-n", "2"}, configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "two\nthree\n" {
		t.Fatalf("unexpected logs output %q", out)
	}
}
