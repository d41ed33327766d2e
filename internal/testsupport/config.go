package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"jitstreamer/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.LockdownDir = filepath.Join(base, "lockdown")
	cfgVal.Paths.DDIDir = filepath.Join(base, "ddi")
	cfgVal.Server.Bind = "127.0.0.1"
	cfgVal.Server.Port = 0
	cfgVal.Store.RetryBackoffMS = 5
	cfgVal.Runner.Count = 0

	for _, dir := range []string{cfgVal.Paths.DataDir, cfgVal.Paths.LogDir, cfgVal.Paths.LockdownDir, cfgVal.Paths.DDIDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithStoreRetry overrides the contention retry budget.
func WithStoreRetry(attempts, backoffMS int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.RetryAttempts = attempts
		b.cfg.Store.RetryBackoffMS = backoffMS
	}
}

// WithQueuePolling overrides the status long-poll cadence in seconds.
func WithQueuePolling(pollSeconds, timeoutSeconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.StatusPollSeconds = pollSeconds
		b.cfg.Queue.StatusTimeoutSeconds = timeoutSeconds
	}
}

// WithAPIToken protects operator endpoints with a bearer token.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.APIToken = token
	}
}

// WithDiskImage writes a small developer disk image bundle into the DDI dir.
func WithDiskImage() ConfigOption {
	return func(b *configBuilder) {
		WriteDiskImage(b.t, b.cfg.Paths.DDIDir)
	}
}

// WithStubbedHelper writes a stub device helper that exits 0 and prepends its
// directory to PATH.
func WithStubbedHelper() ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, b.cfg.Device.HelperBinary)
		if err := os.WriteFile(target, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
			b.t.Fatalf("write stub helper: %v", err)
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
