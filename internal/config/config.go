package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// ErrInvalid marks configuration values that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Paths contains directory configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	LogDir      string `toml:"log_dir"`
	LockdownDir string `toml:"lockdown_dir"`
	DDIDir      string `toml:"ddi_dir"`
}

// Server contains the HTTP listener configuration.
type Server struct {
	Bind             string `toml:"bind"`
	Port             int    `toml:"port"`
	APIToken         string `toml:"api_token"`
	MinClientVersion string `toml:"min_client_version"`
}

// Heartbeat controls the device keep-alive loop.
type Heartbeat struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

// Store controls SQLite contention handling.
type Store struct {
	RetryAttempts  int `toml:"retry_attempts"`
	RetryBackoffMS int `toml:"retry_backoff_ms"`
	BusyTimeoutMS  int `toml:"busy_timeout_ms"`
}

// Queue controls launch status long-polling.
type Queue struct {
	StatusPollSeconds    int `toml:"status_poll_seconds"`
	StatusTimeoutSeconds int `toml:"status_timeout_seconds"`
}

// Device configures the device protocol helper.
type Device struct {
	HelperBinary          string `toml:"helper_binary"`
	Label                 string `toml:"label"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
}

// Credentials configures pairing file caching.
type Credentials struct {
	CacheSize int `toml:"cache_size"`
}

// Runner configures the external launch worker processes.
type Runner struct {
	Command             []string `toml:"command"`
	Count               int      `toml:"count"`
	RestartDelaySeconds int      `toml:"restart_delay_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for jitstreamer.
//
// Configuration sections by subsystem:
//   - Paths: database, logs, pairing files, developer disk image
//   - Server: HTTP bind address, port, and optional API token
//   - Heartbeat: keep-alive interval
//   - Store: SQLite lock contention retry budget
//   - Queue: launch status long-poll timing
//   - Device: protocol helper binary
//   - Credentials: pairing file cache
//   - Runner: external launch workers
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Server      Server      `toml:"server"`
	Heartbeat   Heartbeat   `toml:"heartbeat"`
	Store       Store       `toml:"store"`
	Queue       Queue       `toml:"queue"`
	Device      Device      `toml:"device"`
	Credentials Credentials `toml:"credentials"`
	Runner      Runner      `toml:"runner"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. A .env file in
// the working directory is applied to the environment first; variables that
// are already set win. The returned config has all path fields expanded.
func Load(path string) (*Config, string, bool, error) {
	if err := loadDotEnv(); err != nil {
		return nil, "", false, err
	}

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if info.IsDir() {
		return nil
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("jitstreamer.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The lockdown and DDI directories are provisioned externally and are only
// checked by preflight.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "jitstreamer.db")
}

// ListenAddress joins the bind host and port.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.Bind, strconv.Itoa(c.Server.Port))
}

// HeartbeatInterval returns the keep-alive interval as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.IntervalSeconds) * time.Second
}

// StoreRetryBackoff returns the fixed sleep between contended store attempts.
func (c *Config) StoreRetryBackoff() time.Duration {
	return time.Duration(c.Store.RetryBackoffMS) * time.Millisecond
}

// StatusPollInterval returns the launch status re-check interval.
func (c *Config) StatusPollInterval() time.Duration {
	return time.Duration(c.Queue.StatusPollSeconds) * time.Second
}

// StatusTimeout returns the cap on a single launch status long-poll.
func (c *Config) StatusTimeout() time.Duration {
	return time.Duration(c.Queue.StatusTimeoutSeconds) * time.Second
}

// ConnectTimeout bounds a single device connection attempt.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Device.ConnectTimeoutSeconds) * time.Second
}

// RunnerRestartDelay returns the pause before a crashed worker is restarted.
func (c *Config) RunnerRestartDelay() time.Duration {
	return time.Duration(c.Runner.RestartDelaySeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
