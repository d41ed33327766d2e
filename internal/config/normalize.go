package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeServer(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeQueue()
	c.normalizeDevice()
	if err := c.normalizeRunner(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockdownDir) == "" {
		c.Paths.LockdownDir = defaultLockdownDir
	}
	if c.Paths.LockdownDir, err = expandPath(c.Paths.LockdownDir); err != nil {
		return fmt.Errorf("paths.lockdown_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DDIDir) == "" {
		c.Paths.DDIDir = defaultDDIDir
	}
	if c.Paths.DDIDir, err = expandPath(c.Paths.DDIDir); err != nil {
		return fmt.Errorf("paths.ddi_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() error {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	if value, ok := os.LookupEnv("JITSTREAMER_PORT"); ok && strings.TrimSpace(value) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("JITSTREAMER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	if c.Server.APIToken == "" {
		if value, ok := os.LookupEnv("JITSTREAMER_API_TOKEN"); ok {
			c.Server.APIToken = strings.TrimSpace(value)
		}
	}
	c.Server.MinClientVersion = strings.TrimSpace(c.Server.MinClientVersion)
	if c.Server.MinClientVersion == "" {
		c.Server.MinClientVersion = defaultMinClientVersion
	}
	return nil
}

func (c *Config) normalizeStore() {
	if c.Store.RetryAttempts <= 0 {
		c.Store.RetryAttempts = defaultStoreRetryAttempts
	}
	if c.Store.RetryBackoffMS <= 0 {
		c.Store.RetryBackoffMS = defaultStoreRetryBackoffMS
	}
}

func (c *Config) normalizeQueue() {
	if c.Queue.StatusPollSeconds <= 0 {
		c.Queue.StatusPollSeconds = defaultStatusPollSeconds
	}
	if c.Queue.StatusTimeoutSeconds <= 0 {
		c.Queue.StatusTimeoutSeconds = defaultStatusTimeoutSeconds
	}
	if c.Heartbeat.IntervalSeconds <= 0 {
		c.Heartbeat.IntervalSeconds = defaultHeartbeatInterval
	}
	if c.Credentials.CacheSize <= 0 {
		c.Credentials.CacheSize = defaultCredentialCacheSize
	}
}

func (c *Config) normalizeDevice() {
	c.Device.HelperBinary = strings.TrimSpace(c.Device.HelperBinary)
	if c.Device.HelperBinary == "" {
		c.Device.HelperBinary = defaultHelperBinary
	}
	c.Device.Label = strings.TrimSpace(c.Device.Label)
	if c.Device.Label == "" {
		c.Device.Label = defaultDeviceLabel
	}
	if c.Device.ConnectTimeoutSeconds <= 0 {
		c.Device.ConnectTimeoutSeconds = defaultConnectTimeoutSeconds
	}
}

func (c *Config) normalizeRunner() error {
	if value, ok := os.LookupEnv("RUNNER_COUNT"); ok && strings.TrimSpace(value) != "" {
		count, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("RUNNER_COUNT: %w", err)
		}
		c.Runner.Count = count
	}
	command := make([]string, 0, len(c.Runner.Command))
	for _, arg := range c.Runner.Command {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			command = append(command, trimmed)
		}
	}
	c.Runner.Command = command
	if c.Runner.RestartDelaySeconds <= 0 {
		c.Runner.RestartDelaySeconds = defaultRunnerRestartDelaySecs
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
