package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateRunner(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port must be between 1 and 65535", ErrInvalid)
	}
	if !validVersion(c.Server.MinClientVersion) {
		return fmt.Errorf("%w: server.min_client_version %q must be dotted numbers (e.g. 0.2.0)", ErrInvalid, c.Server.MinClientVersion)
	}
	return nil
}

func (c *Config) validateStore() error {
	if c.Store.BusyTimeoutMS < 0 {
		return fmt.Errorf("%w: store.busy_timeout_ms must be >= 0", ErrInvalid)
	}
	return nil
}

func (c *Config) validateRunner() error {
	if c.Runner.Count < 0 {
		return fmt.Errorf("%w: runner.count must be >= 0", ErrInvalid)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("%w: logging.level %q must be one of debug, info, warn, error", ErrInvalid, c.Logging.Level)
	}
}

func validVersion(value string) bool {
	parts := strings.Split(value, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return false
	}
	for _, part := range parts {
		if _, err := strconv.ParseUint(part, 10, 8); err != nil {
			return false
		}
	}
	return true
}
