// Package config loads, normalizes, and validates jitstreamer configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads a .env file from the working directory,
// and honours environment overrides such as JITSTREAMER_PORT and RUNNER_COUNT.
// The Config type centralizes every knob the daemon and CLI need so the
// heartbeat, mount, and launch queue engines receive sanitized values.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, canonical log formats, and clear validation errors.
package config
