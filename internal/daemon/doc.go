// Package daemon coordinates the long-running jitstreamer process.
//
// It wires configuration, the SQLite store, the heartbeat manager, the mount
// broker, the launch queue, and the launch runner supervisor into a single
// lifecycle with flock-based locking to prevent multiple instances. The HTTP
// server exposes the device-facing endpoints plus an operator diagnostics
// route guarded by an optional bearer token.
//
// Keep orchestration logic here: request semantics live in internal/api and
// the engines live in their own packages.
package daemon
