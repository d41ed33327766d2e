// Command jitstreamer runs the JIT enablement daemon and provides operator
// commands for inspecting the launch queue, the device registry, and the
// host configuration.
//
// Queue and device commands open the SQLite database directly and are safe to
// run while the daemon is up. The status command talks to a running daemon
// over HTTP.
package main
