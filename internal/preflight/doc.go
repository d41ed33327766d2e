// Package preflight provides readiness checks for the host resources the
// daemon depends on.
//
// The daemon runs RunAll once at startup and logs every failure; the CLI
// "jitstreamer preflight" command renders the same results as a table.
// Checks never mutate state beyond probing a writable directory.
package preflight
