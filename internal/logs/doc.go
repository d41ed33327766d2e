// Package logs reads the daemon log file for the CLI.
//
// Last returns the trailing lines of a file with bounded memory; Follow
// streams lines appended after an offset until its context ends, restarting
// from the top when the file is truncated.
package logs
