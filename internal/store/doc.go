// Package store owns the SQLite database shared by the launch queue and the
// device registry.
//
// Every statement goes through a bounded fixed retry: when SQLite reports
// lock contention the call sleeps a fixed backoff and tries again, up to a
// fixed attempt count. Exhausting the budget yields an error wrapping
// ErrUnavailable so callers can tell an overloaded store apart from an
// absent row.
package store
