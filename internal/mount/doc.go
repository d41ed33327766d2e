// Package mount provisions the developer disk image onto devices.
//
// The Broker keeps one progress Slot per device while a mount is in flight.
// CheckOrStart inserts the slot under the broker lock before spawning the
// worker, so concurrent callers for the same device share one worker. Poll
// readers drain terminal values; stream readers only observe.
package mount
