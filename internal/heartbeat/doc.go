// Package heartbeat keeps at most one keep-alive loop running per device.
//
// Start opens a session and runs the marco/polo exchange in its own
// goroutine. The returned Handle is handed to the Manager, a single goroutine
// that owns the udid-to-handle map and processes Store and Kill commands in
// arrival order. Replacing or killing an entry cancels the previous handle.
// A loop that dies on its own leaves its stale handle in the map until the
// next command for that device overwrites it.
package heartbeat
