// Package api defines the wire-format types returned to device clients and
// the Service that composes the registry, credentials, heartbeat manager,
// mount broker, and launch queue behind them.
//
// # Key Types
//
// CheckMountResponse, MountProgressMessage, GetAppsResponse,
// LaunchAppResponse, StatusResponse: JSON bodies of the public endpoints.
// Field names are snake_case and optional fields encode as null, matching the
// shipped iOS shortcut clients.
//
// DiagnosticsResponse: operator view of live heartbeats, in-flight mounts, and
// queue counts.
//
// # Design Notes
//
// Every Service method returns a response value rather than an error. Device
// and store failures are rendered into the error field with the same wording
// the clients already display. A rejected pairing file evicts the cached
// credential so a regenerated file is picked up on the next request.
package api
