package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CheckMountResponse answers GET /mount.
type CheckMountResponse struct {
	OK       bool    `json:"ok"`
	Error    *string `json:"error"`
	Mounting bool    `json:"mounting"`
}

// MountProgressMessage is one frame on /mount_ws.
type MountProgressMessage struct {
	OK         bool    `json:"ok"`
	Percentage float64 `json:"percentage"`
	Error      *string `json:"error"`
	Done       bool    `json:"done"`
}

// GetAppsResponse answers GET /get_apps. BundleIDs maps display name to
// bundle identifier.
type GetAppsResponse struct {
	OK        bool              `json:"ok"`
	Apps      []string          `json:"apps"`
	BundleIDs map[string]string `json:"bundle_ids"`
	Error     *string           `json:"error"`
}

// LaunchAppResponse answers GET /launch_app/{bundle_id}.
type LaunchAppResponse struct {
	OK        bool    `json:"ok"`
	Launching bool    `json:"launching"`
	Position  *int    `json:"position"`
	Error     *string `json:"error"`
	// Mounting is always false; older clients still read it.
	Mounting bool `json:"mounting"`
}

// StatusResponse answers GET /status.
type StatusResponse struct {
	Done     bool    `json:"done"`
	OK       bool    `json:"ok"`
	Position int     `json:"position"`
	Error    *string `json:"error"`
	// InProgress is always false; older clients still read it.
	InProgress bool `json:"in_progress"`
}

// VersionRequest is the body of POST /version.
type VersionRequest struct {
	Version string `json:"version"`
}

// VersionResponse reports whether the client is new enough.
type VersionResponse struct {
	OK bool `json:"ok"`
}

// QueueItem describes a launch queue row for operators.
type QueueItem struct {
	Ordinal   int64  `json:"ordinal"`
	UDID      string `json:"udid"`
	IP        string `json:"ip"`
	BundleID  string `json:"bundleId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// QueueStats counts launch queue rows by status.
type QueueStats struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// DiagnosticsResponse answers GET /api/diagnostics.
type DiagnosticsResponse struct {
	Heartbeats []string    `json:"heartbeats"`
	Mounts     []string    `json:"mounts"`
	Queue      QueueStats  `json:"queue"`
	Items      []QueueItem `json:"items"`
	Error      string      `json:"error,omitempty"`
}
