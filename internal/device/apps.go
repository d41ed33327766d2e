package device

import (
	"bytes"
	"fmt"
	"sort"

	"howett.net/plist"
)

// App is an installed user application.
type App struct {
	BundleID   string
	Name       string
	Debuggable bool
}

// ParseApps decodes the installation proxy listing: a dictionary keyed by
// bundle identifier. Apps are returned sorted by name.
func ParseApps(data []byte) ([]App, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var raw map[string]map[string]any
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode app list: %w", err)
	}
	apps := make([]App, 0, len(raw))
	for bundleID, info := range raw {
		app := App{BundleID: bundleID, Name: bundleID}
		if name, ok := info["CFBundleName"].(string); ok && name != "" {
			app.Name = name
		}
		if entitlements, ok := info["Entitlements"].(map[string]any); ok {
			allow, _ := entitlements["get-task-allow"].(bool)
			app.Debuggable = allow
		}
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].Name == apps[j].Name {
			return apps[i].BundleID < apps[j].BundleID
		}
		return apps[i].Name < apps[j].Name
	})
	return apps, nil
}

// FilterDebuggable keeps apps signed with get-task-allow.
func FilterDebuggable(apps []App) []App {
	out := make([]App, 0, len(apps))
	for _, app := range apps {
		if app.Debuggable {
			out = append(out, app)
		}
	}
	return out
}
