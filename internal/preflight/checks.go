package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"jitstreamer/internal/config"
	"jitstreamer/internal/deps"
	"jitstreamer/internal/device"
	"jitstreamer/internal/store"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckReadableDirectory verifies that the directory exists and can be listed.
// Pairing records are provisioned by the system and only read by jitstreamer.
func CheckReadableDirectory(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.X_OK, "read ok")
}

func checkDirectory(name, path string, mode uint32, okDetail string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, okDetail)}
}

// CheckDiskImage verifies the developer disk image bundle is complete.
func CheckDiskImage(dir string) Result {
	const name = "Developer disk image"

	if strings.TrimSpace(dir) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	image, err := device.LoadDiskImage(dir)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", dir, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d bytes)", filepath.Join(dir, device.ImageFile), len(image.Image))}
}

// CheckStore verifies the database is reachable and carries the expected schema.
func CheckStore(ctx context.Context, db *store.DB) Result {
	const name = "Database"

	health, err := db.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", health.Path, err)}
	}
	switch {
	case !health.Exists:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", health.Path)}
	case len(health.MissingTables) > 0:
		return Result{Name: name, Detail: fmt.Sprintf("%s (missing tables: %s)", health.Path, strings.Join(health.MissingTables, ", "))}
	case !health.IntegrityCheck:
		return Result{Name: name, Detail: fmt.Sprintf("%s (integrity check failed: %s)", health.Path, health.Error)}
	}
	return Result{Name: name, Passed: true, Detail: health.Path}
}

// CheckSystemDeps evaluates the external programs the daemon launches.
// Both the daemon and the CLI preflight command use this to avoid duplicating
// the requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "Device helper",
			Command:     cfg.Device.HelperBinary,
			Description: "Required for device heartbeat, mount, and app listing",
		},
	}
	if cfg.Runner.Count > 0 && len(cfg.Runner.Command) > 0 {
		requirements = append(requirements, deps.Requirement{
			Name:        "Launch runner",
			Command:     cfg.Runner.Command[0],
			Description: "Runs queued launches",
		})
	}
	return deps.CheckBinaries(requirements)
}
