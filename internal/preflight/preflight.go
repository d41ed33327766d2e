package preflight

import (
	"context"

	"jitstreamer/internal/config"
	"jitstreamer/internal/deps"
	"jitstreamer/internal/store"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every preflight check for the given config. db may be nil
// when the store has not been opened yet.
func RunAll(ctx context.Context, cfg *config.Config, db *store.DB) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckReadableDirectory("Lockdown directory", cfg.Paths.LockdownDir),
		CheckDiskImage(cfg.Paths.DDIDir),
	}

	for _, status := range CheckSystemDeps(cfg) {
		results = append(results, fromDependency(status))
	}

	if db != nil {
		results = append(results, CheckStore(ctx, db))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func fromDependency(status deps.Status) Result {
	if status.Available {
		return Result{Name: status.Name, Passed: true, Detail: status.Path}
	}
	if status.Optional {
		return Result{Name: status.Name, Passed: true, Detail: status.Detail + " (optional)"}
	}
	return Result{Name: status.Name, Detail: status.Detail}
}
