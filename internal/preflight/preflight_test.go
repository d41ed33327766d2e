package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jitstreamer/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDirectoryAccess_Empty(t *testing.T) {
	if result := CheckReadableDirectory("test", " "); result.Passed {
		t.Fatal("expected failure for unset path")
	}
}

func TestCheckDiskImage(t *testing.T) {
	dir := t.TempDir()
	if result := CheckDiskImage(dir); result.Passed {
		t.Fatal("expected failure for empty DDI directory")
	}
	testsupport.WriteDiskImage(t, dir)
	if result := CheckDiskImage(dir); !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
}

func TestCheckSystemDeps(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedHelper())
	cfg.Runner.Count = 2
	cfg.Runner.Command = []string{"clearly-not-present-runner", "-u", "runner.py"}

	statuses := CheckSystemDeps(cfg)
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Available {
		t.Fatalf("expected stubbed helper to be found: %s", statuses[0].Detail)
	}
	if statuses[1].Available {
		t.Fatal("expected missing runner to be reported")
	}
}

func TestRunAll(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedHelper(), testsupport.WithDiskImage())
	db := testsupport.MustOpenStore(t, cfg)

	results := RunAll(context.Background(), cfg, db)
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected all checks to pass, got %+v", failed)
	}
	if results[len(results)-1].Name != "Database" {
		t.Fatalf("expected database check last, got %+v", results[len(results)-1])
	}
}

func TestRunAllReportsMissingDiskImage(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedHelper())

	failed := Failed(RunAll(context.Background(), cfg, nil))
	if len(failed) != 1 || failed[0].Name != "Developer disk image" {
		t.Fatalf("expected only the disk image check to fail, got %+v", failed)
	}
}
