package testsupport

import (
	"context"
	"testing"

	"jitstreamer/internal/config"
	"jitstreamer/internal/store"
)

// MustOpenStore opens the database for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.DB {
	t.Helper()

	db, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// SeedDevice inserts a registry row mapping udid to ip.
func SeedDevice(t testing.TB, db *store.DB, udid, ip string) {
	t.Helper()

	if _, err := db.Exec(context.Background(), "INSERT INTO devices (udid, ip) VALUES (?, ?)", udid, ip); err != nil {
		t.Fatalf("seed device %s: %v", udid, err)
	}
}
