package registry_test

import (
	"context"
	"errors"
	"testing"

	"jitstreamer/internal/registry"
	"jitstreamer/internal/testsupport"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenStore(t, cfg)
	return registry.New(db)
}

func TestResolveIdentity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedDevice(t, db, "00008030-AAAA", "10.7.0.2")
	reg := registry.New(db)
	ctx := context.Background()

	udid, err := reg.ResolveIdentity(ctx, "10.7.0.2")
	if err != nil {
		t.Fatalf("ResolveIdentity: %v", err)
	}
	if udid != "00008030-AAAA" {
		t.Fatalf("unexpected udid %q", udid)
	}

	udid, err = reg.ResolveIdentity(ctx, "::ffff:10.7.0.2")
	if err != nil || udid != "00008030-AAAA" {
		t.Fatalf("mapped address should resolve, got %q, %v", udid, err)
	}

	if _, err := reg.ResolveIdentity(ctx, "10.7.0.3"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertMovesAddress(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	if err := reg.Upsert(ctx, "dev-a", "10.7.0.2"); err != nil {
		t.Fatalf("Upsert a: %v", err)
	}
	if err := reg.Upsert(ctx, "dev-a", "10.7.0.4"); err != nil {
		t.Fatalf("Upsert a again: %v", err)
	}
	if _, err := reg.ResolveIdentity(ctx, "10.7.0.2"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("old address should be released, got %v", err)
	}

	if err := reg.Upsert(ctx, "dev-b", "10.7.0.4"); err != nil {
		t.Fatalf("Upsert b: %v", err)
	}
	udid, err := reg.ResolveIdentity(ctx, "10.7.0.4")
	if err != nil || udid != "dev-b" {
		t.Fatalf("address should move to dev-b, got %q, %v", udid, err)
	}
	if _, err := reg.Lookup(ctx, "dev-a"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("dev-a should be gone, got %v", err)
	}
}

func TestUpsertRejectsBadInput(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()
	if err := reg.Upsert(ctx, "", "10.7.0.2"); err == nil {
		t.Fatal("expected error for empty udid")
	}
	if err := reg.Upsert(ctx, "dev-a", "not-an-ip"); err == nil {
		t.Fatal("expected error for bad ip")
	}
}

func TestTouchSetsLastUsed(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()
	if err := reg.Upsert(ctx, "dev-a", "10.7.0.2"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	d, err := reg.Lookup(ctx, "dev-a")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !d.LastUsed.IsZero() {
		t.Fatalf("expected no last_used yet, got %v", d.LastUsed)
	}

	if err := reg.Touch(ctx, "dev-a"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	d, err = reg.Lookup(ctx, "dev-a")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if d.LastUsed.IsZero() {
		t.Fatal("expected last_used to be set")
	}

	if err := reg.Touch(ctx, "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAndRemove(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()
	for udid, ip := range map[string]string{"dev-b": "10.7.0.3", "dev-a": "10.7.0.2"} {
		if err := reg.Upsert(ctx, udid, ip); err != nil {
			t.Fatalf("Upsert %s: %v", udid, err)
		}
	}

	devices, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(devices) != 2 || devices[0].UDID != "dev-a" || devices[1].IP != "10.7.0.3" {
		t.Fatalf("unexpected devices %+v", devices)
	}

	if err := reg.Remove(ctx, "dev-a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := reg.ResolveIdentity(ctx, "10.7.0.2"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected removed device to be gone, got %v", err)
	}
	if err := reg.Remove(ctx, "dev-a"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second remove, got %v", err)
	}
}
