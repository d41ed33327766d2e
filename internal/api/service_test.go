package api_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"jitstreamer/internal/api"
	"jitstreamer/internal/config"
	"jitstreamer/internal/credentials"
	"jitstreamer/internal/device"
	"jitstreamer/internal/heartbeat"
	"jitstreamer/internal/launchqueue"
	"jitstreamer/internal/mount"
	"jitstreamer/internal/registry"
	"jitstreamer/internal/store"
	"jitstreamer/internal/testsupport"
)

const (
	deviceIP   = "10.7.0.2"
	deviceUDID = "00008110-000A1B2C3D4E"
)

type harness struct {
	cfg     *config.Config
	db      *store.DB
	dev     *testsupport.FakeDevice
	creds   *credentials.Store
	hb      *heartbeat.Manager
	mounts  *mount.Broker
	queue   *launchqueue.Queue
	service *api.Service
}

func newHarness(t *testing.T, dev *testsupport.FakeDevice) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithDiskImage())
	db := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedDevice(t, db, deviceUDID, deviceIP)
	testsupport.WritePairingFile(t, cfg.Paths.LockdownDir, deviceUDID)

	creds, err := credentials.NewStore(cfg.Paths.LockdownDir, 8)
	if err != nil {
		t.Fatalf("credentials.NewStore: %v", err)
	}
	hb := heartbeat.NewManager(heartbeat.NewStarter(dev, time.Second, nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hb.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	broker := mount.NewBroker(dev, hb, mount.DirLoader(cfg.Paths.DDIDir), nil)
	queue := launchqueue.New(db)
	service, err := api.NewService(api.Deps{
		Registry:    registry.New(db),
		Credentials: creds,
		Heartbeats:  hb,
		Mounts:      broker,
		Queue:       queue,
		Client:      dev,
	}, api.Options{
		MinClientVersion: "0.2.0",
		PollInterval:     10 * time.Millisecond,
		PollTimeout:      50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &harness{cfg: cfg, db: db, dev: dev, creds: creds, hb: hb, mounts: broker, queue: queue, service: service}
}

func (h *harness) waitMounts(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.mounts.Wait(ctx); err != nil {
		t.Fatalf("mount workers: %v", err)
	}
}

func errText(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func TestNewServiceRequiresDeps(t *testing.T) {
	if _, err := api.NewService(api.Deps{}, api.Options{}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}

func TestCheckMountUnknownDevice(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{})
	resp := h.service.CheckMount(context.Background(), "10.7.0.99")
	if resp.OK || resp.Mounting {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.Contains(errText(resp.Error), "10.7.0.99") {
		t.Fatalf("expected ip in error, got %q", errText(resp.Error))
	}
}

func TestCheckMountAlreadyMounted(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{
		Images: []device.ImageDescriptor{{"ImageType": "Developer"}},
	})
	resp := h.service.CheckMount(context.Background(), deviceIP)
	if !resp.OK || resp.Mounting || resp.Error != nil {
		t.Fatalf("expected mounted, got %+v", resp)
	}
}

func TestCheckMountLifecycle(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{MountSteps: [][2]int{{50, 100}}})
	ctx := context.Background()

	resp := h.service.CheckMount(ctx, deviceIP)
	if !resp.OK || !resp.Mounting {
		t.Fatalf("expected mounting, got %+v", resp)
	}
	h.waitMounts(t)

	resp = h.service.CheckMount(ctx, deviceIP)
	if !resp.OK || resp.Mounting {
		t.Fatalf("expected completion, got %+v", resp)
	}
}

func TestCheckMountReportsWorkerFailureOnce(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{MountErr: testsupport.ErrFakeTransfer})
	ctx := context.Background()

	h.service.CheckMount(ctx, deviceIP)
	h.waitMounts(t)

	resp := h.service.CheckMount(ctx, deviceIP)
	if resp.OK || !strings.HasPrefix(errText(resp.Error), "Failed to mount image: ") {
		t.Fatalf("expected mount failure, got %+v", resp)
	}

	h.dev.SetMountErr(nil)
	resp = h.service.CheckMount(ctx, deviceIP)
	if !resp.OK || !resp.Mounting {
		t.Fatalf("expected fresh attempt, got %+v", resp)
	}
	h.waitMounts(t)
}

func TestCheckMountInvalidPairingFile(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{
		ConnectErr: device.NewError(device.KindInvalidCredential, "connect", errors.New("InvalidHostID")),
	})
	ctx := context.Background()

	if _, err := h.creds.Get(deviceUDID); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	resp := h.service.CheckMount(ctx, deviceIP)
	want := "Failed to heartbeat device: " + device.InvalidCredentialMessage
	if resp.OK || errText(resp.Error) != want {
		t.Fatalf("expected %q, got %+v", want, resp)
	}
	if h.creds.Len() != 0 {
		t.Fatal("rejected pairing file should be evicted")
	}
}

func TestCheckMountMissingPairingFile(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{})
	testsupport.SeedDevice(t, h.db, "unpaired", "10.7.0.3")

	resp := h.service.CheckMount(context.Background(), "10.7.0.3")
	if resp.OK || !strings.HasPrefix(errText(resp.Error), "Unable to get pairing file") {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestStreamMountWithoutMount(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{})
	var frames []api.MountProgressMessage
	err := h.service.StreamMount(context.Background(), deviceIP, func(m api.MountProgressMessage) error {
		frames = append(frames, m)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamMount: %v", err)
	}
	if len(frames) != 1 || !frames[0].OK || frames[0].Done {
		t.Fatalf("expected single idle frame, got %+v", frames)
	}
}

func TestStreamMountFollowsWorker(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &testsupport.FakeDevice{
		MountGate:  gate,
		MountSteps: [][2]int{{30, 100}, {100, 100}},
	})
	ctx := context.Background()

	if resp := h.service.CheckMount(ctx, deviceIP); !resp.Mounting {
		t.Fatalf("expected mounting, got %+v", resp)
	}

	frames := make(chan api.MountProgressMessage, 32)
	done := make(chan error, 1)
	go func() {
		done <- h.service.StreamMount(ctx, deviceIP, func(m api.MountProgressMessage) error {
			frames <- m
			return nil
		})
	}()
	close(gate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StreamMount: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish")
	}
	close(frames)

	var last api.MountProgressMessage
	for f := range frames {
		last = f
	}
	if !last.OK || !last.Done || last.Percentage != 1 {
		t.Fatalf("expected final done frame, got %+v", last)
	}
}

func TestGetApps(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{
		Apps: []device.App{
			{BundleID: "com.example.emu", Name: "Emu", Debuggable: true},
			{BundleID: "com.example.store", Name: "Store", Debuggable: false},
			{BundleID: "com.example.jit", Name: "Jit", Debuggable: true},
		},
	})
	ctx := context.Background()

	resp := h.service.GetApps(ctx, deviceIP)
	if !resp.OK || resp.Error != nil {
		t.Fatalf("GetApps failed: %+v", resp)
	}
	if len(resp.Apps) != 2 || resp.Apps[0] != "Emu" || resp.Apps[1] != "Jit" {
		t.Fatalf("unexpected apps %v", resp.Apps)
	}
	if resp.BundleIDs["Jit"] != "com.example.jit" {
		t.Fatalf("unexpected bundle ids %v", resp.BundleIDs)
	}

	active, err := h.hb.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("heartbeat should be released after listing, got %v", active)
	}
}

func TestGetAppsNoneDebuggable(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{
		Apps: []device.App{{BundleID: "com.example.store", Name: "Store"}},
	})
	resp := h.service.GetApps(context.Background(), deviceIP)
	if resp.OK || errText(resp.Error) != "No apps with get-task-allow found" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Apps == nil {
		t.Fatal("apps must encode as an empty list")
	}
}

func TestLaunchAppQueuesOnce(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{})
	testsupport.SeedDevice(t, h.db, "other", "10.7.0.3")
	ctx := context.Background()

	first := h.service.LaunchApp(ctx, "10.7.0.3", "com.example.first")
	if !first.OK || first.Position == nil || *first.Position != 0 {
		t.Fatalf("unexpected first launch %+v", first)
	}

	resp := h.service.LaunchApp(ctx, deviceIP, "com.example.jit")
	if !resp.OK || !resp.Launching || resp.Position == nil || *resp.Position != 1 {
		t.Fatalf("unexpected launch %+v", resp)
	}
	again := h.service.LaunchApp(ctx, deviceIP, "com.example.jit")
	if again.Position == nil || *again.Position != 1 {
		t.Fatalf("repeat launch should report position, got %+v", again)
	}

	entries, err := h.queue.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected no duplicate rows, got %d", len(entries))
	}
}

func TestLaunchAppDeliversFailure(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{})
	ctx := context.Background()

	h.service.LaunchApp(ctx, deviceIP, "com.example.jit")
	entry, err := h.queue.Claim(ctx)
	if err != nil || entry == nil {
		t.Fatalf("Claim: %v %v", entry, err)
	}
	if err := h.queue.Fail(ctx, entry.Ordinal, "debugserver refused"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	resp := h.service.LaunchApp(ctx, deviceIP, "com.example.jit")
	if resp.OK || errText(resp.Error) != "debugserver refused" {
		t.Fatalf("expected failure delivery, got %+v", resp)
	}
}

func TestQueueStatusReturnsAtOnceWhenIdle(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{})
	resp := h.service.QueueStatus(context.Background(), deviceIP)
	if !resp.OK || !resp.Done {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestQueueStatusPollsUntilTimeout(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{})
	ctx := context.Background()
	h.service.LaunchApp(ctx, deviceIP, "com.example.jit")

	start := time.Now()
	resp := h.service.QueueStatus(ctx, deviceIP)
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected long poll, returned after %v", elapsed)
	}
	if !resp.OK || resp.Done || resp.Position != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestQueueStatusReportsFailure(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{})
	ctx := context.Background()
	h.service.LaunchApp(ctx, deviceIP, "com.example.jit")
	entry, _ := h.queue.Claim(ctx)
	if err := h.queue.Fail(ctx, entry.Ordinal, ""); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	resp := h.service.QueueStatus(ctx, deviceIP)
	if resp.OK || !resp.Done || errText(resp.Error) != "Unknown error" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp := h.service.QueueStatus(ctx, deviceIP); !resp.OK || !resp.Done {
		t.Fatalf("failure must be delivered once, got %+v", resp)
	}
}

func TestCheckVersion(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{})
	cases := map[string]bool{
		"0.2.0":  true,
		"0.2.1":  true,
		"1.0":    true,
		"0.1.9":  false,
		"0.2":    true,
		"":       false,
		"banana": false,
	}
	for version, want := range cases {
		if got := h.service.CheckVersion(api.VersionRequest{Version: version}).OK; got != want {
			t.Fatalf("CheckVersion(%q) = %v, want %v", version, got, want)
		}
	}
}

func TestDiagnostics(t *testing.T) {
	h := newHarness(t, &testsupport.FakeDevice{})
	ctx := context.Background()
	h.service.LaunchApp(ctx, deviceIP, "com.example.jit")

	diag := h.service.Diagnostics(ctx)
	if diag.Error != "" {
		t.Fatalf("unexpected error %q", diag.Error)
	}
	if diag.Queue.Pending != 1 || diag.Queue.Total != 1 || len(diag.Items) != 1 {
		t.Fatalf("unexpected queue view %+v", diag)
	}
	if diag.Items[0].Status != "pending" || diag.Items[0].BundleID != "com.example.jit" {
		t.Fatalf("unexpected item %+v", diag.Items[0])
	}
}
