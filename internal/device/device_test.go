package device_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"howett.net/plist"

	"jitstreamer/internal/device"
)

func TestImageDescriptorIsDeveloper(t *testing.T) {
	developer := device.ImageDescriptor{
		"ImageSignature": []byte{0x01, 0x02},
		"DiskImageType":  "Developer",
	}
	other := device.ImageDescriptor{
		"DiskImageType": "Cryptex",
		"MountPath":     "/System/Cryptexes/App",
	}
	if !developer.IsDeveloper() {
		t.Fatal("expected developer image to be detected")
	}
	if other.IsDeveloper() {
		t.Fatal("expected non-developer image to be ignored")
	}
	if !device.HasDeveloperImage([]device.ImageDescriptor{other, developer}) {
		t.Fatal("expected HasDeveloperImage to find developer entry")
	}
	if device.HasDeveloperImage(nil) {
		t.Fatal("expected empty list to report no developer image")
	}
}

func TestParseImageList(t *testing.T) {
	data, err := plist.Marshal([]map[string]any{
		{"DiskImageType": "Personalized", "PersonalizedImageType": "DeveloperDiskImage"},
		{"DiskImageType": "Cryptex"},
	}, plist.XMLFormat)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	images, err := device.ParseImageList(data)
	if err != nil {
		t.Fatalf("ParseImageList: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
	if !images[0].IsDeveloper() || images[1].IsDeveloper() {
		t.Fatalf("unexpected developer detection: %v", images)
	}

	empty, err := device.ParseImageList([]byte("  \n"))
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list, got %v %v", empty, err)
	}
}

func TestParseAppsAndFilter(t *testing.T) {
	data, err := plist.Marshal(map[string]any{
		"com.example.debug": map[string]any{
			"CFBundleName": "Debug App",
			"Entitlements": map[string]any{"get-task-allow": true},
		},
		"com.example.store": map[string]any{
			"CFBundleName": "Store App",
			"Entitlements": map[string]any{"get-task-allow": false},
		},
		"com.example.noname": map[string]any{
			"Entitlements": map[string]any{"get-task-allow": true},
		},
	}, plist.XMLFormat)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	apps, err := device.ParseApps(data)
	if err != nil {
		t.Fatalf("ParseApps: %v", err)
	}
	if len(apps) != 3 {
		t.Fatalf("expected 3 apps, got %d", len(apps))
	}
	debuggable := device.FilterDebuggable(apps)
	if len(debuggable) != 2 {
		t.Fatalf("expected 2 debuggable apps, got %+v", debuggable)
	}
	if debuggable[0].Name != "Debug App" || debuggable[0].BundleID != "com.example.debug" {
		t.Fatalf("unexpected first app: %+v", debuggable[0])
	}
	if debuggable[1].Name != "com.example.noname" {
		t.Fatalf("expected bundle id fallback name, got %+v", debuggable[1])
	}
}

func TestLoadDiskImage(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		device.ImageFile:      "image",
		device.TrustCacheFile: "trust",
		device.ManifestFile:   "manifest",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	image, err := device.LoadDiskImage(dir)
	if err != nil {
		t.Fatalf("LoadDiskImage: %v", err)
	}
	if string(image.Image) != "image" || string(image.TrustCache) != "trust" || string(image.Manifest) != "manifest" {
		t.Fatalf("unexpected image contents: %+v", image)
	}
	if image.Dir != dir {
		t.Fatalf("expected dir %q, got %q", dir, image.Dir)
	}

	if err := os.Remove(filepath.Join(dir, device.ManifestFile)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := device.LoadDiskImage(dir); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

func TestProtocolErrorMessages(t *testing.T) {
	cred := device.NewError(device.KindInvalidCredential, "connect", errors.New("InvalidHostID"))
	if cred.UserMessage() != device.InvalidCredentialMessage {
		t.Fatalf("unexpected credential message %q", cred.UserMessage())
	}
	wrapped := errors.Join(errors.New("context"), cred)
	if !device.IsInvalidCredential(wrapped) {
		t.Fatal("expected wrapped credential error to be detected")
	}
	if device.UserMessage(wrapped) != device.InvalidCredentialMessage {
		t.Fatalf("expected UserMessage to unwrap, got %q", device.UserMessage(wrapped))
	}

	unreachable := device.NewError(device.KindUnreachable, "heartbeat", nil)
	if unreachable.UserMessage() == device.InvalidCredentialMessage {
		t.Fatal("unreachable must not use credential message")
	}
	if device.IsInvalidCredential(unreachable) {
		t.Fatal("unreachable must not classify as invalid credential")
	}
	if device.UserMessage(errors.New("plain")) != "plain" {
		t.Fatal("expected plain errors to render as-is")
	}
}
