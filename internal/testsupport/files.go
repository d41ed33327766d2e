package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"howett.net/plist"

	"jitstreamer/internal/credentials"
	"jitstreamer/internal/device"
)

// WritePairingFile stores a minimal valid pairing file for udid in dir and
// returns its path.
func WritePairingFile(t testing.TB, dir, udid string) string {
	t.Helper()

	data, err := plist.Marshal(credentials.PairingFile{
		HostID:            "host-" + udid,
		SystemBUID:        "buid-test",
		DeviceCertificate: []byte("device-cert"),
		HostCertificate:   []byte("host-cert"),
		HostPrivateKey:    []byte("host-key"),
		RootCertificate:   []byte("root-cert"),
	}, plist.XMLFormat)
	if err != nil {
		t.Fatalf("marshal pairing file: %v", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, udid+".plist")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write pairing file: %v", err)
	}
	return path
}

// WriteDiskImage fills dir with placeholder developer disk image files.
func WriteDiskImage(t testing.TB, dir string) {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	for _, name := range []string{device.ImageFile, device.TrustCacheFile, device.ManifestFile} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}
