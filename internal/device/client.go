package device

import (
	"context"
	"net/netip"
	"time"

	"jitstreamer/internal/credentials"
)

// Target identifies the device to connect to.
type Target struct {
	UDID       string
	Address    netip.Addr
	Credential *credentials.PairingFile
}

// Client opens protocol sessions. Failures are *ProtocolError.
type Client interface {
	Connect(ctx context.Context, target Target) (Session, error)
}

// Session is one authenticated conversation with a device.
type Session interface {
	// Heartbeat waits up to interval for the device's keep-alive request and
	// returns the interval the device asked for next.
	Heartbeat(ctx context.Context, interval time.Duration) (time.Duration, error)
	// Acknowledge answers the most recent keep-alive request.
	Acknowledge(ctx context.Context) error
	ListMountedImages(ctx context.Context) ([]ImageDescriptor, error)
	UniqueChipID(ctx context.Context) (uint64, error)
	MountImage(ctx context.Context, image DiskImage, chipID uint64, progress func(done, total int)) error
	ListApps(ctx context.Context) ([]App, error)
	Close() error
}
