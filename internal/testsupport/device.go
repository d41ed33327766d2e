package testsupport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"jitstreamer/internal/device"
)

// FakeDevice is a scriptable device.Client. Zero values describe a healthy
// device with no developer image mounted and no apps.
type FakeDevice struct {
	mu sync.Mutex

	ConnectErr error
	// HeartbeatErr is returned by every keep-alive after the first
	// HeartbeatOK successful exchanges.
	HeartbeatErr error
	HeartbeatOK  int
	// HeartbeatDelay paces keep-alive requests after the first one.
	HeartbeatDelay time.Duration

	Images    []device.ImageDescriptor
	ImagesErr error
	ChipID    uint64
	ChipErr   error
	Apps      []device.App
	AppsErr   error

	// MountSteps are reported through the progress callback in order.
	MountSteps [][2]int
	MountErr   error
	// MountGate, when set, blocks MountImage until closed.
	MountGate chan struct{}
	// MountStarted receives one value per MountImage call, if set.
	MountStarted chan struct{}

	connects  atomic.Int64
	mounts    atomic.Int64
	heartbeat atomic.Int64
	open      atomic.Int64
}

// Connect implements device.Client.
func (f *FakeDevice) Connect(ctx context.Context, target device.Target) (device.Session, error) {
	f.connects.Add(1)
	f.mu.Lock()
	err := f.ConnectErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.open.Add(1)
	return &fakeSession{dev: f, target: target}, nil
}

// SetMountErr changes the failure returned by later mounts.
func (f *FakeDevice) SetMountErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MountErr = err
}

// SetImages replaces the mounted image list.
func (f *FakeDevice) SetImages(images []device.ImageDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Images = images
}

// Connects counts Connect calls.
func (f *FakeDevice) Connects() int { return int(f.connects.Load()) }

// Mounts counts MountImage calls.
func (f *FakeDevice) Mounts() int { return int(f.mounts.Load()) }

// Heartbeats counts successful keep-alive exchanges.
func (f *FakeDevice) Heartbeats() int { return int(f.heartbeat.Load()) }

// OpenSessions counts sessions not yet closed.
func (f *FakeDevice) OpenSessions() int { return int(f.open.Load()) }

type fakeSession struct {
	dev    *FakeDevice
	target device.Target
	beats  int
	closed atomic.Bool
}

func (s *fakeSession) Heartbeat(ctx context.Context, interval time.Duration) (time.Duration, error) {
	s.dev.mu.Lock()
	delay := s.dev.HeartbeatDelay
	failErr := s.dev.HeartbeatErr
	okCount := s.dev.HeartbeatOK
	s.dev.mu.Unlock()

	if s.beats > 0 {
		if delay <= 0 {
			delay = 5 * time.Millisecond
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return 0, device.NewError(device.KindUnreachable, "heartbeat", ctx.Err())
		}
	}
	if failErr != nil && s.beats >= okCount {
		return 0, failErr
	}
	s.beats++
	return interval, nil
}

func (s *fakeSession) Acknowledge(context.Context) error {
	s.dev.heartbeat.Add(1)
	return nil
}

func (s *fakeSession) ListMountedImages(context.Context) ([]device.ImageDescriptor, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.ImagesErr != nil {
		return nil, s.dev.ImagesErr
	}
	return append([]device.ImageDescriptor(nil), s.dev.Images...), nil
}

func (s *fakeSession) UniqueChipID(context.Context) (uint64, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.dev.ChipID, s.dev.ChipErr
}

func (s *fakeSession) MountImage(ctx context.Context, _ device.DiskImage, _ uint64, progress func(done, total int)) error {
	s.dev.mounts.Add(1)
	s.dev.mu.Lock()
	gate := s.dev.MountGate
	started := s.dev.MountStarted
	steps := append([][2]int(nil), s.dev.MountSteps...)
	mountErr := s.dev.MountErr
	s.dev.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, step := range steps {
		if progress != nil {
			progress(step[0], step[1])
		}
	}
	return mountErr
}

func (s *fakeSession) ListApps(context.Context) ([]device.App, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.AppsErr != nil {
		return nil, s.dev.AppsErr
	}
	return append([]device.App(nil), s.dev.Apps...), nil
}

func (s *fakeSession) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.dev.open.Add(-1)
	}
	return nil
}

// ErrFakeTransfer is a convenience failure for mount tests.
var ErrFakeTransfer = errors.New("transfer interrupted")
