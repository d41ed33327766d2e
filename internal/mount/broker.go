package mount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"jitstreamer/internal/device"
	"jitstreamer/internal/logging"
)

// ErrNothingInProgress is returned by Stream when the device has no cached
// mount.
var ErrNothingInProgress = errors.New("no mount in progress")

// Heartbeats is the part of the heartbeat manager the broker needs.
type Heartbeats interface {
	Keepalive(ctx context.Context, target device.Target) error
	Kill(ctx context.Context, udid string) error
}

// Step names the phase of CheckOrStart that failed.
type Step string

const (
	StepHeartbeat Step = "heartbeat"
	StepImages    Step = "images"
)

// StepError wraps a device failure that happened before any worker started.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// FailedError carries a worker failure drained by a poll.
type FailedError struct {
	Message string
}

func (e *FailedError) Error() string { return "mount failed: " + e.Message }

// Result is the outcome of a successful CheckOrStart.
type Result struct {
	// Mounting is true while a worker for the device is in flight.
	Mounting bool
	// Started is true when this call spawned the worker.
	Started bool
}

// ImageLoader returns the disk image bundle to mount.
type ImageLoader func() (device.DiskImage, error)

// DirLoader reads the bundle from dir on every call.
func DirLoader(dir string) ImageLoader {
	return func() (device.DiskImage, error) {
		return device.LoadDiskImage(dir)
	}
}

// Broker owns the per-device progress cache.
type Broker struct {
	client     device.Client
	heartbeats Heartbeats
	loadImage  ImageLoader
	logger     *slog.Logger

	mu    sync.Mutex
	slots map[string]*Slot

	workers sync.WaitGroup
}

// NewBroker constructs a broker.
func NewBroker(client device.Client, heartbeats Heartbeats, loadImage ImageLoader, logger *slog.Logger) *Broker {
	return &Broker{
		client:     client,
		heartbeats: heartbeats,
		loadImage:  loadImage,
		logger:     logging.NewComponentLogger(logger, "mount"),
		slots:      make(map[string]*Slot),
	}
}

// CheckOrStart reports the mount state for target, starting a worker when
// no developer image is mounted and none is in flight. Terminal values in the
// cache are removed by this call. A drained failure is a *FailedError; a
// failure before the worker starts is a *StepError.
func (b *Broker) CheckOrStart(ctx context.Context, target device.Target) (Result, error) {
	udid := target.UDID
	logger := logging.WithContext(ctx, b.logger).With(logging.UDID(udid))

	if res, found, err := b.drain(udid); found {
		return res, err
	}

	if err := b.heartbeats.Keepalive(ctx, target); err != nil {
		logger.Info("heartbeat failed before mount check", logging.Error(err))
		return Result{}, &StepError{Step: StepHeartbeat, Err: err}
	}

	mounted, err := b.developerMounted(ctx, target)
	if err != nil {
		logger.Info("image list failed", logging.Error(err))
		return Result{}, &StepError{Step: StepImages, Err: err}
	}
	if mounted {
		return Result{}, nil
	}

	b.mu.Lock()
	if existing, ok := b.slots[udid]; ok {
		b.mu.Unlock()
		logger.Debug("mount already started by concurrent request")
		// A closed slot means the worker has already released the heartbeat,
		// so the one stored above would outlive it.
		if existing.Closed() {
			if err := b.heartbeats.Kill(ctx, udid); err != nil {
				logger.Debug("heartbeat release failed", logging.Error(err))
			}
		}
		return Result{Mounting: true}, nil
	}
	slot := NewSlot(initialProgress())
	b.slots[udid] = slot
	b.workers.Add(1)
	b.mu.Unlock()

	logger.Info("starting developer image mount")
	go b.work(target, slot)
	return Result{Mounting: true, Started: true}, nil
}

// drain reads a cached entry. found is false when there is none.
func (b *Broker) drain(udid string) (Result, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot, ok := b.slots[udid]
	if !ok {
		return Result{}, false, nil
	}
	value, _ := slot.Load()
	switch {
	case value.Failed():
		delete(b.slots, udid)
		return Result{}, true, &FailedError{Message: value.Err}
	case value.Complete:
		delete(b.slots, udid)
		return Result{}, true, nil
	default:
		return Result{Mounting: true}, true, nil
	}
}

func (b *Broker) developerMounted(ctx context.Context, target device.Target) (bool, error) {
	session, err := b.client.Connect(ctx, target)
	if err != nil {
		return false, err
	}
	defer session.Close()

	images, err := session.ListMountedImages(ctx)
	if err != nil {
		return false, err
	}
	return device.HasDeveloperImage(images), nil
}

// work runs one mount to completion. It is not tied to any request context.
// The heartbeat is killed before the slot closes.
func (b *Broker) work(target device.Target, slot *Slot) {
	defer b.workers.Done()
	defer slot.Close()

	ctx := context.Background()
	logger := b.logger.With(logging.UDID(target.UDID))

	if err := b.mount(ctx, target, slot, logger); err != nil {
		logging.WarnWithContext(logger, "developer image mount failed", "mount_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, device.UserMessage(err)),
			logging.String(logging.FieldImpact, "device cannot be debugged until mounted"),
		)
		slot.Publish(Progress{Err: err.Error()})
	} else {
		logger.Info("developer image mounted")
		slot.Publish(Progress{Done: 1, Total: 1, Complete: true})
	}

	if err := b.heartbeats.Kill(ctx, target.UDID); err != nil {
		logger.Debug("heartbeat release failed", logging.Error(err))
	}
}

func (b *Broker) mount(ctx context.Context, target device.Target, slot *Slot, logger *slog.Logger) error {
	image, err := b.loadImage()
	if err != nil {
		return fmt.Errorf("load disk image: %w", err)
	}

	session, err := b.client.Connect(ctx, target)
	if err != nil {
		return err
	}
	defer session.Close()

	chipID, err := session.UniqueChipID(ctx)
	if err != nil {
		return err
	}

	sampler := logging.NewProgressSampler(10)
	last := initialProgress()
	progress := func(done, total int) {
		next := Progress{Done: done, Total: total}
		if !last.advances(next) {
			return
		}
		last = next
		slot.Publish(last)
		if pct := last.Percentage() * 100; sampler.ShouldLog(pct) {
			logger.Info("mount progress", logging.Int("done", done), logging.Int("total", total))
		}
	}
	return session.MountImage(ctx, image, chipID, progress)
}

// Stream sends the current value for udid, then every change, until the
// worker ends, send fails, or ctx is done. It never removes the cache entry.
func (b *Broker) Stream(ctx context.Context, udid string, send func(Progress) error) error {
	b.mu.Lock()
	slot, ok := b.slots[udid]
	b.mu.Unlock()
	if !ok {
		return ErrNothingInProgress
	}

	for {
		value, version := slot.Load()
		if err := send(value); err != nil {
			return fmt.Errorf("send progress: %w", err)
		}
		if err := slot.Wait(ctx, version); err != nil {
			if errors.Is(err, ErrSlotClosed) {
				return nil
			}
			return err
		}
	}
}

// InFlight lists devices with a cached entry, including undrained terminal ones.
func (b *Broker) InFlight() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	udids := make([]string, 0, len(b.slots))
	for udid := range b.slots {
		udids = append(udids, udid)
	}
	sort.Strings(udids)
	return udids
}

// Wait blocks until every spawned worker has returned or ctx ends.
func (b *Broker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
