package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jitstreamer/internal/device"
	"jitstreamer/internal/logging"
)

// DefaultInterval is the keep-alive period requested from devices.
const DefaultInterval = 30 * time.Second

// Starter opens keep-alive loops. It is the seam used by the mount broker and
// the api service.
type Starter struct {
	client   device.Client
	interval time.Duration
	logger   *slog.Logger
}

// NewStarter constructs a starter using client for sessions.
func NewStarter(client device.Client, interval time.Duration, logger *slog.Logger) *Starter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Starter{
		client:   client,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "heartbeat"),
	}
}

// Start connects to the device and performs the first exchange before
// returning. The loop then runs detached from ctx until the handle is
// cancelled or the device stops answering. Failures are *device.ProtocolError.
func (s *Starter) Start(ctx context.Context, target device.Target) (*Handle, error) {
	session, err := s.client.Connect(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := exchange(ctx, session, s.interval); err != nil {
		_ = session.Close()
		return nil, err
	}

	handle := newHandle(target.UDID)
	go s.run(handle, session)
	return handle, nil
}

// exchange waits for the device's keep-alive request and answers it.
func exchange(ctx context.Context, session device.Session, interval time.Duration) error {
	if _, err := session.Heartbeat(ctx, interval); err != nil {
		return err
	}
	if err := session.Acknowledge(ctx); err != nil {
		return fmt.Errorf("send acknowledgement: %w", err)
	}
	return nil
}

func (s *Starter) run(handle *Handle, session device.Session) {
	defer close(handle.exited)
	defer session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-handle.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	logger := s.logger.With(logging.UDID(handle.udid))
	for {
		if handle.Cancelled() {
			logger.Debug("heartbeat cancelled")
			return
		}
		if err := exchange(ctx, session, s.interval); err != nil {
			if handle.Cancelled() {
				logger.Debug("heartbeat cancelled")
			} else {
				logger.Debug("heartbeat loop ended", logging.Error(err))
			}
			return
		}
	}
}
