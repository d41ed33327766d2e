package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"jitstreamer/internal/config"
	"jitstreamer/internal/credentials"
	"jitstreamer/internal/device"
	"jitstreamer/internal/heartbeat"
	"jitstreamer/internal/launchqueue"
	"jitstreamer/internal/logging"
	"jitstreamer/internal/mount"
	"jitstreamer/internal/registry"
)

const (
	noAppsMessage       = "No apps with get-task-allow found"
	launchStatusMessage = "Failed to get launch status"
	enqueueMessage      = "Failed to add to queue"
	serverErrorMessage  = "server error"
)

// Deps are the collaborators a Service composes.
type Deps struct {
	Registry    *registry.Registry
	Credentials *credentials.Store
	Heartbeats  *heartbeat.Manager
	Mounts      *mount.Broker
	Queue       *launchqueue.Queue
	Client      device.Client
	Logger      *slog.Logger
}

// Options tune request handling.
type Options struct {
	MinClientVersion string
	PollInterval     time.Duration
	PollTimeout      time.Duration
}

// OptionsFromConfig reads the [server] and [queue] sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinClientVersion: cfg.Server.MinClientVersion,
		PollInterval:     time.Duration(cfg.Queue.StatusPollSeconds) * time.Second,
		PollTimeout:      time.Duration(cfg.Queue.StatusTimeoutSeconds) * time.Second,
	}
}

// Service implements the device-facing operations.
type Service struct {
	deps         Deps
	minVersion   [versionParts]int
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewService validates deps and constructs a Service.
func NewService(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("api service: registry is required")
	case deps.Credentials == nil:
		return nil, errors.New("api service: credentials are required")
	case deps.Heartbeats == nil:
		return nil, errors.New("api service: heartbeat manager is required")
	case deps.Mounts == nil:
		return nil, errors.New("api service: mount broker is required")
	case deps.Queue == nil:
		return nil, errors.New("api service: launch queue is required")
	case deps.Client == nil:
		return nil, errors.New("api service: device client is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 15 * time.Second
	}
	return &Service{
		deps:         deps,
		minVersion:   ParseVersion(opts.MinClientVersion),
		pollInterval: opts.PollInterval,
		pollTimeout:  opts.PollTimeout,
		logger:       logging.NewComponentLogger(deps.Logger, "api"),
		now:          time.Now,
	}, nil
}

// CheckVersion reports whether the client version meets the minimum.
func (s *Service) CheckVersion(req VersionRequest) VersionResponse {
	ok := versionAtLeast(ParseVersion(req.Version), s.minVersion)
	s.logger.Debug("client version checked", logging.String("version", req.Version), logging.Bool("ok", ok))
	return VersionResponse{OK: ok}
}

func (s *Service) requestLogger(ctx context.Context, ip string) *slog.Logger {
	return logging.WithContext(ctx, s.logger).With(logging.DeviceIP(ip))
}

// target resolves ip to a device and loads its pairing file. The returned
// message is user-facing.
func (s *Service) target(ctx context.Context, ip string) (device.Target, string, error) {
	udid, err := s.deps.Registry.ResolveIdentity(ctx, ip)
	if err != nil {
		return device.Target{}, err.Error(), err
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return device.Target{}, fmt.Sprintf("Invalid client address %s", ip), err
	}
	cred, err := s.deps.Credentials.Get(udid)
	if err != nil {
		return device.Target{UDID: udid}, fmt.Sprintf("Unable to get pairing file: %v", err), err
	}
	return device.Target{UDID: udid, Address: addr.Unmap(), Credential: cred}, "", nil
}

// protocolFailure renders err and evicts a rejected pairing file.
func (s *Service) protocolFailure(udid, prefix string, err error) string {
	if device.IsInvalidCredential(err) {
		s.deps.Credentials.Invalidate(udid)
	}
	return prefix + device.UserMessage(err)
}

// CheckMount drives the mount broker for the requesting device.
func (s *Service) CheckMount(ctx context.Context, ip string) CheckMountResponse {
	logger := s.requestLogger(ctx, ip)
	target, msg, err := s.target(ctx, ip)
	if err != nil {
		logger.Info("mount check rejected", logging.Error(err))
		return CheckMountResponse{Error: errorText(msg)}
	}

	res, err := s.deps.Mounts.CheckOrStart(ctx, target)
	if err != nil {
		var (
			failed  *mount.FailedError
			stepErr *mount.StepError
		)
		switch {
		case errors.As(err, &failed):
			msg = "Failed to mount image: " + failed.Message
		case errors.As(err, &stepErr) && stepErr.Step == mount.StepHeartbeat:
			msg = s.protocolFailure(target.UDID, "Failed to heartbeat device: ", err)
		default:
			msg = s.protocolFailure(target.UDID, "Failed to get images: ", err)
		}
		logger.Info("mount check failed", logging.UDID(target.UDID), logging.Error(err))
		return CheckMountResponse{Error: errorText(msg)}
	}
	return CheckMountResponse{OK: true, Mounting: res.Mounting}
}

// StreamMount sends progress frames for the requesting device until the
// mount ends or send fails. Only send failures are returned.
func (s *Service) StreamMount(ctx context.Context, ip string, send func(MountProgressMessage) error) error {
	udid, err := s.deps.Registry.ResolveIdentity(ctx, ip)
	if err != nil {
		return send(MountProgressMessage{Error: errorText(err.Error())})
	}

	err = s.deps.Mounts.Stream(ctx, udid, func(p mount.Progress) error {
		return send(FromProgress(p))
	})
	if errors.Is(err, mount.ErrNothingInProgress) {
		return send(MountProgressMessage{OK: true})
	}
	if err != nil && ctx.Err() == nil {
		s.requestLogger(ctx, ip).Debug("mount stream ended", logging.Error(err))
		return err
	}
	return nil
}

// GetApps lists the debuggable apps on the requesting device.
func (s *Service) GetApps(ctx context.Context, ip string) GetAppsResponse {
	logger := s.requestLogger(ctx, ip)
	fail := func(msg string) GetAppsResponse {
		return GetAppsResponse{Apps: []string{}, Error: errorText(msg)}
	}

	target, msg, err := s.target(ctx, ip)
	if err != nil {
		logger.Info("app list rejected", logging.Error(err))
		return fail(msg)
	}
	logger = logger.With(logging.UDID(target.UDID))

	if err := s.deps.Heartbeats.Keepalive(ctx, target); err != nil {
		logger.Info("heartbeat failed before app list", logging.Error(err))
		return fail(s.protocolFailure(target.UDID, "Failed to heartbeat device: ", err))
	}

	apps, err := s.listApps(ctx, target)
	if err != nil {
		logger.Info("app list failed", logging.Error(err))
		return fail(s.protocolFailure(target.UDID, "Failed to get apps: ", err))
	}
	apps = device.FilterDebuggable(apps)
	if len(apps) == 0 {
		return fail(noAppsMessage)
	}

	if err := s.deps.Heartbeats.Kill(ctx, target.UDID); err != nil {
		logger.Debug("heartbeat release failed", logging.Error(err))
	}

	resp := GetAppsResponse{
		OK:        true,
		Apps:      make([]string, 0, len(apps)),
		BundleIDs: make(map[string]string, len(apps)),
	}
	for _, app := range apps {
		if _, dup := resp.BundleIDs[app.Name]; !dup {
			resp.Apps = append(resp.Apps, app.Name)
		}
		resp.BundleIDs[app.Name] = app.BundleID
	}
	logger.Info("listed debuggable apps", logging.Int("count", len(resp.Apps)))
	return resp
}

func (s *Service) listApps(ctx context.Context, target device.Target) ([]device.App, error) {
	session, err := s.deps.Client.Connect(ctx, target)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.ListApps(ctx)
}

// LaunchApp queues bundleID for the requesting device unless a request is
// already queued, in which case its state is reported.
func (s *Service) LaunchApp(ctx context.Context, ip, bundleID string) LaunchAppResponse {
	logger := s.requestLogger(ctx, ip).With(logging.BundleID(bundleID))

	udid, err := s.deps.Registry.ResolveIdentity(ctx, ip)
	if err != nil {
		logger.Info("launch rejected", logging.Error(err))
		return LaunchAppResponse{Error: errorText(err.Error())}
	}
	logger = logger.With(logging.UDID(udid))

	info, err := s.deps.Queue.Status(ctx, udid)
	if err != nil {
		logging.ErrorWithContext(logger, "launch status lookup failed", "queue_unavailable", logging.Error(err))
		return LaunchAppResponse{Error: errorText(launchStatusMessage)}
	}
	switch info.Kind {
	case launchqueue.Position:
		pos := info.Position
		return LaunchAppResponse{OK: true, Launching: true, Position: &pos}
	case launchqueue.Failed:
		return LaunchAppResponse{Error: errorText(info.Message)}
	}

	pos, err := s.deps.Queue.Enqueue(ctx, udid, ip, bundleID)
	if err != nil {
		logging.ErrorWithContext(logger, "launch enqueue failed", "queue_unavailable", logging.Error(err))
		return LaunchAppResponse{Error: errorText(enqueueMessage)}
	}
	if err := s.deps.Registry.Touch(ctx, udid); err != nil {
		logger.Debug("last used update failed", logging.Error(err))
	}
	logger.Info("launch queued", logging.Int("position", pos))
	return LaunchAppResponse{OK: true, Launching: true, Position: &pos}
}

// QueueStatus long-polls the queue for the requesting device. Failures and
// an empty queue return at once; a queued position is re-read every poll
// interval until the poll timeout and then returned.
func (s *Service) QueueStatus(ctx context.Context, ip string) StatusResponse {
	logger := s.requestLogger(ctx, ip)

	udid, err := s.deps.Registry.ResolveIdentity(ctx, ip)
	if err != nil {
		return StatusResponse{Done: true, Error: errorText(err.Error())}
	}

	start := s.now()
	for {
		info, err := s.deps.Queue.Status(ctx, udid)
		if err != nil {
			logging.ErrorWithContext(logger, "queue status failed", "queue_unavailable",
				logging.UDID(udid), logging.Error(err))
			return StatusResponse{Done: true, Error: errorText(serverErrorMessage)}
		}

		var resp StatusResponse
		switch info.Kind {
		case launchqueue.NotInQueue:
			return StatusResponse{OK: true, Done: true}
		case launchqueue.Failed:
			return StatusResponse{Done: true, Error: errorText(info.Message)}
		default:
			resp = StatusResponse{OK: true, Position: info.Position}
		}

		if s.now().Sub(start) >= s.pollTimeout {
			return resp
		}
		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return resp
		case <-timer.C:
		}
	}
}

// Diagnostics summarizes live engine state for operators.
func (s *Service) Diagnostics(ctx context.Context) DiagnosticsResponse {
	resp := DiagnosticsResponse{
		Heartbeats: []string{},
		Mounts:     s.deps.Mounts.InFlight(),
		Items:      []QueueItem{},
	}
	var errs []error
	if active, err := s.deps.Heartbeats.Active(ctx); err != nil {
		errs = append(errs, fmt.Errorf("heartbeats: %w", err))
	} else {
		resp.Heartbeats = active
	}
	if stats, err := s.deps.Queue.Stats(ctx); err != nil {
		errs = append(errs, err)
	} else {
		resp.Queue = FromStats(stats)
	}
	if entries, err := s.deps.Queue.List(ctx); err != nil {
		errs = append(errs, err)
	} else {
		resp.Items = FromEntries(entries)
	}
	if err := errors.Join(errs...); err != nil {
		resp.Error = err.Error()
	}
	return resp
}
