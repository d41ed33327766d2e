package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"jitstreamer/internal/api"
	"jitstreamer/internal/config"
	"jitstreamer/internal/credentials"
	"jitstreamer/internal/device"
	"jitstreamer/internal/heartbeat"
	"jitstreamer/internal/launchqueue"
	"jitstreamer/internal/logging"
	"jitstreamer/internal/mount"
	"jitstreamer/internal/preflight"
	"jitstreamer/internal/registry"
	"jitstreamer/internal/runner"
	"jitstreamer/internal/store"
)

// mountDrainTimeout bounds how long Stop waits for in-flight mount workers.
const mountDrainTimeout = 10 * time.Second

// Daemon owns the engines and the HTTP server and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.DB
	queue      *launchqueue.Queue
	heartbeats *heartbeat.Manager
	mounts     *mount.Broker
	service    *api.Service
	runners    *runner.Supervisor
	server     *apiServer

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	started   bool
	running   atomic.Bool
	cancel    context.CancelFunc
	bg        sync.WaitGroup
	startedAt time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Address      string
	DBPath       string
	LockFilePath string
	StartedAt    time.Time
	Heartbeats   []string
	Mounts       []string
	Runners      int
	Queue        launchqueue.Stats
	QueueError   error
}

// New constructs a daemon with initialized dependencies. client talks to
// devices; pass device.NewExecClient output in production.
func New(cfg *config.Config, db *store.DB, client device.Client, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || db == nil || client == nil {
		return nil, errors.New("daemon requires config, store, and device client")
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	creds, err := credentials.NewStore(cfg.Paths.LockdownDir, cfg.Credentials.CacheSize)
	if err != nil {
		return nil, err
	}

	heartbeats := heartbeat.NewManager(heartbeat.NewStarter(client, cfg.HeartbeatInterval(), logger), logger)
	mounts := mount.NewBroker(client, heartbeats, mount.DirLoader(cfg.Paths.DDIDir), logger)
	queue := launchqueue.New(db)

	service, err := api.NewService(api.Deps{
		Registry:    registry.New(db),
		Credentials: creds,
		Heartbeats:  heartbeats,
		Mounts:      mounts,
		Queue:       queue,
		Client:      client,
		Logger:      logger,
	}, api.OptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "jitstreamer.lock")
	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      db,
		queue:      queue,
		heartbeats: heartbeats,
		mounts:     mounts,
		service:    service,
		runners:    runner.NewSupervisor(runner.OptionsFromConfig(cfg, db.Path()), logger),
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.server = newAPIServer(cfg, service, logger)
	return d, nil
}

// Start drains stale launches, then starts the heartbeat manager, the launch
// runners, and the HTTP server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if d.started {
		return errors.New("daemon cannot be restarted after stop")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another jitstreamer daemon instance is already running")
	}

	for _, result := range preflight.Failed(preflight.RunAll(ctx, d.cfg, d.store)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "requests depending on this resource will fail"),
		)
	}

	drained, err := d.queue.DrainAll(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset launch queue: %w", err)
	}
	if drained > 0 {
		d.logger.Info("discarded launches from previous run", logging.Int64("rows", drained))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.bg.Add(2)
	go func() {
		defer d.bg.Done()
		d.heartbeats.Run(runCtx)
	}()
	go func() {
		defer d.bg.Done()
		d.runners.Run(runCtx)
	}()

	if err := d.server.start(runCtx); err != nil {
		cancel()
		d.bg.Wait()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	d.cancel = cancel
	d.started = true
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("jitstreamer daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.address()),
	)
	return nil
}

// Stop shuts down the server and background loops and releases the lock.
// In-flight mount workers are given a bounded window to finish.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return
	}
	d.server.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.bg.Wait()

	waitCtx, cancel := context.WithTimeout(context.Background(), mountDrainTimeout)
	if err := d.mounts.Wait(waitCtx); err != nil {
		d.logger.Warn("mount workers still running at shutdown", logging.Error(err))
	}
	cancel()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("jitstreamer daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the HTTP listen address, empty when stopped.
func (d *Daemon) Addr() string {
	return d.server.address()
}

// Service exposes the request service backing the HTTP routes.
func (d *Daemon) Service() *api.Service {
	return d.service
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Address:      d.server.address(),
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
		Mounts:       d.mounts.InFlight(),
		Runners:      d.runners.Running(),
	}
	d.mu.Lock()
	status.StartedAt = d.startedAt
	d.mu.Unlock()

	if status.Running {
		if active, err := d.heartbeats.Active(ctx); err == nil {
			status.Heartbeats = active
		}
	}
	status.Queue, status.QueueError = d.queue.Stats(ctx)
	return status
}
