// Package runner keeps the external launch workers running.
//
// Each worker is an operator-supplied command that claims rows from the
// launch queue. The supervisor starts the configured number of copies,
// forwards their output to the log, and restarts any copy that exits until
// the context is cancelled.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"jitstreamer/internal/config"
	"jitstreamer/internal/logging"
)

const (
	stopGrace = 5 * time.Second
	// maxLine caps buffered output without a newline.
	maxLine = 1024 * 1024
)

// Options describes the worker processes.
type Options struct {
	Command      []string
	Count        int
	RestartDelay time.Duration
	// Env is appended to the daemon's environment for every worker.
	Env []string
}

// OptionsFromConfig reads the [runner] section. dbPath is exported to workers
// as JITSTREAMER_DB.
func OptionsFromConfig(cfg *config.Config, dbPath string) Options {
	return Options{
		Command:      append([]string(nil), cfg.Runner.Command...),
		Count:        cfg.Runner.Count,
		RestartDelay: time.Duration(cfg.Runner.RestartDelaySeconds) * time.Second,
		Env:          []string{"JITSTREAMER_DB=" + dbPath},
	}
}

// Supervisor runs Count copies of Command.
type Supervisor struct {
	opts    Options
	logger  *slog.Logger
	starts  atomic.Int64
	running atomic.Int64
}

// NewSupervisor constructs a supervisor.
func NewSupervisor(opts Options, logger *slog.Logger) *Supervisor {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = time.Second
	}
	return &Supervisor{opts: opts, logger: logging.NewComponentLogger(logger, "runner")}
}

// Enabled reports whether any worker would be started.
func (s *Supervisor) Enabled() bool {
	return s.opts.Count > 0 && len(s.opts.Command) > 0
}

// Starts counts process launches, including restarts.
func (s *Supervisor) Starts() int { return int(s.starts.Load()) }

// Running counts live worker processes.
func (s *Supervisor) Running() int { return int(s.running.Load()) }

// Run blocks until ctx is cancelled and every worker has exited.
func (s *Supervisor) Run(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("launch runners disabled")
		return
	}
	s.logger.Info("starting launch runners",
		logging.Int("count", s.opts.Count),
		logging.String("command", strings.Join(s.opts.Command, " ")),
	)

	var wg sync.WaitGroup
	for i := 0; i < s.opts.Count; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			s.supervise(ctx, index)
		}(i)
	}
	wg.Wait()
	s.logger.Info("launch runners stopped")
}

func (s *Supervisor) supervise(ctx context.Context, index int) {
	logger := s.logger.With(logging.Int("runner", index))
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.runOnce(ctx, index, logger)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.WarnWithContext(logger, "launch runner exited", "runner_exit",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the runner command and its output"),
				logging.String(logging.FieldImpact, "queued launches wait for the restart"),
			)
		} else {
			logger.Warn("launch runner stopped")
		}

		timer := time.NewTimer(s.opts.RestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, index int, logger *slog.Logger) error {
	cmd := exec.CommandContext(ctx, s.opts.Command[0], s.opts.Command[1:]...) //nolint:gosec
	cmd.Env = append(os.Environ(), s.opts.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("RUNNER_INDEX=%d", index))
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = stopGrace

	// Writers rather than pipes, so WaitDelay also bounds output held open by
	// the worker's own children.
	stdout := newLineWriter(logger, slog.LevelInfo, "stdout")
	stderr := newLineWriter(logger, slog.LevelWarn, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}
	s.starts.Add(1)
	s.running.Add(1)
	defer s.running.Add(-1)
	logger.Debug("launch runner started", logging.Int("pid", cmd.Process.Pid))

	err := cmd.Wait()
	stdout.flush()
	stderr.flush()
	if errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	return err
}

// lineWriter logs each complete line written to it.
type lineWriter struct {
	mu     sync.Mutex
	logger *slog.Logger
	level  slog.Level
	stream string
	buf    []byte
}

func newLineWriter(logger *slog.Logger, level slog.Level, stream string) *lineWriter {
	return &lineWriter{logger: logger, level: level, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLine {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

// flush logs a trailing line that had no newline.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(w.buf)
	w.buf = nil
}

func (w *lineWriter) emit(raw []byte) {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return
	}
	w.logger.Log(context.Background(), w.level, line, logging.String("stream", w.stream))
}
