package runner_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"jitstreamer/internal/config"
	"jitstreamer/internal/runner"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSupervisorRestartsExitedWorkers(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sup := runner.NewSupervisor(runner.Options{
		Command:      []string{"sh", "-c", `echo "worker $RUNNER_INDEX db=$JITSTREAMER_DB"`},
		Count:        2,
		RestartDelay: 10 * time.Millisecond,
		Env:          []string{"JITSTREAMER_DB=/tmp/test.db"},
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for sup.Starts() < 4 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	if sup.Starts() < 4 {
		t.Fatalf("expected restarts, got %d starts", sup.Starts())
	}
	if sup.Running() != 0 {
		t.Fatalf("expected no running workers, got %d", sup.Running())
	}
	logs := out.String()
	if !strings.Contains(logs, "db=/tmp/test.db") {
		t.Fatalf("expected worker output in logs, got:\n%s", logs)
	}
	if !strings.Contains(logs, "component=runner") {
		t.Fatalf("expected component tag, got:\n%s", logs)
	}
}

func TestSupervisorStopsLongRunningWorker(t *testing.T) {
	sup := runner.NewSupervisor(runner.Options{
		Command:      []string{"sleep", "30"},
		Count:        1,
		RestartDelay: 10 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for sup.Running() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not stop the worker")
	}
	if sup.Starts() != 1 {
		t.Fatalf("expected one start, got %d", sup.Starts())
	}
}

func TestSupervisorStopsWhenChildHoldsOutput(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	// The background sleep ignores SIGINT and inherits stdout.
	sup := runner.NewSupervisor(runner.Options{
		Command:      []string{"sh", "-c", "sleep 20 & echo ready; exec sleep 30"},
		Count:        1,
		RestartDelay: 10 * time.Millisecond,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "ready") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(out.String(), "ready") {
		t.Fatalf("worker output never arrived:\n%s", out.String())
	}

	start := time.Now()
	cancel()
	select {
	case <-done:
	case <-time.After(12 * time.Second):
		t.Fatal("supervisor blocked on output held by the worker's child")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("stop took %v", elapsed)
	}
	if sup.Running() != 0 {
		t.Fatalf("expected no running workers, got %d", sup.Running())
	}
}

func TestLineWriterSplitsAndFlushes(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	sup := runner.NewSupervisor(runner.Options{
		Command:      []string{"sh", "-c", `printf 'first\nsec'; printf 'ond\n\nlast'; exit 3`},
		Count:        1,
		RestartDelay: time.Hour,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "launch runner exited") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	logs := out.String()
	for _, want := range []string{"msg=first", "msg=second", "msg=last"} {
		if !strings.Contains(logs, want) {
			t.Fatalf("expected %q in logs, got:\n%s", want, logs)
		}
	}
}

func TestSupervisorDisabled(t *testing.T) {
	sup := runner.NewSupervisor(runner.Options{Count: 3}, nil)
	if sup.Enabled() {
		t.Fatal("supervisor without a command must be disabled")
	}
	done := make(chan struct{})
	go func() {
		sup.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled supervisor should return immediately")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Runner.Command = []string{"python3", "-u", "launch.py"}
	cfg.Runner.Count = 4
	cfg.Runner.RestartDelaySeconds = 2

	opts := runner.OptionsFromConfig(&cfg, "/data/jitstreamer.db")
	if opts.Count != 4 || opts.RestartDelay != 2*time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}
	if len(opts.Env) != 1 || opts.Env[0] != "JITSTREAMER_DB=/data/jitstreamer.db" {
		t.Fatalf("unexpected env %v", opts.Env)
	}
	cfg.Runner.Command[0] = "changed"
	if opts.Command[0] != "python3" {
		t.Fatal("options must not alias the config slice")
	}
}
