package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"jitstreamer/internal/device"
	"jitstreamer/internal/logging"
)

// commandBuffer is the capacity of the manager's command channel.
const commandBuffer = 100

// ErrStopped is returned when a command arrives after Run has returned.
var ErrStopped = errors.New("heartbeat manager stopped")

type commandKind int

const (
	commandStore commandKind = iota
	commandKill
	commandActive
)

type command struct {
	kind   commandKind
	udid   string
	handle *Handle
	reply  chan []string
}

// Manager owns the per-device handle map. Only the Run goroutine touches it.
type Manager struct {
	starter  *Starter
	commands chan command
	stopped  chan struct{}
	logger   *slog.Logger

	// mu guards closed; senders hold it shared while enqueueing so Run can
	// drain everything accepted before it returns.
	mu     sync.RWMutex
	closed bool
}

// NewManager constructs a manager. starter may be nil when callers only use
// Store and Kill.
func NewManager(starter *Starter, logger *slog.Logger) *Manager {
	return &Manager{
		starter:  starter,
		commands: make(chan command, commandBuffer),
		stopped:  make(chan struct{}),
		logger:   logging.NewComponentLogger(logger, "heartbeat"),
	}
}

// Run processes commands in arrival order until ctx ends, then cancels every
// remaining loop, including loops stored by commands still in the buffer.
func (m *Manager) Run(ctx context.Context) {
	handles := make(map[string]*Handle)
	defer func() {
		close(m.stopped)
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		cancelled := len(handles)
		for _, h := range handles {
			h.Cancel()
		}
		cancelled += m.drain()
		m.logger.Debug("heartbeat manager stopped", logging.Int("cancelled", cancelled))
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.commands:
			switch cmd.kind {
			case commandStore:
				if old, ok := handles[cmd.udid]; ok && old != cmd.handle {
					old.Cancel()
				}
				handles[cmd.udid] = cmd.handle
			case commandKill:
				if old, ok := handles[cmd.udid]; ok {
					delete(handles, cmd.udid)
					old.Cancel()
				}
			case commandActive:
				udids := make([]string, 0, len(handles))
				for udid := range handles {
					udids = append(udids, udid)
				}
				sort.Strings(udids)
				cmd.reply <- udids
			}
		}
	}
}

// drain cancels the handles of Store commands left in the buffer.
func (m *Manager) drain() int {
	n := 0
	for {
		select {
		case cmd := <-m.commands:
			if cmd.kind == commandStore {
				cmd.handle.Cancel()
				n++
			}
		default:
			return n
		}
	}
}

func (m *Manager) send(ctx context.Context, cmd command) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStopped
	}
	select {
	case m.commands <- cmd:
		return nil
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Store records h as the live loop for udid, cancelling any previous one.
func (m *Manager) Store(ctx context.Context, udid string, h *Handle) error {
	if h == nil {
		return errors.New("store: nil handle")
	}
	return m.send(ctx, command{kind: commandStore, udid: udid, handle: h})
}

// Kill removes and cancels the loop for udid. Unknown devices are ignored.
func (m *Manager) Kill(ctx context.Context, udid string) error {
	return m.send(ctx, command{kind: commandKill, udid: udid})
}

// Active lists the devices with a stored handle, including stale ones whose
// loop has already exited.
func (m *Manager) Active(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := m.send(ctx, command{kind: commandActive, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case udids := <-reply:
		return udids, nil
	case <-m.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Keepalive starts a loop for target and stores it. The returned error is the
// session failure, usually a *device.ProtocolError.
func (m *Manager) Keepalive(ctx context.Context, target device.Target) error {
	if m.starter == nil {
		return errors.New("keepalive: no starter configured")
	}
	handle, err := m.starter.Start(ctx, target)
	if err != nil {
		return err
	}
	if err := m.Store(ctx, target.UDID, handle); err != nil {
		handle.Cancel()
		return err
	}
	return nil
}
