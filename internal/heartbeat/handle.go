package heartbeat

import "sync"

// Handle cancels one keep-alive loop.
type Handle struct {
	udid   string
	once   sync.Once
	cancel chan struct{}
	exited chan struct{}
}

func newHandle(udid string) *Handle {
	return &Handle{
		udid:   udid,
		cancel: make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// UDID returns the device the loop serves.
func (h *Handle) UDID() string { return h.udid }

// Cancel signals the loop to stop after its current iteration. Safe to call
// more than once.
func (h *Handle) Cancel() {
	h.once.Do(func() { close(h.cancel) })
}

// Done is closed once Cancel has been called.
func (h *Handle) Done() <-chan struct{} { return h.cancel }

// Exited is closed when the loop goroutine returns.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool {
	select {
	case <-h.cancel:
		return true
	default:
		return false
	}
}
