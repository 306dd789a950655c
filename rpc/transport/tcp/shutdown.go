package tcp

import (
	"fmt"
	"time"
)

// stop ends the worker's event loop and, once the loop has exited, releases
// every connection it still owns together with the poller.
//
// The loop is woken through the poller. When the wake fails, or the loop
// does not come back within the grace period (typically because it is blocked
// reading a partial frame), every registered socket is shut down so blocking
// reads return, and the loop gets a second grace period. A worker that still
// did not exit is reported leaked and its state is left as is.
func (w *worker) stop() error {
	if !w.stopping.CompareAndSwap(false, true) {
		return fmt.Errorf("TCP:%s worker:%d: %w", w.label, w.id, ErrAlreadyStopped)
	}

	grace := w.conf.ShutdownGrace()

	if err := w.poller.wake(); err != nil {
		Logger.Warningf("%s, failed to wake tcp worker:%d, interrupting connections: %v", w.label, w.id, err)
		w.interruptConnections()
	}

	if !w.waitDone(grace) {
		Logger.Warningf("%s, tcp worker:%d did not stop within %v, interrupting connections", w.label, w.id, grace)
		w.interruptConnections()
		if !w.waitDone(grace) {
			Logger.Errorf("%s, tcp worker:%d did not stop, %d connections and its poller are leaked", w.label, w.id, w.reg.size())
			return fmt.Errorf("TCP:%s worker:%d: %w", w.label, w.id, ErrWorkerLeaked)
		}
	}

	w.drain()
	if err := w.poller.close(); err != nil {
		return fmt.Errorf("TCP:%s worker:%d failed to close poller: %w", w.label, w.id, err)
	}
	Logger.Debugf("%s, tcp worker:%d is stopped", w.label, w.id)
	return nil
}

// interruptConnections shuts every registered socket down in both directions
func (w *worker) interruptConnections() {
	for _, c := range w.reg.live() {
		_ = c.withFd(func(fd int) error {
			return shutdownFd(fd, shutRDWR)
		})
	}
}

// waitDone waits up to d for the event loop to return
func (w *worker) waitDone(d time.Duration) bool {
	return waitClosed(w.done, d)
}

func waitClosed(done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// drain closes the registry and releases every connection without notifying
// the dispatch layer. Only called after the event loop has exited.
func (w *worker) drain() {
	w.reg.mu.Lock()
	w.reg.closed = true
	w.reg.mu.Unlock()

	conns := w.reg.live()
	for _, c := range conns {
		w.release(c)
	}
	if len(conns) > 0 {
		Logger.Debugf("%s, tcp worker:%d released %d connections", w.label, w.id, len(conns))
	}
}
