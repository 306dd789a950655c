package tcp

import (
	"fmt"
	"net/netip"
	"sync"
)

// --------------------------------------------------------------------------
// Slot table
// --------------------------------------------------------------------------

type slot struct {
	conn  *connection
	gen   uint32
	alive bool
}

// registry is the index-stable set of connections owned by one worker.
// All structural changes happen with mu held. A slot's generation is bumped
// every time its connection is released, so handles to the old connection
// never match a later occupant of the same slot.
type registry struct {
	mu     sync.Mutex
	slots  []slot
	free   []int32
	count  int
	closed bool
}

// lookup returns the live connection for slot and generation, or nil
func (r *registry) lookup(idx int32, gen uint32) *connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || int(idx) >= len(r.slots) {
		return nil
	}
	s := &r.slots[idx]
	if !s.alive || s.gen != gen {
		return nil
	}
	return s.conn
}

// link publishes c in a free slot. Requires r.mu.
func (r *registry) link(c *connection) {
	var idx int32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.slots = append(r.slots, slot{})
		idx = int32(len(r.slots) - 1)
	}
	s := &r.slots[idx]
	s.conn = c
	s.alive = true
	c.slot = idx
	c.gen = s.gen
	r.count++
}

// unlink invalidates c's slot. Requires r.mu. Returns false if c was already released.
func (r *registry) unlink(c *connection) bool {
	if c.slot < 0 || int(c.slot) >= len(r.slots) {
		return false
	}
	s := &r.slots[c.slot]
	if !s.alive || s.gen != c.gen {
		return false
	}
	s.alive = false
	s.gen++
	s.conn = nil
	r.free = append(r.free, c.slot)
	r.count--
	return true
}

// live returns a snapshot of all live connections
func (r *registry) live() []*connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := make([]*connection, 0, r.count)
	for i := range r.slots {
		if r.slots[i].alive {
			conns = append(conns, r.slots[i].conn)
		}
	}
	return conns
}

// size returns the number of live connections
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *registry) appHandle(c *connection) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return c.appHandle
}

// setAppHandle stores the handle returned by an upcall unless the
// application closed the connection in the meantime
func (r *registry) setAppHandle(c *connection, h any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !c.closedByApp.Load() {
		c.appHandle = h
	}
}

// --------------------------------------------------------------------------
// Insert / remove
// --------------------------------------------------------------------------

// insert creates the connection state for fd, links it into the registry and
// registers fd with the worker's poller. Fails atomically: on error no state
// is retained and fd is left open for the caller to close.
func (w *worker) insert(fd int, peer netip.AddrPort, appHandle any) (ConnHandle, error) {
	c := &connection{
		fd:        fd,
		peer:      peer,
		w:         w,
		appHandle: appHandle,
	}

	w.reg.mu.Lock()
	if w.reg.closed || w.stopping.Load() {
		w.reg.mu.Unlock()
		return ConnHandle{}, fmt.Errorf("TCP:%s worker:%d: %w", w.label, w.id, ErrAlreadyStopped)
	}
	w.reg.link(c)
	if err := w.poller.add(fd, c.slot, c.gen); err != nil {
		w.reg.unlink(c)
		w.reg.mu.Unlock()
		return ConnHandle{}, fmt.Errorf("TCP:%s worker:%d failed to register FD for %s: %w", w.label, w.id, peer, err)
	}
	count := w.reg.count
	w.reg.mu.Unlock()

	w.metrics.connectionOpened()
	Logger.Debugf("%s %v, FD:%d registered on worker:%d, numOfFds:%d", w.label, peer, fd, w.id, count)
	return c.handle(), nil
}

// release removes c from the registry, unregisters and closes its socket.
// Idempotent: releasing an already released connection is a no-op returning false.
func (w *worker) release(c *connection) bool {
	w.reg.mu.Lock()
	if !w.reg.unlink(c) {
		w.reg.mu.Unlock()
		return false
	}
	if err := w.poller.remove(c.fd); err != nil {
		Logger.Debugf("%s %v, worker:%d: %v", w.label, c.peer, w.id, err)
	}
	count := w.reg.count
	w.reg.mu.Unlock()

	if count < 0 {
		Logger.Errorf("%s %v, TCP worker:%d, number of FDs is negative!!!", w.label, c.peer, w.id)
	}

	c.closeSocket()
	w.metrics.connectionReleased()
	Logger.Debugf("%s %v, FD:%d is cleaned, numOfFds:%d", w.label, c.peer, c.fd, count)
	return true
}
