package tcp

import (
	"fmt"
	"github.com/ValentinKolb/dTCP/rpc/transport"
	"net/netip"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Connection state
// --------------------------------------------------------------------------

// connection is the per-socket state owned by exactly one worker
type connection struct {
	fd   int
	peer netip.AddrPort
	w    *worker

	// registry position, fixed for the lifetime of the connection
	slot int32
	gen  uint32

	closedByApp atomic.Bool

	// appHandle is guarded by w.reg.mu
	appHandle any

	// ioMu is held shared by application threads while they use fd
	// and exclusively by the worker while it closes fd
	ioMu     sync.RWMutex
	fdClosed bool
}

func (c *connection) handle() ConnHandle {
	return ConnHandle{w: c.w, slot: c.slot, gen: c.gen}
}

// closeSocket shuts the socket down, which unblocks application threads
// stuck in send, then closes the descriptor once they left.
func (c *connection) closeSocket() {
	_ = shutdownFd(c.fd, shutRDWR)

	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	if c.fdClosed {
		return
	}
	if err := closeFd(c.fd); err != nil {
		Logger.Warningf("%s %v, failed to close FD:%d: %v", c.w.label, c.peer, c.fd, err)
	}
	c.fdClosed = true
}

// withFd runs f with the descriptor while it is guaranteed to stay open
func (c *connection) withFd(f func(fd int) error) error {
	c.ioMu.RLock()
	defer c.ioMu.RUnlock()
	if c.fdClosed {
		return ErrConnNotFound
	}
	return f(c.fd)
}

// --------------------------------------------------------------------------
// Connection handle
// --------------------------------------------------------------------------

// ConnHandle identifies a connection by worker, registry slot and generation.
// The zero value is an invalid handle. A handle outlives the connection
// safely: once the connection is released every call returns ErrConnNotFound.
type ConnHandle struct {
	w    *worker
	slot int32
	gen  uint32
}

var _ transport.Conn = ConnHandle{}

func (h ConnHandle) conn() (*connection, error) {
	if h.w == nil {
		return nil, ErrConnNotFound
	}
	c := h.w.reg.lookup(h.slot, h.gen)
	if c == nil {
		return nil, ErrConnNotFound
	}
	return c, nil
}

// Send writes data to the peer and returns the number of bytes written.
// The data is written as-is, framing is the caller's responsibility.
func (h ConnHandle) Send(data []byte) (int, error) {
	c, err := h.conn()
	if err != nil {
		return 0, err
	}

	var n int
	err = c.withFd(func(fd int) error {
		var serr error
		n, serr = sendData(fd, data)
		return serr
	})
	if err != nil {
		if err == ErrConnNotFound {
			return 0, err
		}
		return n, fmt.Errorf("TCP:%s send to %s failed: %w", h.w.label, c.peer, err)
	}
	return n, nil
}

// Close marks the connection as closed by the application and half-closes
// its write side. The owning worker releases it once the peer hangs up,
// without a broken-link notification.
func (h ConnHandle) Close() error {
	c, err := h.conn()
	if err != nil {
		return err
	}

	h.w.reg.mu.Lock()
	c.appHandle = nil
	c.closedByApp.Store(true)
	h.w.reg.mu.Unlock()

	return c.withFd(func(fd int) error {
		if err := shutdownFd(fd, shutWR); err != nil {
			return fmt.Errorf("TCP:%s shutdown of %s failed: %w", h.w.label, c.peer, err)
		}
		return nil
	})
}

// Valid reports whether the handle refers to a live connection
func (h ConnHandle) Valid() bool {
	_, err := h.conn()
	return err == nil
}

// RemoteAddr returns the peer address, or the zero address for a stale handle
func (h ConnHandle) RemoteAddr() netip.AddrPort {
	c, err := h.conn()
	if err != nil {
		return netip.AddrPort{}
	}
	return c.peer
}

// WorkerID returns the index of the owning worker, -1 for the zero handle
func (h ConnHandle) WorkerID() int {
	if h.w == nil {
		return -1
	}
	return h.w.id
}

func (h ConnHandle) String() string {
	if h.w == nil {
		return "conn(invalid)"
	}
	return fmt.Sprintf("conn(%s/%d:%d.%d)", h.w.label, h.w.id, h.slot, h.gen)
}
