package tcp

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dTCP/rpc/common"
	"github.com/ValentinKolb/dTCP/rpc/transport"
	"runtime"
	"sync/atomic"
)

// Worker states, one way: running -> stopping -> stopped
const (
	stateRunning  = "running"
	stateStopping = "stopping"
	stateStopped  = "stopped"
)

// worker is one I/O thread driving a readiness loop over its own registry
type worker struct {
	id    int
	label string
	conf  *common.TransportConfig

	poller poller
	reg    registry

	handler transport.Handler
	service any

	// stopping transitions false -> true exactly once
	stopping atomic.Bool
	// done is closed when the event loop returned
	done chan struct{}

	stats   *workerStats
	metrics *transportMetrics
}

// newWorker creates the worker and its poller. The loop is started with start().
func newWorker(id int, label string, conf *common.TransportConfig, handler transport.Handler, service any, m *transportMetrics) (*worker, error) {
	p, err := newPoller(conf.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("TCP:%s worker:%d: %w", label, id, err)
	}
	return &worker{
		id:      id,
		label:   label,
		conf:    conf,
		poller:  p,
		handler: handler,
		service: service,
		done:    make(chan struct{}),
		stats:   newWorkerStats(),
		metrics: m,
	}, nil
}

func (w *worker) start() {
	go w.run()
}

// state reports the worker's position in its lifecycle
func (w *worker) state() string {
	select {
	case <-w.done:
		return stateStopped
	default:
	}
	if w.stopping.Load() {
		return stateStopping
	}
	return stateRunning
}

func (w *worker) snapshot() WorkerStats {
	return w.stats.snapshot(w.id, w.state(), w.reg.size())
}

// --------------------------------------------------------------------------
// Event loop
// --------------------------------------------------------------------------

// run is the event loop. It owns an OS thread for its whole lifetime.
func (w *worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	events := make([]readyEvent, w.conf.MaxEvents)
	for {
		n, err := w.poller.wait(events)
		if w.stopping.Load() {
			Logger.Debugf("%s, tcp worker:%d get stop event, exiting...", w.label, w.id)
			return
		}
		if err != nil {
			Logger.Errorf("%s, tcp worker:%d poller failed, exiting: %v", w.label, w.id, err)
			return
		}

		for i := 0; i < n; i++ {
			w.process(events[i])
		}
	}
}

// process handles one readiness event
func (w *worker) process(ev readyEvent) {
	if ev.slot == wakeSlot {
		return
	}

	// a released connection may still have events queued in this batch
	c := w.reg.lookup(ev.slot, ev.gen)
	if c == nil {
		return
	}

	if ev.flags&brokenMask != 0 {
		switch {
		case ev.flags&evError != 0:
			Logger.Debugf("%s %v, error happened on FD", w.label, c.peer)
		case ev.flags&evReadHangup != 0:
			Logger.Debugf("%s %v, FD RD hang up", w.label, c.peer)
		default:
			Logger.Debugf("%s %v, FD hang up", w.label, c.peer)
		}
		w.reportBrokenLink(c)
		return
	}

	if ev.flags&evRead == 0 {
		return
	}

	receipt, err := w.readMessage(c)
	if err != nil {
		if !errors.Is(err, ErrClosedByApp) {
			w.stats.framingErrors.Inc(1)
			w.metrics.framingError()
		}
		Logger.Debugf("%s %v, %v", w.label, c.peer, err)
		// the hang-up following the half-close releases the connection
		_ = shutdownFd(c.fd, shutWR)
		return
	}

	w.stats.messages.Inc(1)
	w.stats.sizes.Update(int64(receipt.MsgLen))
	w.metrics.messageReceived(receipt.MsgLen)

	handle := w.handler.OnReceive(receipt)
	if handle == nil {
		w.release(c)
		return
	}
	w.reg.setAppHandle(c, handle)
}

// reportBrokenLink notifies the dispatch layer, unless the application closed
// the connection itself, and releases the connection.
func (w *worker) reportBrokenLink(c *connection) {
	if !c.closedByApp.Load() {
		_ = shutdownFd(c.fd, shutWR)

		w.stats.brokenLinks.Inc(1)
		w.metrics.brokenLink()

		w.handler.OnReceive(transport.Receipt{
			Peer:      c.peer,
			Service:   w.service,
			AppHandle: w.reg.appHandle(c),
			ConnType:  transport.ConnTypeTCP,
		})
	}

	w.release(c)
}
