package tcp

import (
	"fmt"
	"github.com/ValentinKolb/dTCP/rpc/common"
	"github.com/ValentinKolb/dTCP/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/multierr"
	"io"
	"net/netip"
	"runtime"
	"sync/atomic"
)

var Logger = logger.GetLogger(common.LoggerTransport)

// Server accepts TCP connections and spreads them round robin over a fixed
// pool of I/O workers
type Server struct {
	label string
	conf  common.ServerConfig

	lfd  int
	addr netip.AddrPort

	workers      []*worker
	acceptorDone chan struct{}
	stopped      atomic.Bool

	metrics *transportMetrics
}

// --------------------------------------------------------------------------
// Start-up
// --------------------------------------------------------------------------

// StartServer binds conf.IP:conf.Port, creates conf.Workers I/O workers and
// starts accepting. Every complete message received on an accepted connection
// and every broken link is delivered to handler together with service.
//
// Binding errors are returned. When only some of the workers can be created
// the server runs with those; when none can, ErrNoWorkers is returned.
func StartServer(conf common.ServerConfig, handler transport.Handler, service any) (*Server, error) {
	conf.Transport.Normalize()
	if conf.Workers <= 0 {
		conf.Workers = 1
	}

	s := &Server{
		label:        conf.Label,
		conf:         conf,
		acceptorDone: make(chan struct{}),
	}
	s.metrics = newTransportMetrics("server", conf.Label, s.Connections)

	lfd, addr, err := listenTCP(conf.IP, conf.Port, conf.Transport.Backlog)
	if err != nil {
		return nil, fmt.Errorf("TCP:%s failed to listen on %s: %w", conf.Label, conf.Endpoint(), err)
	}
	s.lfd = lfd
	s.addr = addr

	for i := 0; i < conf.Workers; i++ {
		w, err := newWorker(i, conf.Label, &s.conf.Transport, handler, service, s.metrics)
		if err != nil {
			Logger.Errorf("%s, failed to create tcp worker:%d: %v", conf.Label, i, err)
			if i == 0 {
				_ = closeFd(lfd)
				return nil, fmt.Errorf("TCP:%s %w: %w", conf.Label, ErrNoWorkers, err)
			}
			Logger.Warningf("%s, continuing with %d of %d workers", conf.Label, i, conf.Workers)
			break
		}
		w.start()
		s.workers = append(s.workers, w)
	}

	go s.acceptLoop()

	Logger.Infof("%s, tcp server is initialized, ip:%s port:%d workers:%d", s.label, addr.Addr(), addr.Port(), len(s.workers))
	return s, nil
}

// --------------------------------------------------------------------------
// Acceptor
// --------------------------------------------------------------------------

func (s *Server) acceptLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.acceptorDone)

	threadID := 0
	for {
		fd, peer, err := acceptTCP(s.lfd)
		if err != nil {
			if err == errListenerShutdown {
				Logger.Debugf("%s, TCP server socket was shutdown, exiting...", s.label)
				return
			}
			s.metrics.acceptFailed()
			Logger.Errorf("%s, TCP accept failure: %v", s.label, err)
			continue
		}
		s.metrics.connectionAccepted()

		if err := tuneSocket(fd, &s.conf.Transport); err != nil {
			Logger.Warningf("%s %v, failed to set socket options: %v", s.label, peer, err)
		}

		w := s.workers[threadID%len(s.workers)]
		threadID++

		if _, err := w.insert(fd, peer, nil); err != nil {
			Logger.Errorf("%s %v, failed to register new connection: %v", s.label, peer, err)
			_ = closeFd(fd)
			continue
		}

		Logger.Debugf("%s %v, new TCP connection assigned to worker:%d", s.label, peer, w.id)
	}
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Stop stops accepting, waits for the acceptor, then stops every worker and
// releases their connections. A second call returns ErrAlreadyStopped.
func (s *Server) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return fmt.Errorf("TCP:%s server: %w", s.label, ErrAlreadyStopped)
	}

	var errs error
	if err := shutdownFd(s.lfd, shutRD); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("TCP:%s failed to shutdown listener: %w", s.label, err))
	}

	// the listener is only closed once the acceptor left accept()
	grace := s.conf.Transport.ShutdownGrace()
	if waitClosed(s.acceptorDone, grace) {
		if err := closeFd(s.lfd); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("TCP:%s failed to close listener: %w", s.label, err))
		}
	} else {
		Logger.Errorf("%s, TCP acceptor did not stop within %v, listener is leaked", s.label, grace)
		errs = multierr.Append(errs, fmt.Errorf("TCP:%s acceptor: %w", s.label, ErrWorkerLeaked))
	}

	for _, w := range s.workers {
		errs = multierr.Append(errs, w.stop())
	}

	Logger.Infof("%s, tcp server is cleaned up", s.label)
	return errs
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Addr returns the bound address, with the actual port when port 0 was requested
func (s *Server) Addr() netip.AddrPort {
	return s.addr
}

func (s *Server) Label() string {
	return s.label
}

// Workers returns the number of running I/O workers
func (s *Server) Workers() int {
	return len(s.workers)
}

// Connections returns the number of live connections over all workers
func (s *Server) Connections() int {
	n := 0
	for _, w := range s.workers {
		n += w.reg.size()
	}
	return n
}

// Stats returns a snapshot per worker
func (s *Server) Stats() []WorkerStats {
	stats := make([]WorkerStats, 0, len(s.workers))
	for _, w := range s.workers {
		stats = append(stats, w.snapshot())
	}
	return stats
}

// WritePrometheus writes the server's metrics in Prometheus text format
func (s *Server) WritePrometheus(w io.Writer) {
	s.metrics.writePrometheus(w)
}

// WriteStats dumps the raw per-worker statistics
func (s *Server) WriteStats(out io.Writer) {
	for _, w := range s.workers {
		fmt.Fprintf(out, "worker %d:\n", w.id)
		w.stats.write(out)
	}
}
