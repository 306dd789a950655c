package server

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dTCP/rpc/common"
	"github.com/ValentinKolb/dTCP/rpc/transport"
	"github.com/ValentinKolb/dTCP/rpc/transport/tcp"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"
)

var Logger = logger.GetLogger(common.LoggerRPC)

// --------------------------------------------------------------------------
// Dispatcher
// --------------------------------------------------------------------------

// session is the application handle the dispatcher attaches to a connection
type session struct {
	id       uint64
	peer     netip.AddrPort
	opened   time.Time
	messages atomic.Int64
}

// Dispatcher is the dispatch layer on top of the TCP transport. It routes
// every received frame by MsgType to an adapter and sends the adapter's
// response back over the same connection.
type Dispatcher struct {
	adapters *xsync.MapOf[uint8, IRPCServerAdapter]
	fallback IRPCServerAdapter
	sessions *xsync.MapOf[uint64, *session]
	nextID   atomic.Uint64
}

var _ transport.Handler = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher answering every message type with the echo adapter
//
// Usage:
//
//	d := server.NewDispatcher()
//	s, err := tcp.StartServer(conf, d, nil)
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		adapters: xsync.NewMapOf[uint8, IRPCServerAdapter](),
		fallback: NewEchoAdapter(),
		sessions: xsync.NewMapOf[uint64, *session](),
	}
}

// Register routes requests of msgType to adapter
func (d *Dispatcher) Register(msgType uint8, adapter IRPCServerAdapter) {
	d.adapters.Store(msgType, adapter)
}

// Sessions returns the number of connections with an open session
func (d *Dispatcher) Sessions() int {
	return d.sessions.Size()
}

// OnReceive implements transport.Handler
func (d *Dispatcher) OnReceive(r transport.Receipt) any {
	sess, _ := r.AppHandle.(*session)

	// Case broken link -> forget the session
	if r.IsBrokenLink() {
		if sess != nil {
			d.sessions.Delete(sess.id)
			Logger.Debugf("session %d with %v closed after %d messages, %v", sess.id, sess.peer, sess.messages.Load(), time.Since(sess.opened))
		}
		return nil
	}

	// Case first message on the connection -> open a session
	if sess == nil {
		sess = &session{
			id:     d.nextID.Add(1),
			peer:   r.Peer,
			opened: time.Now(),
		}
		d.sessions.Store(sess.id, sess)
		Logger.Debugf("session %d opened for %v", sess.id, r.Peer)
	}
	sess.messages.Add(1)

	head, body, err := common.SplitMessage(r.Msg)
	if err != nil {
		Logger.Warningf("session %d, dropping invalid message from %v: %v", sess.id, r.Peer, err)
		return sess
	}

	adapter, ok := d.adapters.Load(head.MsgType)
	if !ok {
		adapter = d.fallback
	}

	respHead, respBody, ok := adapter.Handle(head, body)
	if !ok || r.Conn == nil {
		return sess
	}

	if _, err := r.Conn.Send(common.NewMessage(respHead, respBody)); err != nil {
		Logger.Warningf("session %d, failed to respond to %v: %v", sess.id, r.Peer, err)
	}
	return sess
}

// --------------------------------------------------------------------------
// Serve
// --------------------------------------------------------------------------

// Serve starts a TCP server with a Dispatcher and blocks until SIGINT or SIGTERM.
// When metricsEndpoint is set the server's metrics are exposed over HTTP at
// /metrics (Prometheus format) and /stats (per worker statistics).
func Serve(conf common.ServerConfig, metricsEndpoint string) error {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	return serve(conf, metricsEndpoint, stop)
}

func serve(conf common.ServerConfig, metricsEndpoint string, stop <-chan os.Signal) error {
	if err := common.InitLoggers(conf.LogLevel); err != nil {
		return err
	}

	Logger.Infof("Starting dTCP server")
	Logger.Infof(conf.String())

	d := NewDispatcher()
	s, err := tcp.StartServer(conf, d, nil)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	var httpServer *http.Server
	if metricsEndpoint != "" {
		httpServer = newMetricsServer(metricsEndpoint, s)
		go func() {
			Logger.Infof("Serving metrics on http://%s/metrics", metricsEndpoint)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				Logger.Errorf("metrics endpoint failed: %v", err)
			}
		}()
	}

	Logger.Infof("dTCP server listening on %v with %d workers", s.Addr(), s.Workers())

	sig := <-stop
	Logger.Infof("Received %v, shutting down", sig)

	if httpServer != nil {
		_ = httpServer.Close()
	}
	for _, st := range s.Stats() {
		Logger.Infof("%v", st)
	}
	if err := s.Stop(); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	Logger.Infof("dTCP server stopped, %d sessions left open", d.Sessions())
	return nil
}

func newMetricsServer(endpoint string, s *tcp.Server) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		s.WritePrometheus(w)
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		for _, st := range s.Stats() {
			fmt.Fprintln(w, st)
		}
		s.WriteStats(w)
	})
	return &http.Server{
		Addr:              endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
