//go:build linux

package tcp

import (
	"errors"
	"github.com/ValentinKolb/dTCP/rpc/common"
	"github.com/ValentinKolb/dTCP/rpc/transport"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recorder is a transport.Handler collecting every receipt
type recorder struct {
	receipts chan transport.Receipt
	messages atomic.Int32
	broken   atomic.Int32

	// release makes OnReceive return nil for messages
	release bool
}

func newRecorder() *recorder {
	return &recorder{receipts: make(chan transport.Receipt, 1024)}
}

func (r *recorder) OnReceive(rc transport.Receipt) any {
	if rc.IsBrokenLink() {
		r.broken.Add(1)
	} else {
		r.messages.Add(1)
	}
	r.receipts <- rc

	if r.release {
		return nil
	}
	if rc.AppHandle != nil {
		return rc.AppHandle
	}
	return "session"
}

// next waits for the next receipt
func (r *recorder) next(t *testing.T) transport.Receipt {
	t.Helper()
	select {
	case rc := <-r.receipts:
		return rc
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for a receipt")
	}
	return transport.Receipt{}
}

// waitFor polls cond until it holds or the timeout expires
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testServerConfig(workers int) common.ServerConfig {
	conf := common.DefaultServerConfig()
	conf.IP = "127.0.0.1"
	conf.Port = 0
	conf.Label = "test"
	conf.Workers = workers
	conf.Transport.ShutdownGraceMillis = 200
	return conf
}

func startTestServer(t *testing.T, workers int, h transport.Handler) *Server {
	t.Helper()
	s, err := StartServer(testServerConfig(workers), h, "service")
	if err != nil {
		t.Fatalf("StartServer failed: %v", err)
	}
	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return conn
}

// stubPoller replaces newPoller for the duration of a test
func stubPoller(t *testing.T, f func(maxEvents int) (poller, error)) {
	t.Helper()
	orig := newPoller
	newPoller = f
	t.Cleanup(func() { newPoller = orig })
}

// wakeFailPoller is a real poller whose wake always fails
type wakeFailPoller struct {
	poller
}

func (p *wakeFailPoller) wake() error {
	return errors.New("wake failed")
}

// fakePoller records registrations and never reports events
type fakePoller struct {
	mu     sync.Mutex
	fds    map[int]bool
	addErr error
}

func newFakePoller() *fakePoller {
	return &fakePoller{fds: make(map[int]bool)}
}

func (p *fakePoller) add(fd int, _ int32, _ uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addErr != nil {
		return p.addErr
	}
	p.fds[fd] = true
	return nil
}

func (p *fakePoller) remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	return nil
}

func (p *fakePoller) registered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fds)
}

func (p *fakePoller) wake() error { return nil }

func (p *fakePoller) wait([]readyEvent) (int, error) { select {} }

func (p *fakePoller) close() error { return nil }

// testWorker creates a worker that is never started
func testWorker(p poller, conf common.TransportConfig) *worker {
	conf.Normalize()
	return &worker{
		id:      0,
		label:   "test",
		conf:    &conf,
		poller:  p,
		handler: newRecorder(),
		service: "service",
		done:    make(chan struct{}),
		stats:   newWorkerStats(),
	}
}
