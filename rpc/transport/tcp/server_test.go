//go:build linux

package tcp

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dTCP/rpc/common"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"
)

func sendFrame(t *testing.T, conn net.Conn, h common.Head, body []byte) {
	t.Helper()
	if _, err := conn.Write(common.NewMessage(h, body)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func TestServerReceive(t *testing.T) {
	rec := newRecorder()
	s := startTestServer(t, 2, rec)
	defer s.Stop()

	if !s.Addr().IsValid() || s.Addr().Port() == 0 {
		t.Fatalf("Server bound to %v", s.Addr())
	}

	conn := dial(t, s)
	defer conn.Close()

	sendFrame(t, conn, common.Head{MsgType: 1, TranID: 5}, []byte("hello"))
	r := rec.next(t)

	h, body, err := common.SplitMessage(r.Msg)
	if err != nil {
		t.Fatalf("SplitMessage failed: %v", err)
	}
	if h.TranID != 5 || string(body) != "hello" {
		t.Errorf("Unexpected message: %+v %q", h, body)
	}
	if r.Service != "service" {
		t.Errorf("Service = %v, expected %q", r.Service, "service")
	}
	if r.AppHandle != nil {
		t.Errorf("First receipt carries app handle %v", r.AppHandle)
	}

	// the handle returned by the first upcall is passed to the next one
	sendFrame(t, conn, common.Head{MsgType: 1, TranID: 6}, nil)
	r = rec.next(t)
	if r.AppHandle != "session" {
		t.Errorf("AppHandle = %v, expected %q", r.AppHandle, "session")
	}

	// reply through the connection handle
	reply := common.NewMessage(common.Head{MsgType: 2, TranID: 6}, []byte("world"))
	if n, err := r.Conn.Send(reply); err != nil || n != len(reply) {
		t.Fatalf("Send = %d, %v", n, err)
	}
	got := make([]byte, len(reply))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if !bytes.Equal(got, reply) {
		t.Error("Reply differs")
	}
}

func TestServerRoundRobin(t *testing.T) {
	rec := newRecorder()
	s := startTestServer(t, 4, rec)
	defer s.Stop()

	expected := []int{0, 1, 2, 3, 0, 1}
	for i, want := range expected {
		conn := dial(t, s)
		defer conn.Close()

		sendFrame(t, conn, common.Head{TranID: uint32(i)}, nil)
		r := rec.next(t)
		if got := r.Conn.WorkerID(); got != want {
			t.Errorf("Connection %d assigned to worker %d, expected %d", i, got, want)
		}
	}

	waitFor(t, "six connections", func() bool { return s.Connections() == len(expected) })

	stats := s.Stats()
	if len(stats) != 4 {
		t.Fatalf("Stats has %d workers, expected 4", len(stats))
	}
	for _, st := range stats {
		if st.State != stateRunning {
			t.Errorf("Worker %d in state %s", st.ID, st.State)
		}
	}
	if stats[0].Connections != 2 || stats[3].Connections != 1 {
		t.Errorf("Unexpected distribution: %v", stats)
	}
}

func TestServerBrokenLinkOnce(t *testing.T) {
	rec := newRecorder()
	s := startTestServer(t, 1, rec)
	defer s.Stop()

	conn := dial(t, s)
	sendFrame(t, conn, common.Head{}, []byte("x"))
	r := rec.next(t)
	handle := r.Conn

	_ = conn.Close()

	broken := rec.next(t)
	if !broken.IsBrokenLink() {
		t.Fatalf("Expected a broken link receipt, got %+v", broken)
	}
	if broken.AppHandle != "session" {
		t.Errorf("Broken link carries app handle %v, expected %q", broken.AppHandle, "session")
	}
	if broken.Conn != nil || broken.MsgLen != 0 {
		t.Errorf("Unexpected broken link receipt: %+v", broken)
	}

	waitFor(t, "connection release", func() bool { return s.Connections() == 0 })

	select {
	case extra := <-rec.receipts:
		t.Errorf("Unexpected receipt after broken link: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
	if got := rec.broken.Load(); got != 1 {
		t.Errorf("%d broken links reported, expected 1", got)
	}

	if handle.Valid() {
		t.Error("Handle valid after broken link")
	}
	if _, err := handle.Send([]byte("x")); !errors.Is(err, ErrConnNotFound) {
		t.Errorf("Send returned %v, expected ErrConnNotFound", err)
	}
}

func TestServerFramingErrorHalfCloses(t *testing.T) {
	rec := newRecorder()
	s := startTestServer(t, 1, rec)
	defer s.Stop()

	conn := dial(t, s)
	defer conn.Close()

	bad := make([]byte, common.HeaderSize)
	(&common.Head{MsgLen: 4}).Encode(bad)
	if _, err := conn.Write(bad); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// the server half-closes its write side
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("Read returned %v, expected EOF", err)
	}
	_ = conn.Close()

	waitFor(t, "connection release", func() bool { return s.Connections() == 0 })
	if got := s.Stats()[0].FramingErrors; got != 1 {
		t.Errorf("FramingErrors = %d, expected 1", got)
	}
}

func TestServerNilHandleReleases(t *testing.T) {
	rec := newRecorder()
	rec.release = true
	s := startTestServer(t, 1, rec)
	defer s.Stop()

	conn := dial(t, s)
	defer conn.Close()

	sendFrame(t, conn, common.Head{}, nil)
	rec.next(t)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("Expected the server to close the connection")
	}
	waitFor(t, "connection release", func() bool { return s.Connections() == 0 })
	if got := rec.broken.Load(); got != 0 {
		t.Errorf("%d broken links reported, expected 0", got)
	}
}

func TestServerAppClose(t *testing.T) {
	rec := newRecorder()
	s := startTestServer(t, 1, rec)
	defer s.Stop()

	conn := dial(t, s)
	defer conn.Close()

	sendFrame(t, conn, common.Head{}, nil)
	r := rec.next(t)

	if err := r.Conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("Read returned %v, expected EOF", err)
	}
	_ = conn.Close()

	waitFor(t, "connection release", func() bool { return s.Connections() == 0 })
	if got := rec.broken.Load(); got != 0 {
		t.Errorf("Broken link reported for an app-closed connection")
	}
}

func TestServerStopTwice(t *testing.T) {
	s := startTestServer(t, 2, newRecorder())

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrAlreadyStopped) {
		t.Errorf("Second Stop returned %v, expected ErrAlreadyStopped", err)
	}
	for _, st := range s.Stats() {
		if st.State != stateStopped {
			t.Errorf("Worker %d in state %s after Stop", st.ID, st.State)
		}
	}
}

func TestServerStopReleasesConnections(t *testing.T) {
	rec := newRecorder()
	s := startTestServer(t, 2, rec)

	var conns []net.Conn
	for i := 0; i < 4; i++ {
		conn := dial(t, s)
		defer conn.Close()
		conns = append(conns, conn)
	}
	waitFor(t, "four connections", func() bool { return s.Connections() == 4 })

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := s.Connections(); got != 0 {
		t.Errorf("%d connections left after Stop", got)
	}
	if got := rec.broken.Load(); got != 0 {
		t.Errorf("Stop reported %d broken links", got)
	}

	for _, conn := range conns {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, err := conn.Read(make([]byte, 1)); err == nil {
			t.Error("Peer still connected after Stop")
		}
	}
}

// a worker blocked on a partial frame is interrupted by shutting its sockets down
func TestServerStopDuringPartialRead(t *testing.T) {
	rec := newRecorder()
	s := startTestServer(t, 1, rec)

	conn := dial(t, s)
	defer conn.Close()

	frame := common.NewMessage(common.Head{}, make([]byte, 100))
	if _, err := conn.Write(frame[:common.HeaderSize+10]); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	// give the worker time to block in the body read
	time.Sleep(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- s.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop hangs on a worker blocked in a partial read")
	}

	if got := s.Connections(); got != 0 {
		t.Errorf("%d connections left after Stop", got)
	}
	if got := rec.messages.Load(); got != 0 {
		t.Errorf("Partial frame delivered %d messages", got)
	}
}

func TestServerWakeFailure(t *testing.T) {
	stubPoller(t, func(n int) (poller, error) {
		p, err := openPoller(n)
		if err != nil {
			return nil, err
		}
		return &wakeFailPoller{poller: p}, nil
	})

	s := startTestServer(t, 1, newRecorder())

	conn := dial(t, s)
	defer conn.Close()
	waitFor(t, "one connection", func() bool { return s.Connections() == 1 })

	// interrupting the registered socket wakes the loop instead
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := s.Connections(); got != 0 {
		t.Errorf("%d connections left after Stop", got)
	}
}

func TestWorkerLeak(t *testing.T) {
	stubPoller(t, func(n int) (poller, error) {
		p, err := openPoller(n)
		if err != nil {
			return nil, err
		}
		return &wakeFailPoller{poller: p}, nil
	})

	conf := common.DefaultTransportConfig()
	conf.ShutdownGraceMillis = 50
	w, err := newWorker(0, "test", &conf, newRecorder(), nil, nil)
	if err != nil {
		t.Fatalf("newWorker failed: %v", err)
	}
	w.start()

	// nothing can wake a worker without connections
	if err := w.stop(); !errors.Is(err, ErrWorkerLeaked) {
		t.Fatalf("stop returned %v, expected ErrWorkerLeaked", err)
	}
	if w.state() != stateStopping {
		t.Errorf("Leaked worker in state %s", w.state())
	}
	if err := w.stop(); !errors.Is(err, ErrAlreadyStopped) {
		t.Errorf("Second stop returned %v, expected ErrAlreadyStopped", err)
	}

	// the leaked poller is untouched and can still be woken
	if err := w.poller.(*wakeFailPoller).poller.wake(); err != nil {
		t.Fatalf("wake failed: %v", err)
	}
	if !w.waitDone(5 * time.Second) {
		t.Fatal("Worker did not exit after wake")
	}
	_ = w.poller.close()
}

func TestServerPartialWorkerStartup(t *testing.T) {
	calls := 0
	stubPoller(t, func(n int) (poller, error) {
		calls++
		if calls > 2 {
			return nil, errors.New("out of descriptors")
		}
		return openPoller(n)
	})

	rec := newRecorder()
	s := startTestServer(t, 4, rec)
	defer s.Stop()

	if s.Workers() != 2 {
		t.Fatalf("Workers = %d, expected 2", s.Workers())
	}

	for i, want := range []int{0, 1, 0} {
		conn := dial(t, s)
		defer conn.Close()
		sendFrame(t, conn, common.Head{}, nil)
		if got := rec.next(t).Conn.WorkerID(); got != want {
			t.Errorf("Connection %d assigned to worker %d, expected %d", i, got, want)
		}
	}
}

func TestServerNoWorkers(t *testing.T) {
	stubPoller(t, func(int) (poller, error) {
		return nil, errors.New("out of descriptors")
	})

	s, err := StartServer(testServerConfig(3), newRecorder(), nil)
	if !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("StartServer returned %v, expected ErrNoWorkers", err)
	}
	if s != nil {
		t.Error("StartServer returned a server without workers")
	}
	if !strings.Contains(err.Error(), "out of descriptors") {
		t.Errorf("Error does not carry the cause: %v", err)
	}
}

func TestServerListenError(t *testing.T) {
	s := startTestServer(t, 1, newRecorder())
	defer s.Stop()

	conf := testServerConfig(1)
	conf.Port = s.Addr().Port()
	if _, err := StartServer(conf, newRecorder(), nil); err == nil {
		t.Fatal("Expected a second server on the same port to fail")
	}
}

func countFds(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("Cannot read /proc/self/fd: %v", err)
	}
	return len(entries)
}

func TestServerNoDescriptorLeak(t *testing.T) {
	// initialize the runtime's own network poller before counting
	warm := startTestServer(t, 1, newRecorder())
	c := dial(t, warm)
	_ = c.Close()
	_ = warm.Stop()

	before := countFds(t)

	rec := newRecorder()
	s := startTestServer(t, 3, rec)
	for i := 0; i < 5; i++ {
		conn := dial(t, s)
		sendFrame(t, conn, common.Head{}, []byte(fmt.Sprint(i)))
		rec.next(t)
		_ = conn.Close()
	}
	keep := dial(t, s)
	waitFor(t, "one connection", func() bool { return s.Connections() == 1 })

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	_ = keep.Close()

	if after := countFds(t); after != before {
		t.Errorf("%d descriptors open after Stop, expected %d", after, before)
	}
}

func TestServerMetrics(t *testing.T) {
	rec := newRecorder()
	s := startTestServer(t, 1, rec)
	defer s.Stop()

	conn := dial(t, s)
	defer conn.Close()
	sendFrame(t, conn, common.Head{}, []byte("abc"))
	rec.next(t)

	var sb strings.Builder
	s.WritePrometheus(&sb)
	out := sb.String()
	for _, want := range []string{
		`dtcp_server_connections_accepted_total{label="test"} 1`,
		`dtcp_server_messages_received_total{label="test"} 1`,
		`dtcp_server_connections_open{label="test"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Metrics output misses %q:\n%s", want, out)
		}
	}

	st := s.Stats()[0]
	if st.Messages != 1 || st.MaxMessageSize != int64(common.HeaderSize+3) {
		t.Errorf("Unexpected stats: %v", st)
	}

	sb.Reset()
	s.WriteStats(&sb)
	if !strings.Contains(sb.String(), "worker 0:") {
		t.Errorf("Unexpected stats dump: %q", sb.String())
	}
}
