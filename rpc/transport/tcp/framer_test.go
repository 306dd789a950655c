//go:build linux

package tcp

import (
	"bytes"
	"errors"
	"github.com/ValentinKolb/dTCP/rpc/common"
	"github.com/ValentinKolb/dTCP/rpc/transport"
	"golang.org/x/sys/unix"
	"testing"
)

// framerPair returns a connection reading from one end of a socket pair and
// the descriptor of the other end
func framerPair(t *testing.T, conf common.TransportConfig) (*worker, *connection, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("Socketpair failed: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})

	w := testWorker(newFakePoller(), conf)
	c := &connection{fd: fds[0], peer: testPeer, w: w}
	return w, c, fds[1]
}

// writeAll writes b in the background so frames larger than the socket buffer work.
// The write side is shut down afterwards when eof is set.
func writeAll(t *testing.T, fd int, b []byte, eof bool) {
	done := make(chan struct{})
	t.Cleanup(func() { <-done })
	go func() {
		defer close(done)
		for len(b) > 0 {
			n, err := unix.Write(fd, b)
			if err != nil {
				if err == unix.EINTR {
					continue
				}
				return
			}
			b = b[n:]
		}
		if eof {
			_ = unix.Shutdown(fd, unix.SHUT_WR)
		}
	}()
}

func TestReadMessage(t *testing.T) {
	tests := []struct {
		name    string
		bodyLen int
	}{
		{"header only", 0},
		{"header plus one byte", 1},
		{"large", 512 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := common.DefaultTransportConfig()
			conf.RPCOverhead = 16
			w, c, peer := framerPair(t, conf)

			body := bytes.Repeat([]byte{0x5A}, tt.bodyLen)
			frame := common.NewMessage(common.Head{MsgType: 9, TranID: 77}, body)
			writeAll(t, peer, frame, false)

			r, err := w.readMessage(c)
			if err != nil {
				t.Fatalf("readMessage failed: %v", err)
			}

			if r.MsgLen != common.HeaderSize+tt.bodyLen {
				t.Errorf("MsgLen = %d, expected %d", r.MsgLen, common.HeaderSize+tt.bodyLen)
			}
			if r.Overhead != 16 || len(r.Buffer) != 16+r.MsgLen {
				t.Errorf("Buffer length = %d with overhead %d, expected %d", len(r.Buffer), r.Overhead, 16+r.MsgLen)
			}
			if !bytes.Equal(r.Msg, frame) {
				t.Error("Received frame differs from the sent frame")
			}
			if &r.Buffer[16] != &r.Msg[0] {
				t.Error("Msg does not start RPCOverhead bytes into Buffer")
			}
			if r.Peer != testPeer || r.Service != "service" || r.ConnType != transport.ConnTypeTCP {
				t.Errorf("Unexpected receipt metadata: %+v", r)
			}
			if r.IsBrokenLink() {
				t.Error("Message receipt reported as broken link")
			}
		})
	}
}

func TestReadMessageErrors(t *testing.T) {
	short := common.NewMessage(common.Head{}, make([]byte, 100))

	malformed := make([]byte, common.HeaderSize)
	(&common.Head{MsgLen: common.HeaderSize - 1}).Encode(malformed)

	tooLarge := make([]byte, common.HeaderSize)
	(&common.Head{MsgLen: 2048}).Encode(tooLarge)

	tests := []struct {
		name     string
		data     []byte
		expected error
	}{
		{"short header", short[:common.HeaderSize-4], ErrBrokenLink},
		{"short body", short[:common.HeaderSize+50], ErrBrokenLink},
		{"empty stream", nil, ErrBrokenLink},
		{"malformed header", malformed, ErrMalformedHeader},
		{"too large", tooLarge, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := common.DefaultTransportConfig()
			conf.MaxMessageSize = 1024
			w, c, peer := framerPair(t, conf)

			writeAll(t, peer, tt.data, true)

			_, err := w.readMessage(c)
			if !errors.Is(err, tt.expected) {
				t.Errorf("readMessage returned %v, expected %v", err, tt.expected)
			}
		})
	}
}

func TestReadMessageClosedByApp(t *testing.T) {
	w, c, peer := framerPair(t, common.DefaultTransportConfig())
	c.closedByApp.Store(true)

	writeAll(t, peer, common.NewMessage(common.Head{}, []byte("late")), false)

	if _, err := w.readMessage(c); !errors.Is(err, ErrClosedByApp) {
		t.Errorf("readMessage returned %v, expected ErrClosedByApp", err)
	}
}
