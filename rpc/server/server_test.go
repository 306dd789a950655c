package server

import (
	"bytes"
	"errors"
	"github.com/ValentinKolb/dTCP/rpc/common"
	"github.com/ValentinKolb/dTCP/rpc/transport"
	"net/netip"
	"testing"
)

// fakeConn records every frame sent through it
type fakeConn struct {
	sent    [][]byte
	sendErr error
}

func (c *fakeConn) Send(data []byte) (int, error) {
	if c.sendErr != nil {
		return 0, c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return len(data), nil
}

func (c *fakeConn) Close() error               { return nil }
func (c *fakeConn) Valid() bool                { return true }
func (c *fakeConn) RemoteAddr() netip.AddrPort { return netip.AddrPort{} }
func (c *fakeConn) WorkerID() int              { return 0 }

var testPeer = netip.MustParseAddrPort("10.0.0.1:5000")

func receipt(conn transport.Conn, appHandle any, msg []byte) transport.Receipt {
	return transport.Receipt{
		Buffer:    msg,
		Msg:       msg,
		MsgLen:    len(msg),
		Peer:      testPeer,
		AppHandle: appHandle,
		Conn:      conn,
		ConnType:  transport.ConnTypeTCP,
	}
}

func TestDispatcherEcho(t *testing.T) {
	d := NewDispatcher()
	conn := &fakeConn{}

	req := common.NewMessage(common.Head{MsgType: 4, TranID: 99, SourceID: 1, DestID: 2}, []byte("payload"))
	h := d.OnReceive(receipt(conn, nil, req))
	if h == nil {
		t.Fatal("Dispatcher released the connection")
	}
	if d.Sessions() != 1 {
		t.Errorf("Sessions = %d, expected 1", d.Sessions())
	}
	if len(conn.sent) != 1 {
		t.Fatalf("%d frames sent, expected 1", len(conn.sent))
	}

	head, body, err := common.SplitMessage(conn.sent[0])
	if err != nil {
		t.Fatalf("Invalid response: %v", err)
	}
	if head.MsgType != 5 || head.TranID != 99 || head.SourceID != 2 || head.DestID != 1 {
		t.Errorf("Unexpected response header: %+v", head)
	}
	if !bytes.Equal(body, []byte("payload")) {
		t.Errorf("Response body = %q", body)
	}

	// the session is reused for later messages on the same connection
	h2 := d.OnReceive(receipt(conn, h, req))
	if h2 != h {
		t.Error("Dispatcher opened a second session for the same connection")
	}
	if got := h.(*session).messages.Load(); got != 2 {
		t.Errorf("Session counted %d messages, expected 2", got)
	}

	// broken link closes the session
	if d.OnReceive(transport.Receipt{AppHandle: h, ConnType: transport.ConnTypeTCP}) != nil {
		t.Error("Broken link should return no handle")
	}
	if d.Sessions() != 0 {
		t.Errorf("Sessions = %d after broken link, expected 0", d.Sessions())
	}
}

type countingAdapter struct {
	calls int
}

func (a *countingAdapter) Handle(req common.Head, _ []byte) (common.Head, []byte, bool) {
	a.calls++
	return req, nil, false
}

func TestDispatcherRouting(t *testing.T) {
	d := NewDispatcher()
	a := &countingAdapter{}
	d.Register(7, a)
	conn := &fakeConn{}

	d.OnReceive(receipt(conn, nil, common.NewMessage(common.Head{MsgType: 7}, nil)))
	if a.calls != 1 {
		t.Errorf("Registered adapter called %d times, expected 1", a.calls)
	}
	if len(conn.sent) != 0 {
		t.Error("Adapter declined to respond but a frame was sent")
	}

	d.OnReceive(receipt(conn, nil, common.NewMessage(common.Head{MsgType: 8}, nil)))
	if a.calls != 1 || len(conn.sent) != 1 {
		t.Error("Unregistered message type was not handled by the echo adapter")
	}
}

func TestDispatcherInvalidAndFailedSend(t *testing.T) {
	d := NewDispatcher()
	conn := &fakeConn{}

	// a frame whose header announces more than was received
	bad := common.NewMessage(common.Head{}, []byte("abc"))
	h := d.OnReceive(receipt(conn, nil, bad[:len(bad)-1]))
	if h == nil {
		t.Error("Invalid message should keep the connection")
	}
	if len(conn.sent) != 0 {
		t.Error("Response sent for an invalid message")
	}

	conn.sendErr = errors.New("broken pipe")
	if d.OnReceive(receipt(conn, h, common.NewMessage(common.Head{}, nil))) != h {
		t.Error("Failed send should keep the session")
	}
}
