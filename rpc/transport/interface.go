package transport

import (
	"net/netip"
)

// --------------------------------------------------------------------------
// Connection types
// --------------------------------------------------------------------------

// ConnType identifies the transport a Receipt was produced by
type ConnType uint8

const (
	ConnTypeUnknown ConnType = iota
	ConnTypeTCP
)

func (t ConnType) String() string {
	switch t {
	case ConnTypeTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Connection handle
// --------------------------------------------------------------------------

// Conn is the handle the dispatch layer uses to talk back to a peer.
// Handles are values; once the underlying connection is released every
// operation through an old handle fails instead of touching a recycled socket.
type Conn interface {
	// Send writes data to the peer as-is and returns the number of bytes written.
	// The transport does no framing on the outbound path.
	Send(data []byte) (int, error)

	// Close half-closes the connection. The transport releases it once the
	// peer acknowledges the close. No broken-link notification follows.
	Close() error

	// Valid reports whether the handle still refers to a live connection
	Valid() bool

	// RemoteAddr returns the peer address
	RemoteAddr() netip.AddrPort

	// WorkerID returns the index of the I/O worker owning the connection
	WorkerID() int
}

// --------------------------------------------------------------------------
// Upcall contract
// --------------------------------------------------------------------------

// Receipt describes one delivery from the transport to the dispatch layer.
//
// For a framed message Msg holds the complete frame (header followed by body)
// and Buffer the whole allocation, which additionally reserves Overhead bytes
// in front of Msg for the dispatch layer's own envelope.
//
// For a broken link Msg and Buffer are nil, MsgLen is 0 and Conn is nil.
type Receipt struct {
	Buffer   []byte
	Msg      []byte
	MsgLen   int
	Overhead int

	Peer netip.AddrPort

	// Service is the value passed at server or client pool start-up
	Service any
	// AppHandle is the value the handler returned for the previous delivery on this connection
	AppHandle any

	Conn     Conn
	ConnType ConnType
}

// IsBrokenLink reports whether the receipt notifies a dropped connection
func (r Receipt) IsBrokenLink() bool {
	return r.Msg == nil
}

// Handler is implemented by the dispatch layer and invoked by the transport
// from its I/O workers.
type Handler interface {
	// OnReceive is called once per framed message and once per broken link.
	// The returned value is stored as the connection's application handle and
	// passed back with the next Receipt. Returning nil releases the connection.
	OnReceive(r Receipt) any
}

// HandlerFunc adapts an ordinary function to the Handler interface
type HandlerFunc func(r Receipt) any

// OnReceive calls f(r)
func (f HandlerFunc) OnReceive(r Receipt) any {
	return f(r)
}
