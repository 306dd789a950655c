package tcp

import (
	"fmt"
	"github.com/ValentinKolb/dTCP/rpc/common"
	"github.com/ValentinKolb/dTCP/rpc/transport"
)

// readMessage reads one frame from a readable connection.
//
// The header is read first. A header that does not arrive in full is a broken
// link: the protocol assumes the whole header arrives or the peer is gone.
// The body (MsgLen - HeaderSize bytes) is read into a buffer that reserves
// RPCOverhead bytes in front of the frame, and the header is copied in front
// of the body so the frame is contiguous.
func (w *worker) readMessage(c *connection) (transport.Receipt, error) {
	var head [common.HeaderSize]byte

	headLen, err := readFull(c.fd, head[:])
	if headLen != common.HeaderSize {
		return transport.Receipt{}, fmt.Errorf("%w: read error, headLen:%d: %v", ErrBrokenLink, headLen, err)
	}

	msgLen := int(common.PeekMsgLen(head[:]))
	if msgLen < common.HeaderSize {
		return transport.Receipt{}, fmt.Errorf("%w: msgLen:%d is smaller than the header", ErrMalformedHeader, msgLen)
	}
	if max := w.conf.MaxMessageSize; max > 0 && msgLen > max {
		return transport.Receipt{}, fmt.Errorf("%w: msgLen:%d exceeds %d", ErrMessageTooLarge, msgLen, max)
	}

	overhead := w.conf.RPCOverhead
	buffer := make([]byte, overhead+msgLen)
	msg := buffer[overhead:]

	leftLen := msgLen - common.HeaderSize
	if leftLen > 0 {
		retLen, err := readFull(c.fd, msg[common.HeaderSize:])
		if retLen != leftLen {
			return transport.Receipt{}, fmt.Errorf("%w: read error, leftLen:%d retLen:%d: %v", ErrBrokenLink, leftLen, retLen, err)
		}
	}

	copy(msg, head[:])

	if c.closedByApp.Load() {
		return transport.Receipt{}, ErrClosedByApp
	}

	return transport.Receipt{
		Buffer:    buffer,
		Msg:       msg,
		MsgLen:    msgLen,
		Overhead:  overhead,
		Peer:      c.peer,
		Service:   w.service,
		AppHandle: w.reg.appHandle(c),
		Conn:      c.handle(),
		ConnType:  transport.ConnTypeTCP,
	}, nil
}
