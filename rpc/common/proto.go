package common

import (
	"encoding/binary"
	"fmt"
)

// --------------------------------------------------------------------------
// Wire Header
// --------------------------------------------------------------------------

// HeaderSize is the fixed size of the header that starts every frame
const HeaderSize = 20

// Current header version written by NewMessage
const HeadVersion uint8 = 1

// Head is the fixed-size header that starts every frame on the wire.
// All multi-byte fields are encoded in network byte order:
//
//	0      1        2      4        8        12         16       20
//	+------+--------+------+--------+--------+----------+--------+
//	| ver  | msgType| code | msgLen | tranID | sourceID | destID |
//	+------+--------+------+--------+--------+----------+--------+
//
// MsgLen is the total length of the frame INCLUDING the header, so the body
// that follows the header is MsgLen - HeaderSize bytes long.
// The transport only interprets MsgLen, every other field belongs to the
// dispatch layer.
type Head struct {
	Version  uint8
	MsgType  uint8
	Code     uint16
	MsgLen   uint32
	TranID   uint32
	SourceID uint32
	DestID   uint32
}

// Encode writes the header into b, which must be at least HeaderSize bytes long
func (h *Head) Encode(b []byte) {
	_ = b[HeaderSize-1] // bounds check hint
	b[0] = h.Version
	b[1] = h.MsgType
	binary.BigEndian.PutUint16(b[2:4], h.Code)
	binary.BigEndian.PutUint32(b[4:8], h.MsgLen)
	binary.BigEndian.PutUint32(b[8:12], h.TranID)
	binary.BigEndian.PutUint32(b[12:16], h.SourceID)
	binary.BigEndian.PutUint32(b[16:20], h.DestID)
}

// BodyLen returns the number of body bytes announced by the header.
// A header announcing less than HeaderSize bytes has no valid body length (-1).
func (h *Head) BodyLen() int {
	if h.MsgLen < HeaderSize {
		return -1
	}
	return int(h.MsgLen) - HeaderSize
}

// DecodeHead parses a header from the first HeaderSize bytes of b
func DecodeHead(b []byte) (Head, error) {
	if len(b) < HeaderSize {
		return Head{}, fmt.Errorf("header too short: %d bytes, expected %d", len(b), HeaderSize)
	}
	return Head{
		Version:  b[0],
		MsgType:  b[1],
		Code:     binary.BigEndian.Uint16(b[2:4]),
		MsgLen:   binary.BigEndian.Uint32(b[4:8]),
		TranID:   binary.BigEndian.Uint32(b[8:12]),
		SourceID: binary.BigEndian.Uint32(b[12:16]),
		DestID:   binary.BigEndian.Uint32(b[16:20]),
	}, nil
}

// PeekMsgLen returns the MsgLen field of an encoded header without decoding the rest
func PeekMsgLen(b []byte) uint32 {
	return binary.BigEndian.Uint32(b[4:8])
}

// --------------------------------------------------------------------------
// Frame Factory Functions
// --------------------------------------------------------------------------

// NewMessage builds a complete frame (header followed by body).
// MsgLen is computed from the body, the Version defaults to HeadVersion if unset.
func NewMessage(h Head, body []byte) []byte {
	if h.Version == 0 {
		h.Version = HeadVersion
	}
	h.MsgLen = uint32(HeaderSize + len(body))

	frame := make([]byte, HeaderSize+len(body))
	h.Encode(frame)
	copy(frame[HeaderSize:], body)
	return frame
}

// SplitMessage splits a complete frame into its header and body.
// The body is a sub-slice of msg, no data is copied.
func SplitMessage(msg []byte) (Head, []byte, error) {
	h, err := DecodeHead(msg)
	if err != nil {
		return Head{}, nil, err
	}
	bodyLen := h.BodyLen()
	if bodyLen < 0 {
		return Head{}, nil, fmt.Errorf("invalid message length %d (header is %d bytes)", h.MsgLen, HeaderSize)
	}
	if len(msg) < HeaderSize+bodyLen {
		return Head{}, nil, fmt.Errorf("message truncated: have %d bytes, header announces %d", len(msg), h.MsgLen)
	}
	return h, msg[HeaderSize : HeaderSize+bodyLen], nil
}
