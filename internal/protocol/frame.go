// Package protocol implements the coordinator's length-prefixed binary
// packet framing and field codec, and the versioned server-record decode.
// It is purely functional on byte buffers; it does not own any transport,
// so it can be exercised without a socket.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxPacketSize is the natural limit of the u16 size prefix.
const MaxPacketSize = 65535

// Outgoing packet types (client -> coordinator).
const (
	PktClientListing = 4
	PktClientConnect = 6
)

// Incoming packet types (coordinator -> client).
const (
	PktGCError         = 0
	PktGCListing       = 5
	PktGCConnecting    = 7
	PktGCConnectFailed = 9
	PktGCDirectConnect = 11
	PktGCStunRequest   = 12
	PktGCNewGRFLookup  = 15
	PktGCTurnConnect   = 16
)

// ErrDecode marks a fatal framing or field decode error.
var ErrDecode = errors.New("protocol: decode error")

// Frame is one fully-framed coordinator packet: a type byte and its payload.
type Frame struct {
	Type    uint8
	Payload []byte
}

// NeedMore is returned by Next when the buffer does not yet hold a
// complete frame; the caller should read more bytes and retry.
var NeedMore = errors.New("protocol: need more data")

// Next extracts the next fully-framed packet from buf. It returns the
// frame, the number of bytes consumed from the front of buf, and an
// error. On NeedMore the caller must leave buf untouched and append more
// bytes before calling again. Any other error poisons the stream: the
// caller must close the connection.
func Next(buf []byte) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, NeedMore
	}
	size := binary.LittleEndian.Uint16(buf[0:2])
	if size < 3 {
		return Frame{}, 0, fmt.Errorf("%w: packet size %d below minimum 3", ErrDecode, size)
	}
	if int(size) > MaxPacketSize {
		return Frame{}, 0, fmt.Errorf("%w: packet size %d exceeds max %d", ErrDecode, size, MaxPacketSize)
	}
	if len(buf) < int(size) {
		return Frame{}, 0, NeedMore
	}
	typ := buf[2]
	payload := buf[3:size]
	return Frame{Type: typ, Payload: payload}, int(size), nil
}

// WriteFrame encodes a packet type and payload into a contiguous byte
// slice with a correct little-endian size prefix (size includes the
// 3-byte header).
func WriteFrame(typ uint8, payload []byte) ([]byte, error) {
	total := 3 + len(payload)
	if total > MaxPacketSize {
		return nil, fmt.Errorf("%w: encoded packet would be %d bytes", ErrDecode, total)
	}
	out := make([]byte, total)
	binary.LittleEndian.PutUint16(out[0:2], uint16(total))
	out[2] = typ
	copy(out[3:], payload)
	return out, nil
}
