package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FieldReader is a bounds-checked cursor over one packet's payload.
// Every read beyond the remaining bytes is a decode error.
type FieldReader struct {
	buf []byte
	pos int
}

// NewFieldReader wraps a payload for sequential field reads.
func NewFieldReader(payload []byte) *FieldReader {
	return &FieldReader{buf: payload}
}

// Remaining reports how many unread bytes are left.
func (f *FieldReader) Remaining() int {
	return len(f.buf) - f.pos
}

func (f *FieldReader) need(n int) error {
	if f.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrDecode, n, f.Remaining())
	}
	return nil
}

// U8 reads a single byte.
func (f *FieldReader) U8() (uint8, error) {
	if err := f.need(1); err != nil {
		return 0, err
	}
	v := f.buf[f.pos]
	f.pos++
	return v, nil
}

// U16LE reads a little-endian uint16.
func (f *FieldReader) U16LE() (uint16, error) {
	if err := f.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(f.buf[f.pos : f.pos+2])
	f.pos += 2
	return v, nil
}

// I32LE reads a little-endian int32.
func (f *FieldReader) I32LE() (int32, error) {
	v, err := f.U32LE()
	return int32(v), err
}

// U32LE reads a little-endian uint32.
func (f *FieldReader) U32LE() (uint32, error) {
	if err := f.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(f.buf[f.pos : f.pos+4])
	f.pos += 4
	return v, nil
}

// U64LE reads a little-endian uint64.
func (f *FieldReader) U64LE() (uint64, error) {
	if err := f.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(f.buf[f.pos : f.pos+8])
	f.pos += 8
	return v, nil
}

// Bytes reads n raw bytes.
func (f *FieldReader) Bytes(n int) ([]byte, error) {
	if err := f.need(n); err != nil {
		return nil, err
	}
	v := f.buf[f.pos : f.pos+n]
	f.pos += n
	return v, nil
}

// ZString reads bytes up to and consuming the next 0x00 terminator. A
// missing terminator before the end of the payload is a decode error.
func (f *FieldReader) ZString() (string, error) {
	idx := bytes.IndexByte(f.buf[f.pos:], 0x00)
	if idx < 0 {
		return "", fmt.Errorf("%w: zstring missing terminator", ErrDecode)
	}
	s := string(f.buf[f.pos : f.pos+idx])
	f.pos += idx + 1
	return s, nil
}

// FieldWriter accumulates a packet payload field by field, mirroring
// FieldReader's primitive set.
type FieldWriter struct {
	buf []byte
}

func (f *FieldWriter) U8(v uint8) *FieldWriter {
	f.buf = append(f.buf, v)
	return f
}

func (f *FieldWriter) U16LE(v uint16) *FieldWriter {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	f.buf = append(f.buf, b[:]...)
	return f
}

func (f *FieldWriter) I32LE(v int32) *FieldWriter {
	return f.U32LE(uint32(v))
}

func (f *FieldWriter) U32LE(v uint32) *FieldWriter {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	f.buf = append(f.buf, b[:]...)
	return f
}

func (f *FieldWriter) U64LE(v uint64) *FieldWriter {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	f.buf = append(f.buf, b[:]...)
	return f
}

func (f *FieldWriter) Raw(b []byte) *FieldWriter {
	f.buf = append(f.buf, b...)
	return f
}

func (f *FieldWriter) ZString(s string) *FieldWriter {
	f.buf = append(f.buf, []byte(s)...)
	f.buf = append(f.buf, 0x00)
	return f
}

func (f *FieldWriter) Bytes() []byte {
	return f.buf
}
