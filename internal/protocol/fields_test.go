package protocol

import "testing"

func TestFieldReaderPrimitivesRoundTrip(t *testing.T) {
	fw := &FieldWriter{}
	fw.U8(0x42).U16LE(0xBEEF).I32LE(-7).U32LE(0xDEADBEEF).U64LE(0x0102030405060708).ZString("hi")

	r := NewFieldReader(fw.Bytes())
	if v, err := r.U8(); err != nil || v != 0x42 {
		t.Fatalf("U8: %v %v", v, err)
	}
	if v, err := r.U16LE(); err != nil || v != 0xBEEF {
		t.Fatalf("U16LE: %v %v", v, err)
	}
	if v, err := r.I32LE(); err != nil || v != -7 {
		t.Fatalf("I32LE: %v %v", v, err)
	}
	if v, err := r.U32LE(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("U32LE: %v %v", v, err)
	}
	if v, err := r.U64LE(); err != nil || v != 0x0102030405060708 {
		t.Fatalf("U64LE: %v %v", v, err)
	}
	if s, err := r.ZString(); err != nil || s != "hi" {
		t.Fatalf("ZString: %q %v", s, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("remaining = %d, want 0", r.Remaining())
	}
}

func TestFieldReaderOverrunIsDecodeError(t *testing.T) {
	r := NewFieldReader([]byte{0x01})
	if _, err := r.U16LE(); err == nil {
		t.Fatal("expected decode error reading past payload end")
	}
}

func TestZStringMissingTerminatorIsDecodeError(t *testing.T) {
	r := NewFieldReader([]byte{'a', 'b', 'c'})
	if _, err := r.ZString(); err == nil {
		t.Fatal("expected decode error for missing zstring terminator")
	}
}
