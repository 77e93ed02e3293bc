package protocol

import "testing"

func TestNextNeedsMoreOnPartialHeader(t *testing.T) {
	_, _, err := Next([]byte{0x01})
	if err != NeedMore {
		t.Fatalf("got %v, want NeedMore", err)
	}
}

func TestNextNeedsMoreOnPartialPayload(t *testing.T) {
	buf, err := WriteFrame(5, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	_, _, err = Next(buf[:len(buf)-1])
	if err != NeedMore {
		t.Fatalf("got %v, want NeedMore", err)
	}
}

func TestNextRejectsUndersizedPacket(t *testing.T) {
	buf := []byte{0x02, 0x00, 0xFF} // size=2, below minimum 3
	_, _, err := Next(buf)
	if err == nil {
		t.Fatal("expected decode error for size < 3")
	}
}

// A packet with size == 3 (empty payload) decodes without reading any
// payload bytes.
func TestNextEmptyPayload(t *testing.T) {
	buf, err := WriteFrame(7, nil)
	if err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	frame, consumed, err := Next(buf)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if consumed != 3 {
		t.Fatalf("consumed = %d, want 3", consumed)
	}
	if len(frame.Payload) != 0 {
		t.Fatalf("payload = %v, want empty", frame.Payload)
	}
	if frame.Type != 7 {
		t.Fatalf("type = %d, want 7", frame.Type)
	}
}

func TestRoundTripFrame(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	buf, err := WriteFrame(PktGCListing, payload)
	if err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	frame, consumed, err := Next(buf)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed = %d, want %d", consumed, len(buf))
	}
	if frame.Type != PktGCListing {
		t.Fatalf("type = %d, want %d", frame.Type, PktGCListing)
	}
	if string(frame.Payload) != string(payload) {
		t.Fatalf("payload = %v, want %v", frame.Payload, payload)
	}
}

func TestNextMultipleFramesInOneBuffer(t *testing.T) {
	a, _ := WriteFrame(1, []byte("a"))
	b, _ := WriteFrame(2, []byte("bb"))
	buf := append(append([]byte{}, a...), b...)

	f1, c1, err := Next(buf)
	if err != nil {
		t.Fatalf("Next(1): %v", err)
	}
	buf = buf[c1:]
	f2, _, err := Next(buf)
	if err != nil {
		t.Fatalf("Next(2): %v", err)
	}
	if f1.Type != 1 || string(f1.Payload) != "a" {
		t.Fatalf("frame 1 = %+v", f1)
	}
	if f2.Type != 2 || string(f2.Payload) != "bb" {
		t.Fatalf("frame 2 = %+v", f2)
	}
}
