package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// pipeDialer hands out one fixed net.Conn regardless of address, letting
// tests substitute a net.Pipe() for the TCP backend.
type pipeDialer struct {
	conn net.Conn
}

func (d *pipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.conn, nil
}

type failDialer struct{ err error }

func (d *failDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return nil, d.err
}

// The backend receives exactly what the client sends, and the client
// receives exactly what the backend sends.
func TestSessionByteTransparentBothDirections(t *testing.T) {
	serverSide, backendSide := net.Pipe()
	defer backendSide.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		sess := New(&pipeDialer{conn: serverSide}, 2*time.Second, 64*1024, nil)
		sess.Run(r.Context(), ws, "10.0.0.5", 3979)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()

	ctx := context.Background()
	if err := ws.Write(ctx, websocket.MessageBinary, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("ws write: %v", err)
	}

	buf := make([]byte, 3)
	backendSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(backendSide, buf); err != nil {
		t.Fatalf("backend read: %v", err)
	}
	if buf[0] != 0x01 || buf[1] != 0x02 || buf[2] != 0x03 {
		t.Fatalf("backend received %v, want [1 2 3]", buf)
	}

	if _, err := backendSide.Write([]byte{0xFF}); err != nil {
		t.Fatalf("backend write: %v", err)
	}
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	if len(data) != 1 || data[0] != 0xFF {
		t.Fatalf("client received %v, want [0xFF]", data)
	}

	ws.Close(websocket.StatusNormalClosure, "bye")
}

// A failed dial closes the WebSocket with 1011 and never leaves a
// dangling TCP socket.
func TestSessionConnectFailureClosesWithTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		sess := New(&failDialer{err: context.DeadlineExceeded}, 200*time.Millisecond, 64*1024, nil)
		sess.Run(r.Context(), ws, "unreachable.example", 1234)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()

	_, _, err = ws.Read(context.Background())
	var closeErr websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected a close error, got %v", err)
	}
	if closeErr.Code != CloseTransportFailure {
		t.Fatalf("close code = %v, want %v", closeErr.Code, CloseTransportFailure)
	}
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

