package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ottdbridge/bridge/internal/config"
	"github.com/ottdbridge/bridge/internal/protocol"
)

func testPolicy(coordAddr string) *config.Policy {
	return &config.Policy{
		ListenPort:         0,
		CoordinatorAddr:    coordAddr,
		AllowedPorts:       map[uint16]struct{}{3979: {}},
		AllowedHosts:       map[string]struct{}{},
		TTL:                time.Minute,
		ConnectTimeout:     time.Second,
		MaxWsBufferedBytes: 64 * 1024,
		LogLevel:           "info",
	}
}

func TestHandleHealth(t *testing.T) {
	gw := New(testPolicy("127.0.0.1:1"), nil)
	srv := httptest.NewServer(gw.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestHandleResolveUnreachableCoordinatorReturns500(t *testing.T) {
	// The coordinator address has nothing listening, so resolution fails
	// and the handler reports it as a 500.
	gw := New(testPolicy("127.0.0.1:1"), nil)
	srv := httptest.NewServer(gw.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/resolve/%20")
	if err != nil {
		t.Fatalf("GET /resolve: %v", err)
	}
	defer resp.Body.Close()
	// "%20" decodes to a single space, a non-empty code, so the handler
	// attempts resolution rather than returning 400, and the failed dial
	// exercises the strict-error path.
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (coordinator unreachable)", resp.StatusCode)
	}
}

func TestHandleServersReturnsCachedListing(t *testing.T) {
	empty, _ := protocol.WriteFrame(protocol.PktGCListing, []byte{0, 0})
	addr := fakeCoordinatorServer(t, empty)

	gw := New(testPolicy(addr), nil)
	srv := httptest.NewServer(gw.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/servers")
	if err != nil {
		t.Fatalf("GET /servers: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var records []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("len(records) = %d, want 0", len(records))
	}
}

// Connecting to a disallowed port closes with 1008 and never attempts
// an outbound TCP connection.
func TestConnectPolicyRejectionDisallowedPort(t *testing.T) {
	gw := New(testPolicy("127.0.0.1:1"), nil)
	srv := httptest.NewServer(gw.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/connect/example.com/22"
	ws, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()

	_, _, err = ws.Read(context.Background())
	if err == nil {
		t.Fatal("expected connection to be closed")
	}
}

func fakeCoordinatorServer(t *testing.T, response []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()
		buf := make([]byte, 2)
		conn.Read(buf)
		conn.Write(response)
		time.Sleep(50 * time.Millisecond)
	}()
	return ln.Addr().String()
}
