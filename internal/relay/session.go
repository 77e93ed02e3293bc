// Package relay pairs one WebSocket with one TCP socket, forwarding
// bytes byte-transparently in both directions with backpressure, a
// connect deadline, and a buffer for messages that arrive before the
// backend connection is established.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ottdbridge/bridge/internal/logging"
)

// WebSocket close codes used to report how a session ended.
const (
	CloseNormal           = websocket.StatusNormalClosure   // 1000
	CloseTransportFailure = websocket.StatusInternalError   // 1011
	ClosePolicyRejected   = websocket.StatusPolicyViolation // 1008
)

// Stats carries byte counters for a completed session, surfaced to the
// optional telemetry sink.
type Stats struct {
	BytesWsToTCP int64
	BytesTCPToWs int64
}

// EventFunc is invoked once when a session ends, carrying its outcome.
// Used to feed the optional telemetry sink without the relay package
// depending on it directly.
type EventFunc func(sessionID, host string, port uint16, stats Stats, closeCode websocket.StatusCode)

// Dialer opens the outbound TCP half; satisfied by net.Dialer in
// production and swappable in tests.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Session pairs exactly one WebSocket with one TCP socket for its
// lifetime.
type Session struct {
	ID     string
	dialer Dialer
	logger zerolog.Logger
	onDone EventFunc

	connectTimeout     time.Duration
	maxWsBufferedBytes int64
}

// New creates a relay session with the given connect timeout and
// pre-connect buffer bound.
func New(dialer Dialer, connectTimeout time.Duration, maxWsBufferedBytes int64, onDone EventFunc) *Session {
	id := uuid.NewString()
	return &Session{
		ID:                 id,
		dialer:             dialer,
		logger:             logging.For(logging.CategoryWS).With().Str("session", id).Logger(),
		onDone:             onDone,
		connectTimeout:     connectTimeout,
		maxWsBufferedBytes: maxWsBufferedBytes,
	}
}

// preConnectMsg is one WebSocket message buffered while the backend TCP
// connection is still dialing.
type preConnectMsg struct {
	data []byte
}

// Run executes the full session state machine: connecting -> open ->
// closing -> closed. It blocks until the session ends and always leaves
// both ws and the dialed TCP socket (if any) closed.
func (s *Session) Run(ctx context.Context, ws *websocket.Conn, host string, port uint16) {
	log := s.logger.With().Str("target", fmt.Sprintf("%s:%d", host, port)).Logger()
	log.Info().Msg("relay session connecting")

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Pre-connect buffering: collect inbound WS messages while the
	// backend TCP connection dials.
	var (
		bufMu      sync.Mutex
		buffered   []preConnectMsg
		bufferedSz int64
		bufferOK   = true
	)
	bufferDone := make(chan struct{})
	bufferCtx, stopBuffering := context.WithCancel(sessCtx)

	go func() {
		defer close(bufferDone)
		for {
			_, data, err := ws.Read(bufferCtx)
			if err != nil {
				return
			}
			bufMu.Lock()
			bufferedSz += int64(len(data))
			if bufferedSz > s.maxWsBufferedBytes {
				bufferOK = false
				bufMu.Unlock()
				return
			}
			buffered = append(buffered, preConnectMsg{data: data})
			bufMu.Unlock()
		}
	}()

	dialCtx, dialCancel := context.WithTimeout(sessCtx, s.connectTimeout)
	tcp, dialErr := s.dialer.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", host, port))
	dialCancel()

	stopBuffering()
	<-bufferDone

	bufMu.Lock()
	overflowed := !bufferOK
	pending := buffered
	bufMu.Unlock()

	if overflowed {
		log.Warn().Msg("relay session: pre-connect buffer exceeded, rejecting")
		_ = ws.Close(CloseTransportFailure, "pre-connect buffer exceeded")
		if tcp != nil {
			tcp.Close()
		}
		s.report(host, port, Stats{}, CloseTransportFailure)
		return
	}

	if dialErr != nil {
		log.Warn().Err(dialErr).Msg("relay session: connect failed")
		_ = ws.Close(CloseTransportFailure, "backend unreachable")
		s.report(host, port, Stats{}, CloseTransportFailure)
		return
	}
	defer tcp.Close()

	log.Info().Msg("relay session open")

	// Flush anything buffered while the backend was connecting,
	// byte-transparently.
	for _, m := range pending {
		if _, err := tcp.Write(m.data); err != nil {
			log.Warn().Err(err).Msg("relay session: flushing pre-connect buffer failed")
			_ = ws.Close(CloseTransportFailure, "backend write failed")
			s.report(host, port, Stats{}, CloseTransportFailure)
			return
		}
	}

	stats, closeCode, reason := s.bridge(sessCtx, ws, tcp)
	log.Info().Int64("ws_to_tcp", stats.BytesWsToTCP).Int64("tcp_to_ws", stats.BytesTCPToWs).Msg("relay session closed")
	_ = ws.Close(closeCode, reason)
	s.report(host, port, stats, closeCode)
}

// bridge runs the steady-state byte-transparent forwarding loop in both
// directions until one side closes or errors, then tears down the other.
func (s *Session) bridge(ctx context.Context, ws *websocket.Conn, tcp net.Conn) (Stats, websocket.StatusCode, string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wsToTCP, tcpToWs atomic.Int64
	errc := make(chan error, 2)

	go func() { errc <- s.wsToTCP(ctx, ws, tcp, &wsToTCP) }()
	go func() { errc <- s.tcpToWS(ctx, ws, tcp, &tcpToWs) }()

	err := <-errc
	cancel()
	_ = tcp.SetReadDeadline(time.Now()) // unblock the other direction's tcp.Read
	<-errc

	stats := Stats{BytesWsToTCP: wsToTCP.Load(), BytesTCPToWs: tcpToWs.Load()}

	if err == nil {
		return stats, CloseNormal, "bye"
	}
	return stats, CloseTransportFailure, "transport error"
}

// wsToTCP forwards WebSocket messages to the backend TCP connection. A
// blocking tcp.Write is the backpressure mechanism for this direction:
// while the kernel send buffer is full, Write blocks, which in turn
// blocks ws.Read from pulling the next message, pausing the client
// until the backend catches up.
func (s *Session) wsToTCP(ctx context.Context, ws *websocket.Conn, tcp net.Conn, count *atomic.Int64) error {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return ignoreNormalClose(err)
		}
		n, err := tcp.Write(data)
		count.Add(int64(n))
		if err != nil {
			return err
		}
	}
}

// tcpToWS forwards bytes read from the backend TCP connection as
// WebSocket binary messages. Reads are capped to a fixed chunk so that a
// single ws.Write — which blocks until the frame is flushed — never lets
// more than one chunk's worth of unacknowledged data accumulate; this
// approximates pause/resume backpressure in this direction since
// coder/websocket exposes no buffered-byte introspection API to check
// against maxWsBufferedBytes directly.
func (s *Session) tcpToWS(ctx context.Context, ws *websocket.Conn, tcp net.Conn, count *atomic.Int64) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := tcp.Read(buf)
		if n > 0 {
			if wErr := ws.Write(ctx, websocket.MessageBinary, buf[:n]); wErr != nil {
				return wErr
			}
			count.Add(int64(n))
		}
		if err != nil {
			return ignoreEOF(err)
		}
	}
}

func (s *Session) report(host string, port uint16, stats Stats, code websocket.StatusCode) {
	if s.onDone != nil {
		s.onDone(s.ID, host, port, stats, code)
	}
}

func ignoreNormalClose(err error) error {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
		return nil
	}
	return err
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return err
}
