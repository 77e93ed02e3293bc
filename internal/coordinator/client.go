// Package coordinator implements the short-lived TCP sessions that drive
// the coordinator protocol's list-servers and resolve-invite flows. Each
// flow opens its own connection, writes a single request frame, and
// reads frames off the wire until a terminal condition is reached.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ottdbridge/bridge/internal/logging"
	"github.com/ottdbridge/bridge/internal/protocol"
)

const (
	coordVersion     = 6
	gameInfoVersion  = 7
	revisionTag      = "14.1"
	listTimeout      = 10 * time.Second
	resolveTimeout   = 15 * time.Second
	watchdogTimeout  = 10 * time.Second
	readChunkSize    = 4096
)

// ErrTimeout marks a deadline/watchdog expiry, fatal to the current session.
var ErrTimeout = errors.New("coordinator: timeout")

// ErrConnectionFailed mirrors an explicit GC_CONNECT_FAILED response.
var ErrConnectionFailed = errors.New("coordinator: connection failed")

// Client speaks the coordinator's TCP-framed binary protocol. Each flow
// opens its own short-lived connection; Client itself holds no socket
// state between calls.
type Client struct {
	addr   string
	dialer net.Dialer
	logger zerolog.Logger
}

// New creates a Client targeting the coordinator at addr ("host:port").
func New(addr string) *Client {
	return &Client{addr: addr, logger: logging.For(logging.CategoryServer)}
}

// ListServers opens a TCP session, emits CLIENT_LISTING, and accumulates
// server records until an empty GC_LISTING, a decode error, timeout, or
// socket close. The listing is advisory: on any of those terminal
// conditions the accumulated results are returned rather than an
// empty-handed error, so callers degrade gracefully instead of failing
// the whole request over a coordinator hiccup.
func (c *Client) ListServers(ctx context.Context) ([]protocol.ServerRecord, error) {
	sessionID := uuid.NewString()
	log := c.logger.With().Str("session", sessionID).Str("flow", "list").Logger()

	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("list flow: dial failed")
		return nil, nil
	}
	defer conn.Close()

	fw := &protocol.FieldWriter{}
	fw.U8(coordVersion).U8(gameInfoVersion).ZString(revisionTag).U32LE(0)
	frame, err := protocol.WriteFrame(protocol.PktClientListing, fw.Bytes())
	if err != nil {
		return nil, fmt.Errorf("encode client_listing: %w", err)
	}

	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)
	if _, err := conn.Write(frame); err != nil {
		log.Warn().Err(err).Msg("list flow: write failed")
		return nil, nil
	}

	table := protocol.NewNewGRFTable()
	var records []protocol.ServerRecord
	buf := make([]byte, 0, readChunkSize)
	readBuf := make([]byte, readChunkSize)

	for {
		select {
		case <-ctx.Done():
			return records, nil
		default:
		}

		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
		}
		for {
			fr, consumed, ferr := protocol.Next(buf)
			if ferr == protocol.NeedMore {
				break
			}
			if ferr != nil {
				log.Debug().Err(ferr).Msg("list flow: decode error, returning partial results")
				return records, nil
			}
			buf = buf[consumed:]

			switch fr.Type {
			case protocol.PktGCNewGRFLookup:
				if derr := protocol.DecodeNewGRFLookup(fr.Payload, table); derr != nil {
					log.Debug().Err(derr).Msg("newgrf lookup decode error")
				}
			case protocol.PktGCListing:
				recs, derr := protocol.DecodeListing(fr.Payload, table)
				if derr != nil {
					log.Debug().Err(derr).Msg("listing decode error, returning partial results")
					return records, nil
				}
				if len(recs) == 0 {
					// An empty listing marks the end of the stream.
					return append(records, recs...), nil
				}
				records = append(records, recs...)
			case protocol.PktGCError:
				// A coordinator error ends the listing stream.
				log.Debug().Msg("list flow: coordinator error, returning partial results")
				return records, nil
			default:
				log.Debug().Uint8("type", fr.Type).Msg("list flow: ignoring packet type")
			}
		}

		if err != nil {
			// Socket closed, timed out, or otherwise errored: the
			// listing is advisory, degrade gracefully.
			return records, nil
		}
	}
}

// ResolveResult is the outcome of a resolve-invite flow: exactly one of
// Direct or Relay is populated.
type ResolveResult struct {
	Direct *DirectAddress
	Relay  *RelayAddress
}

type DirectAddress struct {
	Host string
	Port uint16
}

type RelayAddress struct {
	Host   string
	Port   uint16
	Ticket string
}

// ResolveInvite drives a request/response exchange against the
// coordinator and is strict about failure: any anomaly short of a
// successful DIRECT_CONNECT or TURN_CONNECT is surfaced as an error.
// The exchange is bounded by two timeouts at once: an overall deadline
// for the whole call, and a shorter per-read watchdog so a coordinator
// that stops responding mid-exchange is detected well before the
// overall deadline expires. Each read's deadline is clamped to whichever
// of the two comes first, so a coordinator that trickles a byte just
// under the watchdog interval on every read still can't keep the
// session open past the overall deadline.
func (c *Client) ResolveInvite(ctx context.Context, inviteCode string) (*ResolveResult, error) {
	code := normalizeInviteCode(inviteCode)
	sessionID := uuid.NewString()
	log := c.logger.With().Str("session", sessionID).Str("flow", "resolve").Str("code", code).Logger()

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	overallDeadline, _ := ctx.Deadline()

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve flow: dial: %w", err)
	}
	defer conn.Close()

	fw := &protocol.FieldWriter{}
	fw.U8(coordVersion).ZString(code)
	frame, err := protocol.WriteFrame(protocol.PktClientConnect, fw.Bytes())
	if err != nil {
		return nil, fmt.Errorf("encode client_connect: %w", err)
	}

	if err := conn.SetDeadline(nextReadDeadline(overallDeadline)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(frame); err != nil {
		return nil, fmt.Errorf("resolve flow: write: %w", err)
	}

	buf := make([]byte, 0, readChunkSize)
	readBuf := make([]byte, readChunkSize)

	for {
		if time.Now().After(overallDeadline) {
			return nil, ErrTimeout
		}
		if err := conn.SetReadDeadline(nextReadDeadline(overallDeadline)); err != nil {
			return nil, err
		}
		n, rerr := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
		}
		for {
			fr, consumed, ferr := protocol.Next(buf)
			if ferr == protocol.NeedMore {
				break
			}
			if ferr != nil {
				return nil, fmt.Errorf("resolve flow: %w", ferr)
			}
			buf = buf[consumed:]

			switch fr.Type {
			case protocol.PktGCError:
				cerr, derr := protocol.DecodeGCError(fr.Payload)
				if derr != nil {
					return nil, fmt.Errorf("resolve flow: %w", derr)
				}
				return nil, cerr
			case protocol.PktGCConnecting:
				log.Debug().Msg("resolve flow: connecting token received")
			case protocol.PktGCStunRequest:
				log.Debug().Msg("resolve flow: stun request, awaiting relay instruction")
			case protocol.PktGCDirectConnect:
				dc, derr := protocol.DecodeDirectConnect(fr.Payload)
				if derr != nil {
					return nil, fmt.Errorf("resolve flow: %w", derr)
				}
				return &ResolveResult{Direct: &DirectAddress{Host: dc.Host, Port: dc.Port}}, nil
			case protocol.PktGCTurnConnect:
				tc, derr := protocol.DecodeTurnConnect(fr.Payload)
				if derr != nil {
					return nil, fmt.Errorf("resolve flow: %w", derr)
				}
				host, port, perr := splitHostPort(tc.ConnectionString)
				if perr != nil {
					return nil, fmt.Errorf("resolve flow: %w", perr)
				}
				return &ResolveResult{Relay: &RelayAddress{Host: host, Port: port, Ticket: tc.Ticket}}, nil
			case protocol.PktGCConnectFailed:
				return nil, ErrConnectionFailed
			default:
				log.Debug().Uint8("type", fr.Type).Msg("resolve flow: ignoring packet type")
			}
		}

		if rerr != nil {
			if isTimeout(rerr) {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("resolve flow: %w", rerr)
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	return c.dialer.DialContext(ctx, "tcp", c.addr)
}

// nextReadDeadline returns whichever comes first: one watchdog interval
// from now, or the overall deadline. This keeps a single slow-but-alive
// coordinator from holding the connection open past overallDeadline by
// always responding just inside the watchdog window.
func nextReadDeadline(overallDeadline time.Time) time.Time {
	watchdogDeadline := time.Now().Add(watchdogTimeout)
	if watchdogDeadline.After(overallDeadline) {
		return overallDeadline
	}
	return watchdogDeadline
}

// normalizeInviteCode ensures a leading '+' sigil.
func normalizeInviteCode(code string) string {
	if strings.HasPrefix(code, "+") {
		return code
	}
	return "+" + code
}

func splitHostPort(connStr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(connStr)
	if err != nil {
		return "", 0, fmt.Errorf("malformed connection string %q: %w", connStr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("malformed port in %q: %w", connStr, err)
	}
	return host, uint16(port), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
