// Package gateway implements the single listening HTTP port that serves
// /servers, /resolve/:code, /health, OPTIONS, and upgrades
// /connect/:host/:port to a relay session, with CORS and allow-list
// policy enforcement.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ottdbridge/bridge/internal/cache"
	"github.com/ottdbridge/bridge/internal/config"
	"github.com/ottdbridge/bridge/internal/coordinator"
	"github.com/ottdbridge/bridge/internal/logging"
	"github.com/ottdbridge/bridge/internal/obstable"
	"github.com/ottdbridge/bridge/internal/protocol"
	"github.com/ottdbridge/bridge/internal/relay"
)

// Gateway owns the HTTP listener, the server-list cache, the coordinator
// client, and spawns one Relay Session per successful WebSocket upgrade.
type Gateway struct {
	policy      *config.Policy
	coordClient *coordinator.Client
	cache       *cache.ServerListCache
	onRelayDone relay.EventFunc

	router     *gin.Engine
	httpServer *http.Server
}

// New wires a Gateway for the given policy. onRelayDone, if non-nil, is
// invoked once per completed relay session (used by the optional MQTT
// telemetry sink).
func New(policy *config.Policy, onRelayDone relay.EventFunc) *Gateway {
	if policy.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	coordClient := coordinator.New(policy.CoordinatorAddr)

	g := &Gateway{
		policy:      policy,
		coordClient: coordClient,
		onRelayDone: onRelayDone,
	}
	g.cache = cache.New(policy.TTL, g.fetchListing)
	g.router = g.buildRouter()
	return g
}

func (g *Gateway) fetchListing(ctx context.Context) ([]protocol.ServerRecord, error) {
	records, err := g.coordClient.ListServers(ctx)
	if err == nil && g.policy.LogLevel == "debug" {
		obstable.PrintServerTable(records)
	}
	return records, err
}

// buildRouter assembles the gin engine: recovery, request logging, CORS,
// the three HTTP routes, the WebSocket upgrade route, and a 404 fallback.
func (g *Gateway) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/servers", g.handleServers)
	router.GET("/resolve/:code", g.handleResolve)
	router.GET("/health", g.handleHealth)
	router.GET("/connect/:host/:port", g.handleConnect)

	router.NoRoute(func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		c.String(http.StatusNotFound, "Not Found")
	})

	return router
}

// requestLogger logs each HTTP request under the HTTP observability
// category once the handler chain has finished, so it can include the
// final status code and latency.
func requestLogger() gin.HandlerFunc {
	log := logging.For(logging.CategoryHTTP)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (g *Gateway) handleServers(c *gin.Context) {
	records, err := g.cache.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toServerDTOs(records))
}

func (g *Gateway) handleResolve(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing invite code"})
		return
	}
	result, err := g.coordClient.ResolveInvite(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	switch {
	case result.Direct != nil:
		c.JSON(http.StatusOK, gin.H{
			"hostname": result.Direct.Host,
			"port":     result.Direct.Port,
			"type":     "direct",
		})
	case result.Relay != nil:
		c.JSON(http.StatusOK, gin.H{
			"hostname": result.Relay.Host,
			"port":     result.Relay.Port,
			"type":     "relay",
			"ticket":   result.Relay.Ticket,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve returned no result"})
	}
}

// handleConnect parses /connect/<host>/<port>, enforces the allow-list
// admission policy, and on success upgrades to WebSocket and spawns a
// relay session. The allow-list is checked before any outbound socket is
// opened: admission happens entirely before the relay.Session is
// constructed, so a rejected request never causes an outbound dial.
func (g *Gateway) handleConnect(c *gin.Context) {
	host := c.Param("host")
	portStr := c.Param("port")

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || host == "" {
		c.String(http.StatusBadRequest, "Bad Request")
		return
	}
	if !g.policy.IsPortAllowed(uint16(port)) {
		ws, upErr := websocket.Accept(c.Writer, c.Request, nil)
		if upErr == nil {
			_ = ws.Close(relay.ClosePolicyRejected, "Port not allowed")
		}
		return
	}
	if !g.policy.IsHostAllowed(host) {
		ws, upErr := websocket.Accept(c.Writer, c.Request, nil)
		if upErr == nil {
			_ = ws.Close(relay.ClosePolicyRejected, "Host not allowed")
		}
		return
	}

	ws, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	session := relay.New(&net.Dialer{}, g.policy.ConnectTimeout, g.policy.MaxWsBufferedBytes, g.onRelayDone)
	session.Run(c.Request.Context(), ws, host, uint16(port))
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// performs a graceful shutdown: the listener stops accepting and
// in-flight HTTP requests get up to 10 seconds to finish. Relay sessions
// run on hijacked WebSocket connections, which the shutdown neither
// cancels nor waits for.
func (g *Gateway) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", g.policy.ListenPort)
	g.httpServer = &http.Server{
		Addr:    addr,
		Handler: g.router,
	}

	log := logging.For(logging.CategoryServer)
	log.Info().Str("addr", addr).Msg("gateway listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = g.httpServer.Shutdown(shutdownCtx)
	}()

	err := g.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// toServerDTOs maps decoded protocol.ServerRecord values onto the
// external JSON field names returned by /servers.
func toServerDTOs(records []protocol.ServerRecord) []gin.H {
	out := make([]gin.H, 0, len(records))
	for _, r := range records {
		out = append(out, gin.H{
			"connection_string": r.ConnectionString,
			"name":               r.Name,
			"version":            r.Version,
			"clients_on":         r.ClientsOn,
			"clients_max":        r.ClientsMax,
			"companies_on":       r.CompaniesOn,
			"companies_max":      r.CompaniesMax,
			"spectators_on":      r.SpectatorsOn,
			"map_width":          r.MapWidth,
			"map_height":         r.MapHeight,
			"landscape":          r.Landscape.String(),
			"password":           r.Password,
			"dedicated":          r.Dedicated,
			"calendar_date":      r.CalendarDate,
			"calendar_start":     r.CalendarStart,
			"ticks_playing":      r.TicksPlaying,
			"gamescript_name":    r.GamescriptName,
			"gamescript_version": r.GamescriptVersion,
			"newgrfs":            r.NewGRFs,
		})
	}
	return out
}
