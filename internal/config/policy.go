// Package config builds the bridge's immutable Policy from the
// process's configuration surface: an optional first positional CLI
// argument overriding the listen port, and a handful of environment
// variables. The policy is built once in main and handed out read-only
// thereafter; nothing here touches disk.
package config

import (
	"os"
	"strconv"
	"time"
)

// DefaultListenPort is used when no CLI override is given.
const DefaultListenPort = 8080

// Canonical coordinator infrastructure ports plus common game ports,
// the default connect-target allow-list.
var defaultAllowedPorts = []uint16{3979, 3978, 3975, 3974, 3973}

// Policy is immutable after start-up: built once in Load and never
// mutated afterward, so it can be shared across goroutines without a
// lock.
type Policy struct {
	ListenPort         int
	CoordinatorAddr    string
	AllowedPorts       map[uint16]struct{}
	AllowedHosts       map[string]struct{} // empty means allow-all
	TTL                time.Duration
	ConnectTimeout     time.Duration
	MaxWsBufferedBytes int64
	LogLevel           string
	MQTTBrokerURL      string // optional, supplemented telemetry sink
}

// IsPortAllowed reports whether port is in the allow-list.
func (p *Policy) IsPortAllowed(port uint16) bool {
	_, ok := p.AllowedPorts[port]
	return ok
}

// IsHostAllowed reports whether host is permitted. An empty allow-list
// means accept any host — the port allow-list remains the primary
// admission control in that case, so operators who want tighter
// restrictions should populate AllowedHosts explicitly.
func (p *Policy) IsHostAllowed(host string) bool {
	if len(p.AllowedHosts) == 0 {
		return true
	}
	_, ok := p.AllowedHosts[host]
	return ok
}

// Load builds the Policy from CLI args and the process environment.
// args is expected to be os.Args; args[1], if present, overrides the
// listen port.
func Load(args []string) *Policy {
	port := DefaultListenPort
	if len(args) > 1 {
		if v, err := strconv.Atoi(args[1]); err == nil && v > 0 && v <= 65535 {
			port = v
		}
	}

	allowedPorts := make(map[uint16]struct{}, len(defaultAllowedPorts))
	for _, p := range defaultAllowedPorts {
		allowedPorts[p] = struct{}{}
	}

	return &Policy{
		ListenPort:         port,
		CoordinatorAddr:    envOr("COORDINATOR_ADDR", "coordinator.openttd.org:3976"),
		AllowedPorts:       allowedPorts,
		AllowedHosts:       map[string]struct{}{}, // empty: allow any host by default
		TTL:                60 * time.Second,
		ConnectTimeout:     10 * time.Second,
		MaxWsBufferedBytes: 64 * 1024,
		LogLevel:           envOr("LOG_LEVEL", "info"),
		MQTTBrokerURL:      os.Getenv("MQTT_BROKER_URL"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
