// ottdbridge bridges browser WebSocket clients into an OpenTTD-like
// multiplayer ecosystem that otherwise speaks a proprietary binary
// protocol over raw TCP. It relays bytes transparently between a
// WebSocket and a backend TCP socket, and fronts the ecosystem's
// coordinator directory service over a small HTTP API.
//
// Shutdown is coordinated through a root context cancelled on
// SIGINT/SIGTERM, a WaitGroup tracking background tasks, and a bounded
// grace period before forcing exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ottdbridge/bridge/internal/config"
	"github.com/ottdbridge/bridge/internal/gateway"
	"github.com/ottdbridge/bridge/internal/healthmon"
	"github.com/ottdbridge/bridge/internal/logging"
	"github.com/ottdbridge/bridge/internal/relay"
	"github.com/ottdbridge/bridge/internal/telemetry"
)

const AppVersion = "1.0.0"

func main() {
	policy := config.Load(os.Args)
	logging.Init(policy.LogLevel)

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Int("listen_port", policy.ListenPort).
		Msg("starting ottdbridge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var onRelayDone relay.EventFunc
	var telemetrySink *telemetry.Sink
	if policy.MQTTBrokerURL != "" {
		sink, err := telemetry.NewSink(policy.MQTTBrokerURL)
		if err != nil {
			log.Warn().Err(err).Msg("mqtt telemetry sink unavailable, continuing without it")
		} else {
			telemetrySink = sink
			onRelayDone = sink.OnRelayDone
		}
	}

	gw := gateway.New(policy, onRelayDone)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gw.Run(ctx); err != nil {
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthmon.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	if telemetrySink != nil {
		telemetrySink.Close()
	}
}
