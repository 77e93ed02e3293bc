// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Category tags a log record with the subsystem that produced it, per
// the bridge's observability contract: HTTP, PROXY, WS, SERVER.
type Category string

const (
	CategoryHTTP   Category = "HTTP"
	CategoryProxy  Category = "PROXY"
	CategoryWS     Category = "WS"
	CategoryServer Category = "SERVER"
)

// Init sets up the global zerolog logger from a LOG_LEVEL string
// (error|info|debug, default info). Output is console-only: the bridge
// does not persist anything to disk, logs included. A TTY gets
// zerolog's human-readable console writer; anything else (a file
// redirect, a container log collector) gets zerolog's default
// line-delimited JSON, which downstream tooling can parse directly.
func Init(levelStr string) {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"

	var base zerolog.Logger
	if isatty.IsTerminal(os.Stdout.Fd()) {
		w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
		base = zerolog.New(w)
	} else {
		base = zerolog.New(os.Stdout)
	}

	log.Logger = base.With().Timestamp().Str("app", "ottdbridge").Logger()

	log.Info().Str("level", level.String()).Msg("logger initialized")
}

// For creates a component logger tagged with the given observability category.
func For(category Category) zerolog.Logger {
	return log.With().Str("category", string(category)).Logger()
}
