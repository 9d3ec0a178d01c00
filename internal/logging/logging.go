// Package logging centralizes zerolog setup for the service. Every
// component logs through a sub-logger scoped with a "component" field
// rather than the global logger directly, mirroring manifold's
// observability conventions minus the OpenTelemetry trace correlation
// (tracing/dashboards are out of scope for this service).
package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	global zerolog.Logger
)

// Logger is an alias kept for readability at call sites.
type Logger = zerolog.Logger

// Init configures the process-wide logger. level is parsed with
// zerolog.ParseLevel; an empty or invalid value defaults to info. Safe to
// call multiple times; only the first call takes effect.
func Init(level string) {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
		if err != nil {
			lvl = zerolog.InfoLevel
		}
		global = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
	})
}

// L returns the process-wide logger, initializing it at info level if Init
// was never called (keeps package-level helpers like ratelimit usable in
// tests without requiring explicit setup).
func L() *zerolog.Logger {
	once.Do(func() {
		global = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	})
	return &global
}

// For returns a logger scoped to a single component, e.g. For("poller").
func For(component string) *zerolog.Logger {
	l := L().With().Str("component", component).Logger()
	return &l
}
