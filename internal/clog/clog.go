// Package clog provides the structured logger used across every component of
// the container lifecycle engine. It is a thin wrapper over zerolog that adds
// per-component scoping, mirroring how larger services in this codebase's
// lineage set up their loggers.
package clog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the handful of levels the CLI exposes; it avoids leaking
// zerolog's full level type into every call site.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls global logger construction.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Logger is a component-scoped zerolog.Logger.
type Logger = zerolog.Logger

// sink is the writer every logger handed out by For writes through. Init
// swaps its target, so loggers that components build at package init time
// follow a later Init's output and format.
type sink struct{ w io.Writer }

func (s *sink) Write(p []byte) (int, error) { return s.w.Write(p) }

var out = &sink{w: os.Stderr}

var root = zerolog.New(out).With().Timestamp().Logger()

// Init configures the global level and the output shared by every logger.
// Call once from cmd/container's cobra.OnInitialize hook before any
// component logs.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		out.w = output
	} else {
		out.w = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}
}

// For returns a logger scoped to the named component (e.g. "launcher",
// "netattach").
func For(component string) Logger {
	return root.With().Str("component", component).Logger()
}

func init() {
	Init(Config{Level: InfoLevel})
}
