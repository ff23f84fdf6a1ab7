// Package logging configures structured logging for the tatekae binaries.
//
// The server logs colored lines through tint when attached to a terminal and
// plain tint output otherwise; the admin CLI logs to stderr so its stdout stays
// machine readable.
//
// Environment variables:
//
//	LOG_LEVEL: debug, info, warn, error (default: info)
//	NO_COLOR: disable ANSI colors when set to any value
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Options configures New.
type Options struct {
	Level   slog.Level
	NoColor bool
	// AddSource adds file:line to each record.
	AddSource bool
}

// New returns a tint-backed logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      opts.Level,
		TimeFormat: time.DateTime,
		AddSource:  opts.AddSource,
		NoColor:    opts.NoColor,
	}))
}

// Setup installs a stderr logger as the slog default, with the level taken
// from LOG_LEVEL, and returns it.
func Setup() *slog.Logger {
	return SetupWithLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
}

// SetupWithLevel installs a stderr logger at the given level as the default.
func SetupWithLevel(level slog.Level) *slog.Logger {
	logger := New(os.Stderr, Options{
		Level:     level,
		NoColor:   !colorEnabled(os.Stderr),
		AddSource: level <= slog.LevelDebug,
	})
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func colorEnabled(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
