// Package logger is the process-wide structured logging facade. It
// wraps a single log/slog logger behind package functions so every
// component logs through the same handler with the same field keys.
//
// The minimum level lives in one slog.LevelVar shared by every handler
// the package ever builds, so SetLevel takes effect immediately without
// rebuilding the logger.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-isatty"
)

// Config selects the log level, output format and destination.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var (
	// minLevel gates every handler built by this package.
	minLevel slog.LevelVar

	active atomic.Pointer[slog.Logger]
)

// Init configures the process logger. Call it once at startup, before
// anything logs; until then records go to stdout at INFO in text form.
func Init(cfg Config) error {
	w, color, err := openOutput(cfg.Output)
	if err != nil {
		return err
	}
	SetLevel(cfg.Level)
	active.Store(slog.New(buildHandler(cfg.Format, w, color)))
	return nil
}

// InitWithWriter points the logger at an arbitrary writer with color
// disabled. Meant for tests that capture output.
func InitWithWriter(w io.Writer, level, format string) {
	SetLevel(level)
	active.Store(slog.New(buildHandler(format, w, false)))
}

// SetLevel changes the minimum level of the running logger. Unknown
// level names are ignored.
func SetLevel(level string) {
	if lv, ok := parseLevel(level); ok {
		minLevel.Set(lv)
	}
}

func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "", "INFO":
		return slog.LevelInfo, true
	case "WARN":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return 0, false
}

func buildHandler(format string, w io.Writer, color bool) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: &minLevel})
	}
	return newTextHandler(w, &minLevel, color)
}

func openOutput(name string) (io.Writer, bool, error) {
	switch strings.ToLower(name) {
	case "", "stdout":
		return os.Stdout, isatty.IsTerminal(os.Stdout.Fd()), nil
	case "stderr":
		return os.Stderr, isatty.IsTerminal(os.Stderr.Fd()), nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("open log output %q: %w", name, err)
	}
	return f, false, nil
}

// current returns the active logger, building the stdout default on
// first use before Init has run.
func current() *slog.Logger {
	if l := active.Load(); l != nil {
		return l
	}
	l := slog.New(newTextHandler(os.Stdout, &minLevel, isatty.IsTerminal(os.Stdout.Fd())))
	if active.CompareAndSwap(nil, l) {
		return l
	}
	return active.Load()
}

// Debug logs key/value pairs at debug level:
//
//	logger.Debug("commitBlock", logger.KeyBlockID, id)
func Debug(msg string, args ...any) { emit(slog.LevelDebug, msg, args) }

// Info logs key/value pairs at info level.
func Info(msg string, args ...any) { emit(slog.LevelInfo, msg, args) }

// Warn logs key/value pairs at warn level.
func Warn(msg string, args ...any) { emit(slog.LevelWarn, msg, args) }

// Error logs key/value pairs at error level.
func Error(msg string, args ...any) { emit(slog.LevelError, msg, args) }

// Debugf logs with printf formatting at debug level.
func Debugf(format string, v ...any) { emitf(slog.LevelDebug, format, v) }

// Infof logs with printf formatting at info level.
func Infof(format string, v ...any) { emitf(slog.LevelInfo, format, v) }

// Warnf logs with printf formatting at warn level.
func Warnf(format string, v ...any) { emitf(slog.LevelWarn, format, v) }

// Errorf logs with printf formatting at error level.
func Errorf(format string, v ...any) { emitf(slog.LevelError, format, v) }

func emit(level slog.Level, msg string, args []any) {
	l := current()
	ctx := context.Background()
	if l.Enabled(ctx, level) {
		l.Log(ctx, level, msg, args...)
	}
}

func emitf(level slog.Level, format string, v []any) {
	l := current()
	ctx := context.Background()
	if l.Enabled(ctx, level) {
		l.Log(ctx, level, fmt.Sprintf(format, v...))
	}
}
