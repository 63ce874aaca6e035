// Package logger provides a structured, key-value logger backed by
// zerolog, exposing the slog-style API the rest of the codebase calls
// (Info/Error/Debug/Warn, *Context variants carrying a context.Context).
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|text
}

// Logger wraps a zerolog.Logger with a key/value calling convention.
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger from Config. Unknown levels default to info.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

var (
	defaultMu  sync.RWMutex
	defaultLog = New(Config{Level: "info", Format: "json"})
)

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLog = l
}

// Default returns the package-level default logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLog
}

// With returns a child logger with the given key/value pairs attached to
// every subsequent entry.
func (l *Logger) With(kv ...any) *Logger {
	ctx := l.zl.With()
	ctx = applyFields(ctx, kv)
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) Debug(msg string, kv ...any) { l.log(l.zl.Debug(), msg, kv) }
func (l *Logger) Info(msg string, kv ...any)  { l.log(l.zl.Info(), msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { l.log(l.zl.Warn(), msg, kv) }
func (l *Logger) Error(msg string, kv ...any) { l.log(l.zl.Error(), msg, kv) }

// DebugContext, InfoContext, WarnContext, and ErrorContext behave like their
// context-free counterparts; context cancellation is not used for logging
// itself, only accepted so call sites don't need to discard ctx.
func (l *Logger) DebugContext(_ context.Context, msg string, kv ...any) { l.Debug(msg, kv...) }
func (l *Logger) InfoContext(_ context.Context, msg string, kv ...any)  { l.Info(msg, kv...) }
func (l *Logger) WarnContext(_ context.Context, msg string, kv ...any)  { l.Warn(msg, kv...) }
func (l *Logger) ErrorContext(_ context.Context, msg string, kv ...any) { l.Error(msg, kv...) }

func (l *Logger) log(ev *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

func applyFields(ctx zerolog.Context, kv []any) zerolog.Context {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return ctx
}
