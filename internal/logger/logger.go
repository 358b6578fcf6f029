// Package logger provides structured logging for recordindex
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is a zerolog logger scoped to a recordindex component
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // console output for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a JSON logger. An unknown level falls back to info.
func NewLogger(cfg Config) *Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp().Str("service", "recordindex")
	if cfg.WithCaller {
		ctx = ctx.Caller()
	}
	return &Logger{zlog: ctx.Logger()}
}

// ParseLevel maps debug, info, warn, and error to zerolog levels. Empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch level {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// OrNop returns l, or a discarding logger when l is nil
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

func (l *Logger) Debug(msg string) *zerolog.Event { return l.zlog.Debug().Str("msg", msg) }
func (l *Logger) Info(msg string) *zerolog.Event  { return l.zlog.Info().Str("msg", msg) }
func (l *Logger) Warn(msg string) *zerolog.Event  { return l.zlog.Warn().Str("msg", msg) }
func (l *Logger) Error(msg string) *zerolog.Event { return l.zlog.Error().Str("msg", msg) }

// Component returns a child logger tagged with a component and extra string pairs
func (l *Logger) Component(name string, pairs ...string) *Logger {
	ctx := l.zlog.With().Str("component", name)
	for i := 0; i+1 < len(pairs); i += 2 {
		ctx = ctx.Str(pairs[i], pairs[i+1])
	}
	return &Logger{zlog: ctx.Logger()}
}

// StoreLogger returns a logger for the key-value store at path
func (l *Logger) StoreLogger(path string) *Logger {
	return l.Component("store", "path", path)
}

// ScanLogger returns a logger for scans of the given kind (table, index)
func (l *Logger) ScanLogger(kind string) *Logger {
	return l.Component("scan", "scan", kind)
}

// SchemaLogger returns a logger for schema and virtual field operations
func (l *Logger) SchemaLogger() *Logger {
	return l.Component("schema")
}

// finished picks the event for a completed operation: lvl on success, error otherwise
func (l *Logger) finished(lvl zerolog.Level, component string, duration time.Duration, err error) *zerolog.Event {
	if err != nil {
		lvl = zerolog.ErrorLevel
	}
	return l.zlog.WithLevel(lvl).
		Str("component", component).
		Dur("duration_ms", duration).
		Err(err)
}

// LogGrpcRequest logs a completed gRPC request
func (l *Logger) LogGrpcRequest(method string, duration time.Duration, err error) {
	l.finished(zerolog.InfoLevel, "grpc", duration, err).
		Str("method", method).
		Msg("gRPC request completed")
}

// LogScan logs a finished scan with its row count
func (l *Logger) LogScan(kind string, duration time.Duration, rows int, err error) {
	l.finished(zerolog.DebugLevel, "scan", duration, err).
		Str("scan", kind).
		Int("row_count", rows).
		Msg("Scan completed")
}

// LogServerStart logs server startup
func (l *Logger) LogServerStart(port int, dbPath string) {
	l.zlog.Info().
		Str("event", "server_start").
		Int("port", port).
		Str("database", dbPath).
		Msg("recordindex server starting")
}

// LogServerReady logs when the server accepts connections
func (l *Logger) LogServerReady(port int) {
	l.zlog.Info().
		Str("event", "server_ready").
		Int("port", port).
		Msg("recordindex server ready to accept connections")
}

// LogServerShutdown logs server shutdown
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "server_shutdown").
		Msg("recordindex server shutting down")
}

var globalLogger *Logger

// InitGlobalLogger sets the process logger and points zerolog's global logger at it
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = globalLogger.zlog
}

// GetGlobalLogger returns the process logger, creating a console logger on first use
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{Level: "info", Pretty: true})
	}
	return globalLogger
}
