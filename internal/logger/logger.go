// Package logger wraps slog with the broker's structured-logging
// conventions: one Config shape, one LogXxx helper per recurring event
// (client connections, auth attempts, errors), each built over
// slog.LogAttrs.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents logging levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger wraps slog.Logger with MQTT-specific helpers.
type Logger struct {
	*slog.Logger
	level LogLevel
}

// Config holds logger configuration.
type Config struct {
	Level     LogLevel
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
	Service   string
}

// New creates a new logger with the given configuration.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:     convertLevel(config.Level),
		AddSource: config.AddSource,
	}

	if config.Output == nil {
		config.Output = os.Stdout
	}

	var handler slog.Handler
	switch strings.ToLower(config.Format) {
	case "json":
		handler = slog.NewJSONHandler(config.Output, opts)
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	return &Logger{Logger: slog.New(handler), level: config.Level}
}

// ProductionConfig returns the broker's default (JSON, info-level)
// configuration — §6's log_dest default is stdout.
func ProductionConfig() Config {
	return Config{
		Level:   LevelInfo,
		Format:  "json",
		Output:  os.Stdout,
		Service: "mqttd",
	}
}

// LogClientConnection logs client connection events.
func (l *Logger) LogClientConnection(clientID, remoteAddr string, action string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("client_id", clientID),
		slog.String("remote_addr", remoteAddr),
		slog.String("action", action),
	}
	baseAttrs = append(baseAttrs, attrs...)
	l.LogAttrs(context.Background(), slog.LevelInfo, "client connection event", baseAttrs...)
}

// LogError logs an error with context.
func (l *Logger) LogError(err error, message string, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.LogAttrs(context.Background(), slog.LevelError, message, attrs...)
}

// LogAuth logs an authentication attempt.
func (l *Logger) LogAuth(clientID, username string, success bool, reason string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("client_id", clientID),
		slog.String("username", username),
		slog.Bool("success", success),
		slog.String("reason", reason),
	}
	baseAttrs = append(baseAttrs, attrs...)

	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	l.LogAttrs(context.Background(), level, "authentication attempt", baseAttrs...)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, attrs ...slog.Attr) {
	l.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, attrs ...slog.Attr) {
	l.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, attrs ...slog.Attr) {
	l.LogAttrs(context.Background(), slog.LevelWarn, msg, attrs...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, attrs ...slog.Attr) {
	l.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

// Fatal logs an error message and exits, for call sites (config/auth
// file load, listener bind) that treat startup failure as fatal.
func (l *Logger) Fatal(msg string, attrs ...slog.Attr) {
	l.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
	os.Exit(1)
}

func convertLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Convenience attribute constructors, mirroring slog's but kept local
// so callers never need to import log/slog directly.

func ClientID(clientID string) slog.Attr { return slog.String("client_id", clientID) }
func String(key, value string) slog.Attr { return slog.String(key, value) }
func Int(key string, value int) slog.Attr { return slog.Int(key, value) }
func Bool(key string, value bool) slog.Attr { return slog.Bool(key, value) }
func ErrorAttr(err error) slog.Attr { return slog.String("error", err.Error()) }
