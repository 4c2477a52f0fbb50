package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// Config configures the process-wide slog backend used by component loggers.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

var (
	backendMu sync.RWMutex
	backend   = newBackend(Config{})
)

// Configure replaces the backend shared by every component logger. Loggers
// created before the call pick up the new backend on their next write.
func Configure(cfg Config) {
	next := newBackend(cfg)
	backendMu.Lock()
	backend = next
	backendMu.Unlock()
}

func currentBackend() *slog.Logger {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backend
}

func newBackend(cfg Config) *slog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: component}
}

type componentLogger struct {
	component string
	logID     string
}

func (l *componentLogger) WithLogID(logID string) Logger {
	if logID == "" {
		return l
	}
	return &componentLogger{component: l.component, logID: logID}
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.emit(slog.LevelDebug, format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	l.emit(slog.LevelInfo, format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.emit(slog.LevelWarn, format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	l.emit(slog.LevelError, format, args...)
}

func (l *componentLogger) emit(level slog.Level, format string, args ...any) {
	base := currentBackend()
	ctx := context.Background()
	if !base.Enabled(ctx, level) {
		return
	}
	attrs := make([]any, 0, 4)
	if l.component != "" {
		attrs = append(attrs, "component", l.component)
	}
	if l.logID != "" {
		attrs = append(attrs, "log_id", l.logID)
	}
	base.Log(ctx, level, fmt.Sprintf(format, args...), attrs...)
}

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	if len(flattened) == 0 {
		return Nop()
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
