package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior (see observability/zaplog for zap)
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// LogLevel orders DefaultLogger severities.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

func (lv LogLevel) String() string {
	switch lv {
	case LogDebug:
		return "DEBUG"
	case LogInfo:
		return "INFO"
	case LogWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// DefaultLogger writes plain text lines through a standard library logger. Entries
// below its minimum level are dropped.
type DefaultLogger struct {
	out *log.Logger
	min LogLevel
}

// NewDefaultLogger logs Info and above to stderr.
func NewDefaultLogger() *DefaultLogger {
	return NewDefaultLoggerTo(os.Stderr, LogInfo)
}

// NewDefaultLoggerTo logs entries at threshold and above to w.
func NewDefaultLoggerTo(w io.Writer, threshold LogLevel) *DefaultLogger {
	return &DefaultLogger{out: log.New(w, "mainthread ", log.LstdFlags|log.Lmicroseconds), min: threshold}
}

// Enabled reports whether entries at lv are written.
func (l *DefaultLogger) Enabled(lv LogLevel) bool { return lv >= l.min }

func (l *DefaultLogger) Debug(msg string, fields ...Field) { l.log(LogDebug, msg, fields) }
func (l *DefaultLogger) Info(msg string, fields ...Field)  { l.log(LogInfo, msg, fields) }
func (l *DefaultLogger) Warn(msg string, fields ...Field)  { l.log(LogWarn, msg, fields) }
func (l *DefaultLogger) Error(msg string, fields ...Field) { l.log(LogError, msg, fields) }

func (l *DefaultLogger) log(lv LogLevel, msg string, fields []Field) {
	if !l.Enabled(lv) {
		return
	}
	l.out.Println(formatLine(lv.String(), msg, fields))
}

// formatLine renders "[LEVEL] msg {k: v, ...}".
func formatLine(level, msg string, fields []Field) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, msg)
	if len(fields) > 0 {
		b.WriteString(" {")
		for i, f := range fields {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %v", f.Key, f.Value)
		}
		b.WriteString("}")
	}
	return b.String()
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}
