package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// LevelDebug is the debug log level
	LevelDebug LogLevel = iota
	// LevelInfo is the info log level
	LevelInfo
	// LevelWarn is the warning log level
	LevelWarn
	// LevelError is the error log level
	LevelError
)

// Logger is a leveled printf-style logger. Components receive one through
// their config so that tests can capture or silence output.
type Logger struct {
	level  LogLevel
	prefix string
	out    *log.Logger
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// New creates a logger writing to stderr with the standard log flags.
func New(level LogLevel, prefix string) *Logger {
	return NewWithWriter(os.Stderr, level, prefix)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level LogLevel, prefix string) *Logger {
	return &Logger{
		level:  level,
		prefix: prefix,
		out:    log.New(w, "", log.LstdFlags),
	}
}

// Discard returns a logger that drops every message.
func Discard() *Logger {
	return NewWithWriter(io.Discard, LevelError+1, "")
}

// Default returns the process-wide logger, configured from DEBUG / LOG_LEVEL.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger = &Logger{
			level: levelFromEnv(),
			out:   log.Default(),
		}
	})
	return defaultLogger
}

// OrDefault returns l, or the default logger when l is nil.
func OrDefault(l *Logger) *Logger {
	if l == nil {
		return Default()
	}
	return l
}

// levelFromEnv resolves the log level from environment variables
func levelFromEnv() LogLevel {
	// DEBUG wins over LOG_LEVEL
	if debug := os.Getenv("DEBUG"); debug != "" {
		switch strings.ToLower(debug) {
		case "1", "true", "yes", "on":
			return LevelDebug
		}
	}
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

// ParseLevel converts a level name to a LogLevel. Unknown names map to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// With returns a copy of the logger that prepends prefix to every message.
func (l *Logger) With(prefix string) *Logger {
	cp := *l
	if cp.prefix != "" {
		cp.prefix = cp.prefix + " " + prefix
	} else {
		cp.prefix = prefix
	}
	return &cp
}

// Level returns the logger's level
func (l *Logger) Level() LogLevel {
	return l.level
}

// IsDebugEnabled returns true if debug messages are emitted
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= LevelDebug
}

func (l *Logger) emit(lvl LogLevel, tag, format string, args ...interface{}) {
	if l.level > lvl {
		return
	}
	if l.prefix != "" {
		l.out.Printf(tag+" "+l.prefix+" "+format, args...)
		return
	}
	l.out.Printf(tag+" "+format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.emit(LevelDebug, "[DEBUG]", format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.emit(LevelInfo, "[INFO]", format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.emit(LevelWarn, "[WARN]", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(LevelError, "[ERROR]", format, args...)
}

// GetLevel returns the default logger's level
func GetLevel() LogLevel {
	return Default().level
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return Default().IsDebugEnabled()
}

// Debug logs a debug message (only if DEBUG=true or LOG_LEVEL=debug)
func Debug(format string, args ...interface{}) {
	Default().Debug(format, args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	Default().Info(format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	Default().Warn(format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	Default().Error(format, args...)
}

// Fatal logs an error message and exits
func Fatal(format string, args ...interface{}) {
	log.Fatalf("[FATAL] "+format, args...)
}

// Printf is a pass-through to log.Printf for messages that should always print
func Printf(format string, args ...interface{}) {
	log.Printf(format, args...)
}

// Println is a pass-through to log.Println for messages that should always print
func Println(args ...interface{}) {
	log.Println(args...)
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}
