package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Logger defines a minimal, printf-style logging contract shared by every
// component in the service.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

const levelEnvVar = "MIRA_LOG_LEVEL"

var (
	defaultOnce  sync.Once
	defaultLevel Level
	defaultOut   *log.Logger
)

func defaults() (*log.Logger, Level) {
	defaultOnce.Do(func() {
		defaultOut = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
		defaultLevel = parseLevel(os.Getenv(levelEnvVar))
	})
	return defaultOut, defaultLevel
}

func parseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

type componentLogger struct {
	component string
	out       *log.Logger
	level     Level
}

// NewComponentLogger returns the default application logger scoped to a
// component. Output goes to stderr; the minimum level is controlled by the
// MIRA_LOG_LEVEL environment variable and defaults to info.
func NewComponentLogger(component string) Logger {
	out, level := defaults()
	return &componentLogger{component: component, out: out, level: level}
}

func (l *componentLogger) logf(level Level, tag, format string, args ...any) {
	if level < l.level {
		return
	}
	l.out.Printf("[%s] [%s] %s", tag, l.component, fmt.Sprintf(format, args...))
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.logf(LevelDebug, "DEBUG", format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	l.logf(LevelInfo, "INFO", format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.logf(LevelWarn, "WARN", format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	l.logf(LevelError, "ERROR", format, args...)
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

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}
