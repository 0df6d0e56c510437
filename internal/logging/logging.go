// Package logging provides a small leveled wrapper around the standard
// log package. The relay's admin-mutable config carries a log-level key
// (DEBUG/VERBOSE/INFO/WARNING/ERROR/CRITICAL); this package lets that
// level gate output without pulling in a heavier structured-logging
// dependency for what is, in the end, a handful of Printf calls.
package logging

import (
	"log"
	"os"
	"sync/atomic"
)

// Level orders the admin-mutable log-level config values from most to
// least verbose.
type Level int32

const (
	LevelDebug Level = iota
	LevelVerbose
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

// ParseLevel maps a config string to a Level. Unknown strings default
// to LevelInfo.
func ParseLevel(s string) Level {
	switch s {
	case "DEBUG":
		return LevelDebug
	case "VERBOSE":
		return LevelVerbose
	case "INFO":
		return LevelInfo
	case "WARNING":
		return LevelWarning
	case "ERROR":
		return LevelError
	case "CRITICAL":
		return LevelCritical
	default:
		return LevelInfo
	}
}

// Logger gates standard-library log output by a mutable level. The
// level can be changed at runtime (the relay's admin API allows editing
// log-level without a restart) without re-creating the logger.
type Logger struct {
	level atomic.Int32
	std   *log.Logger
}

// New creates a Logger writing to stderr with the given initial level.
func New(level Level) *Logger {
	l := &Logger{std: log.New(os.Stderr, "", log.Ldate|log.Ltime)}
	l.SetLevel(level)
	return l
}

// SetLevel changes the active log level.
func (l *Logger) SetLevel(level Level) { l.level.Store(int32(level)) }

// Level returns the active log level.
func (l *Logger) Level() Level { return Level(l.level.Load()) }

func (l *Logger) log(level Level, prefix, format string, args ...any) {
	if level < l.Level() {
		return
	}
	l.std.Printf(prefix+format, args...)
}

func (l *Logger) Debug(format string, args ...any)    { l.log(LevelDebug, "[DEBUG] ", format, args...) }
func (l *Logger) Verbose(format string, args ...any)  { l.log(LevelVerbose, "[VERBOSE] ", format, args...) }
func (l *Logger) Info(format string, args ...any)     { l.log(LevelInfo, "[INFO] ", format, args...) }
func (l *Logger) Warning(format string, args ...any)  { l.log(LevelWarning, "[WARNING] ", format, args...) }
func (l *Logger) Error(format string, args ...any)    { l.log(LevelError, "[ERROR] ", format, args...) }
func (l *Logger) Critical(format string, args ...any) { l.log(LevelCritical, "[CRITICAL] ", format, args...) }
