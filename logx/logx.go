// Package logx provides the standard leveled logger implementation for the
// calcmcp project.
package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/localrivet/calcmcp/types"
)

// Level controls which records a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel converts a level name to a Level. It accepts the names used by
// the CALCMCP_LOG_LEVEL environment variable (DEBUG, INFO, WARNING, ERROR),
// case-insensitively, plus the common WARN alias. Unknown names fall back to
// INFO with an error so callers can decide whether to complain.
func ParseLevel(name string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Logger is a leveled printf-style logger writing to a single destination.
// It implements types.Logger.
type Logger struct {
	mu    sync.Mutex
	level Level
	out   *log.Logger
}

// New creates a Logger writing to w at the given level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{
		level: level,
		out:   log.New(w, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// NewDefault creates a Logger writing to stderr at INFO level. Logs go to
// stderr so the stdio transport keeps stdout clean for protocol frames.
func NewDefault() *Logger {
	return New(os.Stderr, LevelInfo)
}

func (l *Logger) logf(level Level, format string, v ...interface{}) {
	l.mu.Lock()
	emit := level >= l.level
	l.mu.Unlock()
	if !emit {
		return
	}
	l.out.Printf(level.String()+" | "+format, v...)
}

func (l *Logger) Debug(format string, v ...interface{}) { l.logf(LevelDebug, format, v...) }
func (l *Logger) Info(format string, v ...interface{})  { l.logf(LevelInfo, format, v...) }
func (l *Logger) Warn(format string, v ...interface{})  { l.logf(LevelWarn, format, v...) }
func (l *Logger) Error(format string, v ...interface{}) { l.logf(LevelError, format, v...) }

// SetLevel updates the logger's threshold.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

var _ types.Logger = (*Logger)(nil)
