// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Level controls logging verbosity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config controls logger construction.
type Config struct {
	Level     Level
	Component string
	Output    io.Writer // defaults to stderr
}

// DefaultConfig returns the standard logger configuration.
func DefaultConfig() Config {
	return Config{Level: LevelInfo}
}

// Logger is a leveled, structured logger. Methods accept alternating
// key/value pairs after the message.
type Logger struct {
	l *charmlog.Logger
}

// New creates a logger from the given configuration.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		Level:           parseLevel(cfg.Level),
	})
	if cfg.Component != "" {
		l = l.With("component", cfg.Component)
	}
	return &Logger{l: l}
}

var (
	defaultOnce sync.Once
	defaultLog  *Logger
)

// Default returns the shared process-wide logger.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLog = New(DefaultConfig())
	})
	return defaultLog
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{l: l.l.With("component", name)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.l.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.l.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.l.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.l.Error(msg, kv...) }

func parseLevel(lv Level) charmlog.Level {
	switch Level(strings.ToLower(string(lv))) {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}
