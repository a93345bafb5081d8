// Package mlog provides the structured logger used across the ingestion
// pipeline. It wraps the standard library logger so that log level, color,
// and a dotted component prefix compose the way the rest of the service
// expects, while remaining safe to use on a nil receiver (a logger obtained
// before configuration has loaded still works, it just logs without a
// component prefix, gated by the same process-wide level).
package mlog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// globalLevel is the process-wide minimum level. It is swapped atomically so
// that a hot configuration reload can change verbosity without requiring
// every existing *Logger to be replaced.
var globalLevel int32 = int32(LevelInfo)

func init() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime)
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// SetLevel updates the process-wide log level. Safe to call concurrently
// with logging from any Logger.
func SetLevel(level Level) {
	atomic.StoreInt32(&globalLevel, int32(level))
}

// CurrentLevel returns the process-wide log level.
func CurrentLevel() Level {
	return Level(atomic.LoadInt32(&globalLevel))
}

// Logger logs lines prefixed with a dotted component name, gated by the
// process-wide level. The zero value logs under no prefix.
type Logger struct {
	prefix string
}

// Root is the logger from which all other component loggers derive.
var Root = &Logger{}

// Sublogger returns a new logger scoped under the given component name.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return &Logger{prefix: name}
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix}
}

func (l *Logger) enabled(level Level) bool {
	return level <= CurrentLevel()
}

func (l *Logger) line(level Level, format string, v []interface{}) string {
	text := fmt.Sprintf(format, v...)
	prefix := ""
	if l != nil && l.prefix != "" {
		prefix = "[" + l.prefix + "] "
	}
	switch level {
	case LevelError:
		return prefix + color.RedString("ERROR ") + text
	case LevelWarn:
		return prefix + color.YellowString("WARN  ") + text
	case LevelDebug:
		return prefix + color.CyanString("DEBUG ") + text
	default:
		return prefix + "INFO  " + text
	}
}

func (l *Logger) output(level Level, format string, v ...interface{}) {
	if !l.enabled(level) {
		return
	}
	log.Output(3, l.line(level, format, v))
}

// Info logs at LevelInfo with Printf-style formatting.
func (l *Logger) Info(format string, v ...interface{}) { l.output(LevelInfo, format, v...) }

// Debug logs at LevelDebug with Printf-style formatting.
func (l *Logger) Debug(format string, v ...interface{}) { l.output(LevelDebug, format, v...) }

// Warn logs at LevelWarn with Printf-style formatting.
func (l *Logger) Warn(format string, v ...interface{}) { l.output(LevelWarn, format, v...) }

// Error logs at LevelError with Printf-style formatting.
func (l *Logger) Error(format string, v ...interface{}) { l.output(LevelError, format, v...) }

// WarnErr logs err at LevelWarn, prefixed by context.
func (l *Logger) WarnErr(err error, context string) {
	if err == nil {
		return
	}
	l.output(LevelWarn, "%s: %v", context, err)
}

// ErrorErr logs err at LevelError, prefixed by context.
func (l *Logger) ErrorErr(err error, context string) {
	if err == nil {
		return
	}
	l.output(LevelError, "%s: %v", context, err)
}
