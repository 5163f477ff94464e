package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger is the logging interface used across the module.
type Logger interface {
	Info(msg string, obj any)
	Warn(msg string, obj any)
	Debug(msg string, obj any)
	Error(msg string, obj any)
}

// Level is the minimum severity a writer logger emits.
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
		return "WARN"
	default:
		return "ERROR"
	}
}

// NopLogger discards all log messages.
type NopLogger struct{}

func (NopLogger) Info(string, any)  {}
func (NopLogger) Warn(string, any)  {}
func (NopLogger) Debug(string, any) {}
func (NopLogger) Error(string, any) {}

type writerLogger struct {
	mu     *sync.Mutex
	w      io.Writer
	level  Level
	fields map[string]any
	now    func() time.Time
}

// NewWriterLogger builds a logger that writes lines at or above level to w.
func NewWriterLogger(w io.Writer, level Level) Logger {
	return &writerLogger{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
		now:   time.Now,
	}
}

// With returns a logger that prefixes every line with fields. Loggers that
// do not support fields are returned unchanged.
func With(l Logger, fields map[string]any) Logger {
	wl, ok := l.(*writerLogger)
	if !ok || len(fields) == 0 {
		return l
	}
	merged := make(map[string]any, len(wl.fields)+len(fields))
	for k, v := range wl.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	out := *wl
	out.fields = merged
	return &out
}

func (l *writerLogger) Info(msg string, obj any)  { l.write(LevelInfo, msg, obj) }
func (l *writerLogger) Warn(msg string, obj any)  { l.write(LevelWarn, msg, obj) }
func (l *writerLogger) Debug(msg string, obj any) { l.write(LevelDebug, msg, obj) }
func (l *writerLogger) Error(msg string, obj any) { l.write(LevelError, msg, obj) }

func (l *writerLogger) write(level Level, msg string, obj any) {
	if l.w == nil || level < l.level {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", l.now().Format(time.RFC3339), level, msg)

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, l.fields[k])
	}

	if obj != nil {
		if raw, err := json.Marshal(obj); err == nil {
			fmt.Fprintf(&b, " obj=%s", raw)
		} else {
			fmt.Fprintf(&b, " obj=%q", fmt.Sprintf("%+v", obj))
		}
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, b.String())
}

// Debug writes a debug log when logger is non-nil.
func Debug(logger Logger, msg string, obj any) {
	if logger == nil {
		return
	}
	logger.Debug(msg, obj)
}

// Info writes an info log when logger is non-nil.
func Info(logger Logger, msg string, obj any) {
	if logger == nil {
		return
	}
	logger.Info(msg, obj)
}

// Warn writes a warning log when logger is non-nil.
func Warn(logger Logger, msg string, obj any) {
	if logger == nil {
		return
	}
	logger.Warn(msg, obj)
}

// Error writes an error log when logger is non-nil.
func Error(logger Logger, msg string, obj any) {
	if logger == nil {
		return
	}
	logger.Error(msg, obj)
}
