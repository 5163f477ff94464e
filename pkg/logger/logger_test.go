package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriterLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelInfo)

	l.Debug("hidden", nil)
	l.Info("shown", map[string]any{"count": 2})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %q", out)
	}
	if !strings.Contains(out, "INFO  shown obj={\"count\":2}") {
		t.Fatalf("unexpected info line: %q", out)
	}
}

func TestWithAddsSortedFields(t *testing.T) {
	var buf bytes.Buffer
	l := With(NewWriterLogger(&buf, LevelDebug), map[string]any{"run_id": "abc", "cycle": 1})
	l.Warn("tick", nil)

	if !strings.Contains(buf.String(), "WARN  tick cycle=1 run_id=abc") {
		t.Fatalf("expected sorted fields, got %q", buf.String())
	}
}

func TestWithOnNopLoggerIsUnchanged(t *testing.T) {
	if _, ok := With(NopLogger{}, map[string]any{"a": 1}).(NopLogger); !ok {
		t.Fatal("expected NopLogger to pass through")
	}
}

func TestHelpersAreNilSafe(t *testing.T) {
	Debug(nil, "x", nil)
	Info(nil, "x", nil)
	Warn(nil, "x", nil)
	Error(nil, "x", nil)
}
