package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"unknown", LevelInfo}, // default
		{"", LevelInfo},        // default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{Level(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.level.String()
			if result != tt.expected {
				t.Errorf("Level.String() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected Format
	}{
		{"json", FormatJSON},
		{"text", FormatText},
		{"unknown", FormatText}, // default
		{"", FormatText},        // default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseFormat(tt.input)
			if result != tt.expected {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelDebug, FormatJSON, &buf)

	l.Info("test message", "key1", "value1", "key2", 42)

	output := buf.String()
	if output == "" {
		t.Fatal("Expected output, got empty string")
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(output), &entry); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}

	if entry["level"] != "info" {
		t.Errorf("Expected level=info, got %v", entry["level"])
	}
	if entry["msg"] != "test message" {
		t.Errorf("Expected msg='test message', got %v", entry["msg"])
	}
	if entry["key1"] != "value1" {
		t.Errorf("Expected key1=value1, got %v", entry["key1"])
	}
	if entry["key2"] != float64(42) { // JSON numbers are float64
		t.Errorf("Expected key2=42, got %v", entry["key2"])
	}
}

func TestLoggerText(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelDebug, FormatText, &buf)

	l.Info("test message", "key1", "value1")

	output := buf.String()
	if !strings.Contains(output, "[info]") {
		t.Errorf("Expected [info] in output, got: %s", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected 'test message' in output, got: %s", output)
	}
	if !strings.Contains(output, "key1=value1") {
		t.Errorf("Expected 'key1=value1' in output, got: %s", output)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelWarn, FormatText, &buf)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should be filtered")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message should be present")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should be present")
	}
}

func TestLoggerWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelDebug, FormatJSON, &buf)

	reqLogger := l.WithRequestID("req-123")
	reqLogger.Info("test message")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}

	if entry["request_id"] != "req-123" {
		t.Errorf("Expected request_id=req-123, got %v", entry["request_id"])
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelDebug, FormatJSON, &buf)

	fieldLogger := l.WithFields("peer", "127.0.0.1:7002", "leader", true)
	fieldLogger.Info("test message")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}

	if entry["peer"] != "127.0.0.1:7002" {
		t.Errorf("Expected peer=127.0.0.1:7002, got %v", entry["peer"])
	}
	if entry["leader"] != true {
		t.Errorf("Expected leader=true, got %v", entry["leader"])
	}
}

func TestLoggerCloneIsolation(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelDebug, FormatJSON, &buf)

	// Create a child logger with fields
	child := l.WithFields("child_field", "value")

	// Original logger should not have the child's fields
	buf.Reset()
	l.Info("parent message")

	var parentEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &parentEntry); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}

	if _, ok := parentEntry["child_field"]; ok {
		t.Error("Parent logger should not have child's fields")
	}

	// Child logger should have its fields
	buf.Reset()
	child.Info("child message")

	var childEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &childEntry); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}

	if childEntry["child_field"] != "value" {
		t.Errorf("Child logger should have its fields, got %v", childEntry["child_field"])
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Config{
		Level:  "debug",
		Format: "json",
		Output: "stdout",
	}

	l := New(cfg)
	if l == nil {
		t.Fatal("New returned nil")
	}
}

func TestNewDefault(t *testing.T) {
	l := NewDefault()
	if l == nil {
		t.Fatal("NewDefault returned nil")
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNop()
	if l == nil {
		t.Fatal("NewNop returned nil")
	}

	// These should not panic
	l.Debug("test")
	l.Info("test")
	l.Warn("test")
	l.Error("test")

	// WithRequestID should return the same nop logger
	l2 := l.WithRequestID("req-123")
	if l2 == nil {
		t.Error("WithRequestID returned nil")
	}

	// WithFields should return the same nop logger
	l3 := l.WithFields("key", "value")
	if l3 == nil {
		t.Error("WithFields returned nil")
	}
}

func TestLoggerAllLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelDebug, FormatJSON, &buf)

	tests := []struct {
		logFunc func(string, ...interface{})
		level   string
	}{
		{l.Debug, "debug"},
		{l.Info, "info"},
		{l.Warn, "warn"},
		{l.Error, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf.Reset()
			tt.logFunc("test message")

			var entry map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("Failed to parse JSON output: %v", err)
			}

			if entry["level"] != tt.level {
				t.Errorf("Expected level=%s, got %v", tt.level, entry["level"])
			}
		})
	}
}

func newTestLogger(level Level, format Format, buf *bytes.Buffer) *logger {
	return NewWithWriter(Config{Level: level.String(), Format: formatName(format)}, buf).(*logger)
}

func formatName(f Format) string {
	if f == FormatJSON {
		return "json"
	}
	return "text"
}

func TestLoggerErrorValues(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelDebug, FormatJSON, &buf)

	l.Error("persist failed", "error", errors.New("disk full"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}
	if entry["error"] != "disk full" {
		t.Errorf("Expected error='disk full', got %v", entry["error"])
	}
}

func TestLoggerTextFieldOrder(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelDebug, FormatText, &buf)

	l.WithFields("node", 1).Info("became leader", "term", 3, "commit", 7)

	output := buf.String()
	commit := strings.Index(output, "commit=7")
	node := strings.Index(output, "node=1")
	term := strings.Index(output, "term=3")
	if commit < 0 || node < 0 || term < 0 {
		t.Fatalf("missing fields in output: %s", output)
	}
	if !(commit < node && node < term) {
		t.Errorf("expected fields in key order, got: %s", output)
	}
}

func TestLoggerSharedWriter(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelDebug, FormatText, &buf)
	a := l.WithFields("node", 1)
	b := l.WithFields("node", 2)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); a.Info("tick") }()
		go func() { defer wg.Done(); b.Info("tick") }()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 100 {
		t.Errorf("expected 100 lines, got %d", len(lines))
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raftkv.log")
	l, closeFn, err := Open(Config{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	l.Info("started", "node", 1)
	if err := closeFn(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"started"`) {
		t.Errorf("expected entry in file, got %s", data)
	}

	if _, _, err := Open(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")}); err == nil {
		t.Error("expected error for unwritable path")
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelInfo, FormatJSON, &buf)
	child := l.WithFields("component", "raft")

	child.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug suppressed at info, got %q", buf.String())
	}

	setter, ok := child.(LevelSetter)
	if !ok {
		t.Fatal("expected derived logger to implement LevelSetter")
	}
	setter.SetLevel(LevelDebug)

	l.Debug("parent visible")
	child.Debug("child visible")
	if got := strings.Count(buf.String(), "visible"); got != 2 {
		t.Errorf("expected both loggers to follow the new level, got %q", buf.String())
	}

	buf.Reset()
	l.SetLevel(LevelError)
	child.Warn("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected warn suppressed at error, got %q", buf.String())
	}
}

func TestJSONKeyOrder(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelInfo, FormatJSON, &buf).WithRequestID("r1")
	l.Info("ordered", "zeta", 1, "alpha", 2, "msg", "ignored")

	line := buf.String()
	idx := func(s string) int { return strings.Index(line, s) }
	order := []string{`"ts"`, `"level"`, `"msg":"ordered"`, `"request_id"`, `"alpha"`, `"zeta"`}
	for i := 1; i < len(order); i++ {
		if idx(order[i-1]) < 0 || idx(order[i-1]) > idx(order[i]) {
			t.Fatalf("expected %s before %s in %q", order[i-1], order[i], line)
		}
	}
	if strings.Contains(line, "ignored") {
		t.Errorf("reserved key overridden: %q", line)
	}
}

func TestJSONUnencodableValue(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelInfo, FormatJSON, &buf)
	l.Info("chan", "c", make(chan int))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("line is not valid JSON: %v: %q", err, buf.String())
	}
	if _, ok := entry["c"].(string); !ok {
		t.Errorf("expected unencodable value rendered as string, got %v", entry["c"])
	}
}

func TestTextQuoting(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(LevelInfo, FormatText, &buf)
	l.Info("quote", "plain", "abc", "spaced", "a b", "empty", "")

	out := buf.String()
	for _, want := range []string{"plain=abc", `spaced="a b"`, `empty=""`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %q", want, out)
		}
	}
}
