// Package logging provides structured logging for raftkv nodes.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents the logging level.
type Level int

const (
	// LevelDebug is the most verbose level.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
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
		return "unknown"
	}
}

// ParseLevel parses a string into a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format represents the log output format.
type Format int

const (
	// FormatText outputs logs in human-readable text format.
	FormatText Format = iota
	// FormatJSON outputs logs in JSON format.
	FormatJSON
)

// ParseFormat parses a string into a Format.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	default:
		return FormatText
	}
}

// Logger is the interface for structured logging.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, keysAndValues ...interface{})
	// Info logs an info message with optional key-value pairs.
	Info(msg string, keysAndValues ...interface{})
	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, keysAndValues ...interface{})
	// Error logs an error message with optional key-value pairs.
	Error(msg string, keysAndValues ...interface{})
	// WithRequestID returns a new logger with the given request ID.
	WithRequestID(requestID string) Logger
	// WithFields returns a new logger with the given fields.
	WithFields(keysAndValues ...interface{}) Logger
}

// LevelSetter is implemented by loggers whose level can change while
// running. Loggers derived from one share its level.
type LevelSetter interface {
	SetLevel(level Level)
}

// logger is the default implementation of Logger. Loggers derived with
// WithFields or WithRequestID share the parent's writer, lock and level.
type logger struct {
	level     *atomic.Int32
	format    Format
	output    io.Writer
	fields    map[string]interface{}
	mu        *sync.Mutex
	requestID string
}

// Config holds the logger configuration.
type Config struct {
	Level  string
	Format string
	Output string // "stdout", "stderr" or a file path
}

// New creates a new Logger with the given configuration. If the output file
// cannot be opened it falls back to stdout; use Open to get the error.
func New(cfg Config) Logger {
	l, _, err := Open(cfg)
	if err != nil {
		return NewWithWriter(cfg, os.Stdout)
	}
	return l
}

// Open creates a Logger and returns a function that closes its output file,
// if any.
func Open(cfg Config) (Logger, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Output {
	case "", "stdout":
		return NewWithWriter(cfg, os.Stdout), noop, nil
	case "stderr":
		return NewWithWriter(cfg, os.Stderr), noop, nil
	}

	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, noop, fmt.Errorf("logging: open %s: %w", cfg.Output, err)
	}
	return NewWithWriter(cfg, f), f.Close, nil
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(cfg Config, w io.Writer) Logger {
	level := new(atomic.Int32)
	level.Store(int32(ParseLevel(cfg.Level)))
	return &logger{
		level:  level,
		format: ParseFormat(cfg.Format),
		output: w,
		fields: make(map[string]interface{}),
		mu:     &sync.Mutex{},
	}
}

// NewDefault creates a new Logger with default settings.
func NewDefault() Logger {
	return NewWithWriter(Config{Level: "info", Format: "text"}, os.Stdout)
}

// NewNop creates a no-op logger that discards all output.
func NewNop() Logger {
	return &nopLogger{}
}

// Debug logs a debug message.
func (l *logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(LevelDebug, msg, keysAndValues...)
}

// Info logs an info message.
func (l *logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(LevelInfo, msg, keysAndValues...)
}

// Warn logs a warning message.
func (l *logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(LevelWarn, msg, keysAndValues...)
}

// Error logs an error message.
func (l *logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(LevelError, msg, keysAndValues...)
}

// SetLevel changes the minimum level for this logger and every logger
// derived from the same root.
func (l *logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// WithRequestID returns a new logger with the given request ID.
func (l *logger) WithRequestID(requestID string) Logger {
	newLogger := l.clone()
	newLogger.requestID = requestID
	return newLogger
}

// WithFields returns a new logger with the given fields.
func (l *logger) WithFields(keysAndValues ...interface{}) Logger {
	newLogger := l.clone()
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			newLogger.fields[key] = fieldValue(keysAndValues[i+1])
		}
	}
	return newLogger
}

// clone creates a copy of the logger.
func (l *logger) clone() *logger {
	newFields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	return &logger{
		level:     l.level,
		format:    l.format,
		output:    l.output,
		fields:    newFields,
		mu:        l.mu,
		requestID: l.requestID,
	}
}

// fieldValue renders errors and Stringers as text so both formats show them.
func fieldValue(v interface{}) interface{} {
	switch t := v.(type) {
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}

// reservedKeys are written first and cannot be overridden by fields.
var reservedKeys = map[string]bool{"ts": true, "level": true, "msg": true, "request_id": true}

// record is one log line before formatting.
type record struct {
	ts        time.Time
	level     Level
	msg       string
	requestID string
	fields    map[string]interface{}
}

// log writes one line: ts, level, msg and request_id first, then the
// remaining fields sorted by key.
func (l *logger) log(level Level, msg string, keysAndValues ...interface{}) {
	if level < Level(l.level.Load()) {
		return
	}

	fields := make(map[string]interface{}, len(l.fields)+len(keysAndValues)/2)
	for k, v := range l.fields {
		fields[k] = v
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = fieldValue(keysAndValues[i+1])
		}
	}

	r := &record{
		ts:        time.Now().UTC(),
		level:     level,
		msg:       msg,
		requestID: l.requestID,
		fields:    fields,
	}

	var line []byte
	if l.format == FormatJSON {
		line = r.appendJSON(nil)
	} else {
		line = r.appendText(nil)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write(line)
}

func (r *record) sortedKeys() []string {
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		if !reservedKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (r *record) appendJSON(b []byte) []byte {
	b = append(b, '{')
	b = appendJSONField(b, "ts", r.ts.Format(time.RFC3339Nano))
	b = append(b, ',')
	b = appendJSONField(b, "level", r.level.String())
	b = append(b, ',')
	b = appendJSONField(b, "msg", r.msg)
	if r.requestID != "" {
		b = append(b, ',')
		b = appendJSONField(b, "request_id", r.requestID)
	}
	for _, k := range r.sortedKeys() {
		b = append(b, ',')
		b = appendJSONField(b, k, r.fields[k])
	}
	return append(b, '}')
}

// appendJSONField appends "key":value. A value json cannot encode is
// written as its fmt representation.
func appendJSONField(b []byte, key string, v interface{}) []byte {
	k, _ := json.Marshal(key)
	b = append(b, k...)
	b = append(b, ':')
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprint(v))
	}
	return append(b, data...)
}

// appendText formats as "ts [level] msg key=value ...". Values containing
// spaces, quotes or '=' are quoted.
func (r *record) appendText(b []byte) []byte {
	b = append(b, r.ts.Format(time.RFC3339Nano)...)
	b = append(b, " ["...)
	b = append(b, r.level.String()...)
	b = append(b, "] "...)
	b = append(b, r.msg...)
	if r.requestID != "" {
		b = appendTextField(b, "request_id", r.requestID)
	}
	for _, k := range r.sortedKeys() {
		b = appendTextField(b, k, r.fields[k])
	}
	return b
}

func appendTextField(b []byte, key string, v interface{}) []byte {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \"=\t\n") {
		s = strconv.Quote(s)
	}
	b = append(b, ' ')
	b = append(b, key...)
	b = append(b, '=')
	return append(b, s...)
}

// nopLogger is a no-op logger that discards all output.
type nopLogger struct{}

func (n *nopLogger) Debug(_ string, _ ...interface{})   {}
func (n *nopLogger) Info(_ string, _ ...interface{})    {}
func (n *nopLogger) Warn(_ string, _ ...interface{})    {}
func (n *nopLogger) Error(_ string, _ ...interface{})   {}
func (n *nopLogger) WithRequestID(_ string) Logger      { return n }
func (n *nopLogger) WithFields(_ ...interface{}) Logger { return n }
