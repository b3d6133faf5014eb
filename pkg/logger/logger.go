// Package logger provides structured logging for the Tourmaline storefront
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the logging level
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{
	DEBUG: 0,
	INFO:  1,
	WARN:  2,
	ERROR: 3,
}

// Format selects the output encoding
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Fields represents structured logging fields
type Fields map[string]interface{}

// Logger provides structured logging capabilities
type Logger struct {
	mu      sync.Mutex
	level   LogLevel
	format  Format
	service string
	out     io.Writer
}

// logEntry represents a single log entry
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Service   string                 `json:"service,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	File      string                 `json:"file,omitempty"`
	Line      int                    `json:"line,omitempty"`
}

// globalLogger is the default logger instance
var globalLogger = NewLogger("tourmaline-storefront", os.Stderr)

func init() {
	if lvl, ok := ParseLevel(os.Getenv("LOG_LEVEL")); ok {
		globalLogger.SetLevel(lvl)
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), string(FormatJSON)) {
		globalLogger.SetFormat(FormatJSON)
	}
}

// NewLogger creates a new structured logger writing to out
func NewLogger(service string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{
		level:   INFO,
		format:  FormatText,
		service: service,
		out:     out,
	}
}

// ParseLevel maps a case-insensitive level name to a LogLevel
func ParseLevel(s string) (LogLevel, bool) {
	lvl := LogLevel(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := levelRank[lvl]
	return lvl, ok
}

// SetLevel sets the minimum logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// SetFormat switches between text and JSON output
func (l *Logger) SetFormat(format Format) {
	l.mu.Lock()
	l.format = format
	l.mu.Unlock()
}

// SetOutput redirects log output
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return levelRank[level] >= levelRank[l.level]
}

// getCallerInfo gets file and line info of the caller
func getCallerInfo(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip + 2)
	if !ok {
		return "unknown", 0
	}
	if idx := strings.LastIndex(file, "/"); idx >= 0 {
		file = file[idx+1:]
	}
	return file, line
}

// log performs the actual logging
func (l *Logger) log(ctx context.Context, level LogLevel, message string, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.shouldLog(level) {
		return
	}

	file, line := getCallerInfo(1)

	entry := logEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     string(level),
		Service:   l.service,
		Message:   message,
		Fields:    map[string]interface{}(fields),
		File:      file,
		Line:      line,
	}
	if ctx != nil {
		entry.RequestID = RequestIDFromContext(ctx)
	}

	var output string
	if l.format == FormatJSON {
		b, err := json.Marshal(entry)
		if err != nil {
			output = formatLogEntry(entry)
		} else {
			output = string(b)
		}
	} else {
		output = formatLogEntry(entry)
	}
	fmt.Fprintln(l.out, output)
}

// formatLogEntry formats the log entry as a single text line
func formatLogEntry(entry logEntry) string {
	parts := []string{
		fmt.Sprintf("[%s]", entry.Timestamp),
		fmt.Sprintf("%-5s", entry.Level),
	}

	if entry.Service != "" {
		parts = append(parts, fmt.Sprintf("service=%s", entry.Service))
	}
	if entry.RequestID != "" {
		parts = append(parts, fmt.Sprintf("req_id=%s", entry.RequestID))
	}

	parts = append(parts, fmt.Sprintf("file=%s:%d", entry.File, entry.Line))
	parts = append(parts, entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fieldPairs := make([]string, 0, len(keys))
		for _, k := range keys {
			fieldPairs = append(fieldPairs, fmt.Sprintf("%s=%v", k, entry.Fields[k]))
		}
		parts = append(parts, fmt.Sprintf("fields=(%s)", strings.Join(fieldPairs, ", ")))
	}

	return strings.Join(parts, " ")
}

// Context key types for avoiding collisions
type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Logging methods for the default logger
func Debug(ctx context.Context, message string, fields ...Fields) {
	globalLogger.log(ctx, DEBUG, message, mergeFields(fields...))
}

func Info(ctx context.Context, message string, fields ...Fields) {
	globalLogger.log(ctx, INFO, message, mergeFields(fields...))
}

func Warn(ctx context.Context, message string, fields ...Fields) {
	globalLogger.log(ctx, WARN, message, mergeFields(fields...))
}

func Error(ctx context.Context, message string, fields ...Fields) {
	globalLogger.log(ctx, ERROR, message, mergeFields(fields...))
}

// Logging methods for Logger instance
func (l *Logger) Debug(ctx context.Context, message string, fields ...Fields) {
	l.log(ctx, DEBUG, message, mergeFields(fields...))
}

func (l *Logger) Info(ctx context.Context, message string, fields ...Fields) {
	l.log(ctx, INFO, message, mergeFields(fields...))
}

func (l *Logger) Warn(ctx context.Context, message string, fields ...Fields) {
	l.log(ctx, WARN, message, mergeFields(fields...))
}

func (l *Logger) Error(ctx context.Context, message string, fields ...Fields) {
	l.log(ctx, ERROR, message, mergeFields(fields...))
}

// mergeFields combines multiple field maps
func mergeFields(fieldMaps ...Fields) Fields {
	result := make(Fields)
	for _, fields := range fieldMaps {
		for k, v := range fields {
			result[k] = v
		}
	}
	return result
}

// LogError logs an error with optional fields
func LogError(ctx context.Context, err error, message string, fields ...Fields) {
	if err == nil {
		return
	}
	errorFields := Fields{"error": err.Error()}
	globalLogger.log(ctx, ERROR, message, mergeFields(append([]Fields{errorFields}, fields...)...))
}

// LogPanic logs a recovered panic with stack trace
func LogPanic(ctx context.Context, recovered interface{}, fields ...Fields) {
	buf := make([]byte, 8*1024)
	n := runtime.Stack(buf, false)
	panicFields := Fields{
		"panic": recovered,
		"stack": string(buf[:n]),
	}
	globalLogger.log(ctx, ERROR, "panic recovered", mergeFields(append([]Fields{panicFields}, fields...)...))
}

// SetGlobalLevel sets the global logger level
func SetGlobalLevel(level LogLevel) {
	globalLogger.SetLevel(level)
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	return globalLogger
}
