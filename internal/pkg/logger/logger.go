package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel converts a config string to a Level. Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// sink is shared by a root logger and every child derived from it.
type sink struct {
	mu           sync.Mutex
	out          io.Writer
	level        Level
	redactSecret bool
}

// Logger provides structured JSON logging with secret redaction.
// Child loggers created with With share the parent's output and level.
type Logger struct {
	sink   *sink
	fields []interface{}
}

var defaultLogger = &Logger{sink: &sink{out: os.Stderr, level: INFO, redactSecret: true}}

// Init sets the process-wide level. Call once from main.
func Init(level string) { defaultLogger.sink.level = ParseLevel(level) }

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.sink.level = l }

// SetRedactSecrets enables or disables secret redaction for the default logger.
func SetRedactSecrets(r bool) { defaultLogger.sink.redactSecret = r }

// Default returns the process-wide logger.
func Default() *Logger { return defaultLogger }

// New returns a child of the default logger tagged with a component name.
func New(component string) *Logger { return defaultLogger.With("component", component) }

// NewWriter returns an independent logger writing to w. Used by tests.
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{sink: &sink{out: w, level: level, redactSecret: true}}
}

// OrDefault returns l, or the default logger tagged with component when l is nil.
func OrDefault(l *Logger, component string) *Logger {
	if l != nil {
		return l
	}
	return New(component)
}

// With returns a child logger that adds the given key-value pairs to every entry.
func (l *Logger) With(fields ...interface{}) *Logger {
	merged := make([]interface{}, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{sink: l.sink, fields: merged}
}

// Debug emits a DEBUG-level structured log entry.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields...) }

// Debug emits a DEBUG-level entry on the default logger.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level entry on the default logger.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level entry on the default logger.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level entry on the default logger.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	if level < l.sink.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}

	all := append(append([]interface{}{}, l.fields...), fields...)
	// Parse key-value pairs from fields
	for i := 0; i < len(all)-1; i += 2 {
		key := fmt.Sprintf("%v", all[i])
		val := fmt.Sprintf("%v", all[i+1])
		if l.sink.redactSecret {
			val = redactValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	l.sink.mu.Lock()
	fmt.Fprintln(l.sink.out, string(data))
	l.sink.mu.Unlock()
}

func redactValue(key, val string) string {
	key = strings.ToLower(key)
	for _, s := range []string{"api_key", "apikey", "token", "password", "secret"} {
		if strings.Contains(key, s) {
			return RedactSecret(val)
		}
	}
	return RedactURLKeys(val)
}
