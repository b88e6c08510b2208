package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Format selects the logger's output encoding.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Entry is one emitted log record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// Config configures a new Logger.
type Config struct {
	Level         Level
	Output        io.Writer
	Format        Format
	IncludeCaller bool
	Rotation      *RotationConfig
}

// DefaultConfig returns the logger default: INFO level, text format to
// stdout, caller info included.
func DefaultConfig() *Config {
	return &Config{
		Level:         INFO,
		Output:        os.Stdout,
		Format:        FormatText,
		IncludeCaller: true,
	}
}

// Logger is a structured, leveled, field-carrying logger. The zero value is
// not usable; construct with New.
type Logger struct {
	mu            sync.RWMutex
	level         Level
	output        io.Writer
	format        Format
	fields        map[string]interface{}
	includeCaller bool
	rotator       *Rotator
}

// New builds a Logger from config. A nil config uses DefaultConfig.
func New(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	l := &Logger{
		level:         config.Level,
		output:        config.Output,
		format:        config.Format,
		fields:        make(map[string]interface{}),
		includeCaller: config.IncludeCaller,
	}

	if config.Rotation != nil {
		rotator, err := NewRotator(config.Rotation)
		if err != nil {
			return nil, fmt.Errorf("failed to create log rotator: %w", err)
		}
		l.rotator = rotator
		l.output = rotator
	}

	return l, nil
}

// With returns a derived logger carrying an additional field on every
// subsequent entry.
func (l *Logger) With(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a derived logger carrying additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	l.mu.RLock()
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	l.mu.RUnlock()
	for k, v := range fields {
		merged[k] = v
	}

	return &Logger{
		level:         l.level,
		output:        l.output,
		format:        l.format,
		fields:        merged,
		includeCaller: l.includeCaller,
		rotator:       l.rotator,
	}
}

// WithComponent is shorthand for With("component", name).
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// SetLevel changes the minimum level this logger emits.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) enabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func (l *Logger) log(level Level, message string, extra map[string]interface{}) {
	if !l.enabled(level) {
		return
	}

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    make(map[string]interface{}),
	}

	l.mu.RLock()
	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	l.mu.RUnlock()
	for k, v := range extra {
		entry.Fields[k] = v
	}

	if l.includeCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			entry.Caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
		}
	}

	var out string
	if l.format == FormatJSON {
		if jsonBytes, err := json.Marshal(entry); err == nil {
			out = string(jsonBytes) + "\n"
		} else {
			out = formatText(entry)
		}
	} else {
		out = formatText(entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write([]byte(out))
}

func formatText(entry Entry) string {
	var sb strings.Builder
	sb.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(entry.Level)
	sb.WriteString("] ")
	if entry.Caller != "" {
		sb.WriteString("[")
		sb.WriteString(entry.Caller)
		sb.WriteString("] ")
	}
	sb.WriteString(entry.Message)
	if len(entry.Fields) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range entry.Fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&sb, "%s=%v", k, v)
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	return sb.String()
}

// Trace logs at TRACE level.
func (l *Logger) Trace(message string, fields ...map[string]interface{}) { l.logFields(TRACE, message, fields) }

// Debug logs at DEBUG level.
func (l *Logger) Debug(message string, fields ...map[string]interface{}) { l.logFields(DEBUG, message, fields) }

// Info logs at INFO level.
func (l *Logger) Info(message string, fields ...map[string]interface{}) { l.logFields(INFO, message, fields) }

// Warn logs at WARN level.
func (l *Logger) Warn(message string, fields ...map[string]interface{}) { l.logFields(WARN, message, fields) }

// Error logs at ERROR level.
func (l *Logger) Error(message string, fields ...map[string]interface{}) { l.logFields(ERROR, message, fields) }

func (l *Logger) logFields(level Level, message string, fieldMaps []map[string]interface{}) {
	var fields map[string]interface{}
	if len(fieldMaps) > 0 {
		fields = fieldMaps[0]
	}
	l.log(level, message, fields)
}

// Close releases any rotator resources.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Sync flushes any buffered output.
func (l *Logger) Sync() error {
	if l.rotator != nil {
		return l.rotator.Sync()
	}
	return nil
}
