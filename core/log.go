package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelNotice  LogLevel = "notice"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// LogData represents structured data attached to a log message
type LogData map[string]any

// Logger emits level-filtered structured log lines. Workers report per-file
// skips and failures through it, so it must be safe for concurrent use.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	min   LogLevel
	name  string
	clock func() time.Time
}

// NewLogger creates a logger writing JSON lines to out.
func NewLogger(out io.Writer, min LogLevel, name string) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{
		out:   out,
		min:   min,
		name:  name,
		clock: time.Now,
	}
}

// NopLogger discards everything. Useful default for library embedding.
func NopLogger() *Logger {
	return NewLogger(io.Discard, LogLevelError, "scour")
}

// SetLevel changes the minimum emitted level.
func (l *Logger) SetLevel(min LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.min = min
}

func (l *Logger) log(level LogLevel, message string, data LogData) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !shouldEmitLog(l.min, level) {
		return
	}

	if data == nil {
		data = make(LogData)
	}
	data["message"] = message
	data["timestamp"] = l.clock().Format(time.RFC3339)

	entry := map[string]any{
		"level":  level,
		"logger": l.name,
		"data":   data,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.out, `{"level":"error","logger":%q,"data":{"message":"log marshal failed"}}`+"\n", l.name)
		return
	}
	l.out.Write(append(line, '\n'))
}

// Debug logs at debug level.
func (l *Logger) Debug(message string, data ...LogData) { l.log(LogLevelDebug, message, first(data)) }

// Info logs at info level.
func (l *Logger) Info(message string, data ...LogData) { l.log(LogLevelInfo, message, first(data)) }

// Warning logs at warning level.
func (l *Logger) Warning(message string, data ...LogData) {
	l.log(LogLevelWarning, message, first(data))
}

// Error logs at error level.
func (l *Logger) Error(message string, data ...LogData) { l.log(LogLevelError, message, first(data)) }

func first(data []LogData) LogData {
	if len(data) > 0 {
		return data[0]
	}
	return nil
}

func shouldEmitLog(min LogLevel, level LogLevel) bool {
	order := map[LogLevel]int{
		LogLevelDebug:   0,
		LogLevelInfo:    1,
		LogLevelNotice:  2,
		LogLevelWarning: 3,
		LogLevelError:   4,
	}
	// Default to info if unknown
	minRank, ok := order[min]
	if !ok {
		minRank = order[LogLevelInfo]
	}
	levelRank, ok := order[level]
	if !ok {
		levelRank = order[LogLevelInfo]
	}
	return levelRank >= minRank
}
