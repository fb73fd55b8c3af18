// Package logging provides the levelled, component-tagged service logger.
//
// Lines go to a rotating file (lumberjack) and/or stdout. A Logger is an
// ordinary value passed to the components that need it; there is no
// process-wide instance.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/radio-control/controlplane/internal/config"
)

// Level is a log severity.
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
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name; unknown names yield LevelInfo.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Fields are key/value pairs attached to a line.
type Fields map[string]interface{}

// Logger writes levelled lines tagged with a component.
type Logger struct {
	level      Level
	structured bool
	outputs    []*log.Logger
	rotating   *lumberjack.Logger
	component  string
	fields     Fields
}

// New builds a Logger from configuration. A non-empty File enables rotation
// through lumberjack; console output is used when requested or when no file
// is configured.
func New(cfg config.LoggingConfig) (*Logger, error) {
	l := &Logger{
		level:      ParseLevel(cfg.Level),
		structured: cfg.Structured,
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.rotating = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		l.outputs = append(l.outputs, log.New(l.rotating, "", 0))
	}
	if cfg.Console || cfg.File == "" {
		l.outputs = append(l.outputs, log.New(os.Stdout, "", 0))
	}
	return l, nil
}

// NewWriter returns a logger writing to w; used by tests and tools.
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{level: level, outputs: []*log.Logger{log.New(w, "", 0)}}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{level: LevelError + 1}
}

// Close releases the rotating file, if any. Derived loggers share the file
// with their parent, so only the root logger should be closed.
func (l *Logger) Close() error {
	if l == nil || l.rotating == nil {
		return nil
	}
	return l.rotating.Close()
}

// Component returns a logger that tags every line with name.
func (l *Logger) Component(name string) *Logger {
	if l == nil {
		return nil
	}
	c := *l
	c.component = name
	return &c
}

// With returns a logger carrying extra fields on every line.
func (l *Logger) With(fields Fields) *Logger {
	if l == nil {
		return nil
	}
	c := *l
	c.fields = make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		c.fields[k] = v
	}
	for k, v := range fields {
		c.fields[k] = v
	}
	return &c
}

func (l *Logger) Debug(msg string, fields ...Fields) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Fields)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Fields)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Fields) { l.log(LevelError, msg, fields) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, fmt.Sprintf(format, args...), nil)
}

// Enabled reports whether lines at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l != nil && level >= l.level && len(l.outputs) > 0
}

func (l *Logger) log(level Level, msg string, extra []Fields) {
	if !l.Enabled(level) {
		return
	}

	merged := l.fields
	if len(extra) > 0 && len(extra[0]) > 0 {
		merged = make(Fields, len(l.fields)+len(extra[0]))
		for k, v := range l.fields {
			merged[k] = v
		}
		for k, v := range extra[0] {
			merged[k] = v
		}
	}

	line := l.format(level, msg, merged)
	for _, out := range l.outputs {
		out.Println(line)
	}
}

func (l *Logger) format(level Level, msg string, fields Fields) string {
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	component := l.component
	if component == "" {
		component = "rcc"
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	if l.structured {
		fmt.Fprintf(&b, `{"time":%q,"level":%q,"component":%q,"message":%q`, ts, level.String(), component, msg)
		for _, k := range keys {
			fmt.Fprintf(&b, `,%q:%q`, k, fmt.Sprint(fields[k]))
		}
		b.WriteByte('}')
		return b.String()
	}

	fmt.Fprintf(&b, "%s [%s] %s: %s", ts, level.String(), component, msg)
	if len(keys) > 0 {
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%v", k, fields[k])
		}
		b.WriteByte(']')
	}
	return b.String()
}
