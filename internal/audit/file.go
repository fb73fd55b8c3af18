package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/radio-control/controlplane/internal/config"
	"github.com/radio-control/controlplane/internal/logging"
)

// FileLogger appends entries as JSON lines to a size-rotated file.
type FileLogger struct {
	mu  sync.Mutex
	out *lumberjack.Logger
	log *logging.Logger
}

// NewFileLogger opens the audit file described by cfg.
func NewFileLogger(cfg config.AuditConfig, log *logging.Logger) (*FileLogger, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("audit file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &FileLogger{
		out: &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
		log: log.Component("audit"),
	}, nil
}

// LogAction implements Logger.
func (l *FileLogger) LogAction(_ context.Context, e Entry) {
	line, err := json.Marshal(e.encodable())
	if err != nil {
		l.log.Error("failed to marshal audit entry", logging.Fields{"action": e.Action, "error": err})
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.out.Write(append(line, '\n')); err != nil {
		l.log.Error("failed to write audit entry", logging.Fields{"action": e.Action, "error": err})
	}
}

// Rotate closes the current file and starts a new one.
func (l *FileLogger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Rotate()
}

// Close closes the file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
