package logging

import (
	"container/ring"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jordanhubbard/axis/pkg/config"
)

const (
	// MaxBufferSize is the maximum number of log entries to keep in memory
	MaxBufferSize = 10000
)

// LogEntry represents a single captured log entry
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Source    string                 `json:"source"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Filter narrows GetRecent results. Zero values match everything.
type Filter struct {
	Level  string
	Source string
	TaskID string
	RoleID string
	Since  time.Time
	Until  time.Time
}

// Manager keeps the most recent log entries in memory for the logs endpoint.
type Manager struct {
	mu     sync.RWMutex
	buffer *ring.Ring
}

// NewManager creates an empty log buffer
func NewManager() *Manager {
	return &Manager{buffer: ring.New(MaxBufferSize)}
}

// New builds the service logger. Everything written through it is also
// captured by the returned Manager.
func New(cfg config.LoggingConfig) (*zap.Logger, *Manager, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	m := NewManager()
	level := zcfg.Level
	logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, m.Core(level))
	}))
	return logger, m, nil
}

// Core returns a zapcore.Core that records entries at or above enab into the buffer.
func (m *Manager) Core(enab zapcore.LevelEnabler) zapcore.Core {
	return &bufferCore{LevelEnabler: enab, manager: m}
}

func (m *Manager) add(entry LogEntry) {
	m.mu.Lock()
	m.buffer.Value = entry
	m.buffer = m.buffer.Next()
	m.mu.Unlock()
}

// GetRecent returns up to limit buffered entries matching f, newest first.
func (m *Manager) GetRecent(limit int, f Filter) []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > MaxBufferSize {
		limit = 100
	}

	var all []LogEntry
	m.buffer.Do(func(v interface{}) {
		entry, ok := v.(LogEntry)
		if !ok || !f.matches(entry) {
			return
		}
		all = append(all, entry)
	})

	// ring order is oldest to newest starting at the write cursor
	logs := make([]LogEntry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(logs) < limit; i-- {
		logs = append(logs, all[i])
	}
	return logs
}

func (f Filter) matches(entry LogEntry) bool {
	if f.Level != "" && entry.Level != f.Level {
		return false
	}
	if f.Source != "" && entry.Source != f.Source {
		return false
	}
	if !f.Since.IsZero() && entry.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && entry.Timestamp.After(f.Until) {
		return false
	}
	if f.TaskID != "" && getMetaString(entry.Metadata, "task_id") != f.TaskID {
		return false
	}
	if f.RoleID != "" && getMetaString(entry.Metadata, "role_id") != f.RoleID {
		return false
	}
	return true
}

func getMetaString(meta map[string]interface{}, key string) string {
	if meta == nil {
		return ""
	}
	if val, ok := meta[key].(string); ok {
		return val
	}
	return ""
}

type bufferCore struct {
	zapcore.LevelEnabler
	manager *Manager
	fields  []zapcore.Field
}

func (c *bufferCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &bufferCore{LevelEnabler: c.LevelEnabler, manager: c.manager}
	clone.fields = append(append(clone.fields, c.fields...), fields...)
	return clone
}

func (c *bufferCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *bufferCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	source := ent.LoggerName
	if source == "" {
		source = "system"
	}

	entry := LogEntry{
		Timestamp: ent.Time.UTC(),
		Level:     ent.Level.String(),
		Source:    source,
		Message:   ent.Message,
	}
	if len(enc.Fields) > 0 {
		entry.Metadata = enc.Fields
	}
	c.manager.add(entry)
	return nil
}

func (c *bufferCore) Sync() error {
	return nil
}
