package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jordanhubbard/axis/pkg/config"
)

func TestManager_CapturesStructuredFields(t *testing.T) {
	m := NewManager()
	logger := zap.New(m.Core(zapcore.DebugLevel)).Named("tasks")

	logger.Info("attempt recorded", zap.String("task_id", "t-1"), zap.Int("attempt", 2))
	logger.With(zap.String("role_id", "r-1")).Warn("loop blocked")

	logs := m.GetRecent(10, Filter{})
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(logs))
	}
	if logs[0].Message != "loop blocked" {
		t.Errorf("expected newest first, got %q", logs[0].Message)
	}
	if logs[1].Source != "tasks" {
		t.Errorf("expected source tasks, got %q", logs[1].Source)
	}
	if getMetaString(logs[1].Metadata, "task_id") != "t-1" {
		t.Errorf("expected task_id metadata, got %v", logs[1].Metadata)
	}
	if getMetaString(logs[0].Metadata, "role_id") != "r-1" {
		t.Errorf("expected role_id from With, got %v", logs[0].Metadata)
	}
}

func TestManager_Filter(t *testing.T) {
	m := NewManager()
	logger := zap.New(m.Core(zapcore.DebugLevel))

	logger.Info("a", zap.String("task_id", "t-1"))
	logger.Error("b", zap.String("task_id", "t-2"))
	logger.Named("workflow").Info("c", zap.String("role_id", "r-9"))

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"by level", Filter{Level: "error"}, 1},
		{"by task", Filter{TaskID: "t-1"}, 1},
		{"by role", Filter{RoleID: "r-9"}, 1},
		{"by source", Filter{Source: "workflow"}, 1},
		{"no match", Filter{TaskID: "missing"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(m.GetRecent(10, tt.filter)); got != tt.want {
				t.Errorf("expected %d entries, got %d", tt.want, got)
			}
		})
	}
}

func TestManager_LevelEnabler(t *testing.T) {
	m := NewManager()
	logger := zap.New(m.Core(zapcore.WarnLevel))

	logger.Debug("skipped")
	logger.Info("skipped")
	logger.Warn("kept")

	if got := len(m.GetRecent(10, Filter{})); got != 1 {
		t.Errorf("expected 1 entry, got %d", got)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, _, err := New(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNew_TeesIntoManager(t *testing.T) {
	logger, m, err := New(config.LoggingConfig{Level: "info", Development: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("hello")
	logger.Debug("hidden")

	logs := m.GetRecent(10, Filter{})
	if len(logs) != 1 || logs[0].Message != "hello" {
		t.Errorf("expected one captured entry, got %+v", logs)
	}
}
