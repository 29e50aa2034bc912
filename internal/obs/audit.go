// Copyright 2025 James Ross
package obs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditConfig controls where and how audit entries are persisted.
type AuditConfig struct {
	Enabled    bool
	LogPath    string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// AuditEntry is one record of a policy or control-plane decision, written
// as a single JSON line per entry, grounded on the teacher's rbac audit
// record shape but narrowed to the fields this system's decisions need.
type AuditEntry struct {
	At       time.Time              `json:"at"`
	Actor    string                 `json:"actor"`
	Action   string                 `json:"action"`
	PolicyID string                 `json:"policy_id,omitempty"`
	PlanID   string                 `json:"plan_id,omitempty"`
	Outcome  string                 `json:"outcome"`
	Detail   map[string]interface{} `json:"detail,omitempty"`
}

// AuditLogger writes AuditEntry records to a rotating file via lumberjack.
type AuditLogger struct {
	file    *lumberjack.Logger
	mu      sync.Mutex
	enabled bool
}

func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	if !cfg.Enabled {
		return &AuditLogger{enabled: false}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0755); err != nil {
		return nil, fmt.Errorf("obs: create audit log dir: %w", err)
	}
	return &AuditLogger{
		enabled: true,
		file: &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		},
	}, nil
}

func (a *AuditLogger) Log(entry AuditEntry) error {
	if !a.enabled {
		return nil
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("obs: marshal audit entry: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = a.file.Write(append(line, '\n'))
	return err
}

func (a *AuditLogger) Close() error {
	if !a.enabled {
		return nil
	}
	return a.file.Close()
}
