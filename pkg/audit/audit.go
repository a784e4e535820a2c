package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"modelswitchd/pkg/defaults"
	"modelswitchd/pkg/models"
)

// FileLog is an append-only JSONL audit trail. Entries are never rewritten.
type FileLog struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func NewFileLog(path string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), defaults.DataDirPerm); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, defaults.DataFilePerm)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}

	return &FileLog{path: path, file: file}, nil
}

// Append writes one entry as a single JSON line.
func (l *FileLog) Append(_ context.Context, entry models.AuditEntry) error {
	contents, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(contents, '\n')); err != nil {
		return fmt.Errorf("appending to audit log %s: %w", l.path, err)
	}

	return nil
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}
