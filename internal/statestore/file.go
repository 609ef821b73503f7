package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// FileBackend keeps the state as one JSON document, replaced atomically on
// every write.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

// NewFileBackend creates a backend writing to path. The parent directory is
// created on first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Write replaces the state file via tmp file, fsync and rename.
func (b *FileBackend) Write(_ context.Context, state domain.PersistedState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("file state: marshal: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file state: mkdir: %w", err)
	}
	if err := writeFileAtomic(b.path, data, 0o600); err != nil {
		return fmt.Errorf("file state: write: %w", err)
	}
	return nil
}

// Read loads the state file. A missing file is ok=false.
func (b *FileBackend) Read(_ context.Context) (domain.PersistedState, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.PersistedState{}, false, nil
	}
	if err != nil {
		return domain.PersistedState{}, false, fmt.Errorf("file state: read: %w", err)
	}

	var state domain.PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.PersistedState{}, false, fmt.Errorf("file state: decode %s: %w", b.path, err)
	}
	return state, true, nil
}

// writeFileAtomic writes data to path atomically (tmp file + fsync + rename)
// and then fsyncs the parent directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Compile-time interface check.
var _ domain.StateBackend = (*FileBackend)(nil)
