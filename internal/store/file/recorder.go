// Package file implements an append-only JSON-lines trade log on local disk.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// TradeRecorder implements domain.TradeRecorder as one JSON object per line.
type TradeRecorder struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewTradeRecorder creates a recorder appending to path.
func NewTradeRecorder(path string, logger *slog.Logger) *TradeRecorder {
	return &TradeRecorder{
		path:   path,
		logger: logger.With(slog.String("component", "trade_recorder")),
	}
}

// Append writes rec as a single line and fsyncs the file.
func (r *TradeRecorder) Append(_ context.Context, rec domain.TradeRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("file recorder: marshal: %w", err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("file recorder: mkdir: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file recorder: open: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("file recorder: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("file recorder: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("file recorder: close: %w", err)
	}
	return nil
}

// LoadAll reads every record in append order. Lines that fail to decode, such
// as a partial line left by a crash, are skipped with a warning.
func (r *TradeRecorder) LoadAll(ctx context.Context) ([]domain.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file recorder: read: %w", err)
	}

	var out []domain.TradeRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec domain.TradeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			r.logger.WarnContext(ctx, "skipping malformed trade record",
				slog.Int("line", lineNo), slog.String("error", err.Error()))
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("file recorder: scan: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.TradeRecorder = (*TradeRecorder)(nil)
