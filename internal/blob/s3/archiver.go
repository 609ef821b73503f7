package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// multipartThreshold switches large archives to the multipart uploader.
const multipartThreshold = 64 * 1024 * 1024

// Archiver implements domain.Archiver by writing one JSONL object per
// calendar day under archive/trades/. Records are not removed from the
// primary store.
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
	prefix string
}

// NewArchiver creates an Archiver. audit may be nil; prefix is prepended to
// every object key.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, prefix string) *Archiver {
	return &Archiver{writer: writer, audit: audit, prefix: prefix}
}

// ArchiveTrades uploads records for day and returns the object key. An empty
// slice uploads nothing and returns "".
func (a *Archiver) ArchiveTrades(ctx context.Context, day time.Time, records []domain.TradeRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := a.prefix + archivePath("trades", day)
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.trades", map[string]any{
			"path":  path,
			"count": len(records),
			"day":   day.Format(time.DateOnly),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive trades audit log: %w", err)
		}
	}
	return path, nil
}

// archivePath builds the object key for one day, e.g.
//
//	archive/trades/2025-01-31.jsonl
func archivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day.Format(time.DateOnly))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
