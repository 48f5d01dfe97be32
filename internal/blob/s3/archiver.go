package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// multipartThreshold switches archive uploads to the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// ExecutionSource is the slice of the execution store the archiver needs.
type ExecutionSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves execution records older than a cutoff into monthly JSONL
// objects, then deletes them from the primary store.
type Archiver struct {
	writer domain.BlobWriter
	execs  ExecutionSource
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, execs ExecutionSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		execs:  execs,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveExecutions uploads every record older than before, one object per
// calendar month of the records, and deletes them only after every upload
// succeeded. It returns the number of records archived.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.execs.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.ExecutionRecord)
	for _, r := range recs {
		m := r.Timestamp.UTC().Format("2006-01")
		byMonth[m] = append(byMonth[m], r)
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	var paths []string
	for _, m := range months {
		buf, err := marshalJSONL(byMonth[m])
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive marshal %s: %w", m, err)
		}
		path := archivePath(m, before)
		if len(buf) >= multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
		}
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive upload: %w", err)
		}
		paths = append(paths, path)
	}

	deleted, err := a.execs.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(recs)), fmt.Errorf("s3blob: archive prune: %w", err)
	}

	count := int64(len(recs))
	a.logger.InfoContext(ctx, "executions archived",
		slog.Int64("count", count),
		slog.Int64("deleted", deleted),
		slog.Int("objects", len(paths)),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.executions", map[string]any{
			"paths":   paths,
			"count":   count,
			"deleted": deleted,
			"before":  before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive audit: %w", err)
		}
	}
	return count, nil
}

// archivePath keys an object by record month and cutoff, so repeated runs
// never overwrite an earlier archive:
//
//	archive/executions/2026-09/20261001T000000Z.jsonl
func archivePath(month string, before time.Time) string {
	return fmt.Sprintf("archive/executions/%s/%s.jsonl", month, before.UTC().Format("20060102T150405Z"))
}

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

var _ domain.Archiver = (*Archiver)(nil)
