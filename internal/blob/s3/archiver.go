package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/solquant/dlmmbot/internal/domain"
)

// BlobWriter is the narrow upload surface the archiver needs. Satisfied by
// *Client.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver uploads execution logs and P&L reports as JSON objects, keyed by
// pool and date so a month of history stays browsable with a prefix listing.
type Archiver struct {
	writer BlobWriter
}

// NewArchiver creates an Archiver writing through the given blob writer.
func NewArchiver(writer BlobWriter) *Archiver {
	return &Archiver{writer: writer}
}

// ArchiveLog uploads one operation's execution log to
// logs/{pool}/{YYYY-MM-DD}/{operation}-{logID}.json and returns the object
// key.
func (a *Archiver) ArchiveLog(ctx context.Context, pool, operation string, log *domain.ExecutionLog) (string, error) {
	payload := struct {
		ID        string         `json:"id"`
		Pool      string         `json:"pool"`
		Operation string         `json:"operation"`
		Events    []domain.Event `json:"events"`
	}{
		ID:        log.ID,
		Pool:      pool,
		Operation: operation,
		Events:    log.Events,
	}

	buf, err := marshalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive log marshal: %w", err)
	}

	path := fmt.Sprintf("logs/%s/%s/%s-%s.json", pool, time.Now().UTC().Format("2006-01-02"), operation, log.ID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive log upload: %w", err)
	}
	return path, nil
}

// ArchiveReport uploads a P&L report snapshot to
// reports/{pool}/{RFC3339 timestamp}.json and returns the object key.
func (a *Archiver) ArchiveReport(ctx context.Context, pool string, report domain.PnLReport) (string, error) {
	buf, err := marshalJSON(report)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive report marshal: %w", err)
	}

	path := fmt.Sprintf("reports/%s/%s.json", pool, time.Now().UTC().Format(time.RFC3339))
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive report upload: %w", err)
	}
	return path, nil
}

func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
