package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spacedatabank/marketd/internal/domain"
)

// SettledItemStore is the narrow read surface the archiver needs: all items
// that left the active state before the cutoff. The item stores satisfy it.
type SettledItemStore interface {
	ListSettled(ctx context.Context, before time.Time) ([]domain.MarketItem, error)
}

// BlobWriter is satisfied by Writer; declared here so tests can substitute
// an in-memory sink.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver snapshots settled items and the durable event stream to object
// storage as JSONL. It never deletes from the primary store; pruning is a
// separate, explicit step after an archive has been verified.
type Archiver struct {
	writer BlobWriter
	items  SettledItemStore
	bus    domain.EventBus
}

// NewArchiver creates an Archiver. bus may be nil when event archival is not
// wanted.
func NewArchiver(writer BlobWriter, items SettledItemStore, bus domain.EventBus) *Archiver {
	return &Archiver{
		writer: writer,
		items:  items,
		bus:    bus,
	}
}

// ArchiveItems uploads all items settled before the cutoff to
// archive/items/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveItems(ctx context.Context, before time.Time) (int64, error) {
	items, err := a.items.ListSettled(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive items query: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(items)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive items marshal: %w", err)
	}

	path := archivePath("items", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive items upload: %w", err)
	}

	return int64(len(items)), nil
}

// ArchiveEvents drains the durable event stream and uploads it to
// archive/events/YYYY-MM.jsonl. It returns the number of archived events.
func (a *Archiver) ArchiveEvents(ctx context.Context, at time.Time) (int64, error) {
	if a.bus == nil {
		return 0, nil
	}

	var (
		payloads [][]byte
		cursor   = "0"
	)
	for {
		msgs, err := a.bus.StreamRead(ctx, domain.StreamItems, cursor, 500)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events read: %w", err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, msg := range msgs {
			payloads = append(payloads, msg.Payload)
		}
		cursor = msgs[len(msgs)-1].ID
	}
	if len(payloads) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	for _, p := range payloads {
		buf.Write(bytes.TrimRight(p, "\n"))
		buf.WriteByte('\n')
	}

	path := archivePath("events", at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf.Bytes()), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	return int64(len(payloads)), nil
}

// archivePath builds the object key, partitioned by the cutoff's year-month:
//
//	archive/items/2026-08.jsonl
//	archive/events/2026-08.jsonl
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, at.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
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
