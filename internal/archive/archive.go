// Package archive is the optional entry archive (SPEC_FULL §2.3): a
// second entry notifier fanned off the sync service, storing every entry's
// header in Postgres for durable querying outside the node's own process.
// Disabled when no DSN is configured.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0xkanth/ledger-tpu/pkg/entry"
)

// Writer persists entry headers via pgx. It is not an io.Writer: the sync
// service reaches it through NotifyEntry (internal/sync's EntryNotifier),
// alongside the in-process subscriber list, and it stores each header's
// sequence number, id and event count.
type Writer struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at dsn and ensures the entries table exists.
func Open(ctx context.Context, dsn string) (*Writer, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	createCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = pool.Exec(createCtx, `
		CREATE TABLE IF NOT EXISTS entries (
			seq         BIGINT PRIMARY KEY,
			entry_id    BYTEA NOT NULL,
			event_count INT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: create table: %w", err)
	}

	return &Writer{pool: pool}, nil
}

// StoreHeader persists one entry's header. It inserts with ON CONFLICT DO
// NOTHING, so a header redelivered for an already-stored seq is ignored.
func (w *Writer) StoreHeader(ctx context.Context, header entry.Header) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO entries (seq, entry_id, event_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (seq) DO NOTHING
	`, header.Seq, header.ID[:], header.EventCount)
	if err != nil {
		return fmt.Errorf("archive: store header: %w", err)
	}
	return nil
}

// NotifyEntry implements internal/sync's EntryNotifier, letting the sync
// service fan entries into Postgres the same way it fans them out to
// in-process subscribers.
func (w *Writer) NotifyEntry(header entry.Header) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = w.StoreHeader(ctx, header) // best-effort: archive failures never block the pipeline
}

// Close releases the connection pool.
func (w *Writer) Close() {
	w.pool.Close()
}
