package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"

	"github.com/olakai/olakai-go/internal/api"
)

const pragmaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 10000;
PRAGMA temp_store = MEMORY;
PRAGMA auto_vacuum = INCREMENTAL;
PRAGMA cache_size = -8000;
`

const schemaDDL = `
CREATE TABLE IF NOT EXISTS pending_payloads (
  id TEXT PRIMARY KEY,
  enqueued_at INTEGER NOT NULL,
  priority TEXT NOT NULL DEFAULT 'normal',
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  payload TEXT NOT NULL,
  synced INTEGER NOT NULL DEFAULT 0,
  delivered_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_pending_synced ON pending_payloads (synced, enqueued_at);
`

func init() {
	sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
		_, err := conn.ExecContext(context.Background(), pragmaSQL, []driver.NamedValue{})
		return err
	})
}

// SQLite is the durable store. A single-connection writer serializes
// mutations; a small reader pool serves loads.
type SQLite struct {
	path     string
	writer   *sql.DB
	reader   *sql.DB
	maxBytes int64
}

// OpenSQLite opens (and creates if needed) the queue database at path.
// maxBytes bounds the database file; delivered rows are pruned first when
// the bound is exceeded, oldest pending rows after that.
func OpenSQLite(path string, maxBytes int64) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dsn := "file:" + path
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer db: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader db: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)

	if err := writer.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	if _, err := writer.Exec(schemaDDL); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{path: path, writer: writer, reader: reader, maxBytes: maxBytes}, nil
}

func (s *SQLite) Path() string { return s.path }

func (s *SQLite) LoadPending(ctx context.Context) ([]Entry, error) {
	rows, err := s.reader.QueryContext(ctx, `
SELECT id, enqueued_at, priority, attempts, COALESCE(last_error,''), payload
FROM pending_payloads
WHERE synced = 0
ORDER BY enqueued_at ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			enqueuedAt int64
			priority   string
			payload    string
		)
		if err := rows.Scan(&e.ID, &enqueuedAt, &priority, &e.Attempts, &e.LastError, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			// A corrupt row must not wedge the queue on startup.
			continue
		}
		e.EnqueuedAt = time.UnixMilli(enqueuedAt)
		e.Priority = api.Priority(priority)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Save(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.writer.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO pending_payloads (id, enqueued_at, priority, attempts, last_error, payload, synced, delivered_at)
VALUES (?, ?, ?, ?, ?, ?, 0, NULL)
ON CONFLICT(id) DO UPDATE SET attempts = excluded.attempts, last_error = excluded.last_error
`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID,
			e.EnqueuedAt.UnixMilli(),
			string(e.Priority),
			e.Attempts,
			e.LastError,
			string(payload),
		); err != nil {
			return fmt.Errorf("upsert entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return s.pruneToSize(ctx)
}

func (s *SQLite) MarkDelivered(ctx context.Context, ids []string, deliveredAt int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		"UPDATE pending_payloads SET synced = 1, delivered_at = ? WHERE id IN (%s)",
		placeholders(len(ids)),
	)
	args := make([]any, 0, len(ids)+1)
	args = append(args, deliveredAt)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.writer.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLite) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf("DELETE FROM pending_payloads WHERE id IN (%s)", placeholders(len(ids)))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.writer.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLite) Clear(ctx context.Context) error {
	_, err := s.writer.ExecContext(ctx, "DELETE FROM pending_payloads")
	return err
}

func (s *SQLite) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_payloads WHERE synced = 0").Scan(&count)
	return count, err
}

func (s *SQLite) Checkpoint(ctx context.Context) error {
	_, err := s.writer.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (s *SQLite) Close() error {
	var errs []error
	if err := s.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.reader.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *SQLite) fileSizeBytes() int64 {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		if fi, err := os.Stat(p); err == nil {
			total += fi.Size()
		}
	}
	return total
}

// pruneToSize keeps the database under maxBytes: delivered rows go first,
// then the oldest pending rows until the bound holds again.
func (s *SQLite) pruneToSize(ctx context.Context) error {
	if s.maxBytes <= 0 || s.fileSizeBytes() <= s.maxBytes {
		return nil
	}
	if _, err := s.writer.ExecContext(ctx, "DELETE FROM pending_payloads WHERE synced = 1"); err != nil {
		return fmt.Errorf("prune delivered: %w", err)
	}
	for s.reclaim(ctx); s.fileSizeBytes() > s.maxBytes; s.reclaim(ctx) {
		res, err := s.writer.ExecContext(ctx, `
DELETE FROM pending_payloads WHERE id IN (
  SELECT id FROM pending_payloads WHERE synced = 0 ORDER BY enqueued_at ASC LIMIT 10
)`)
		if err != nil {
			return fmt.Errorf("prune pending: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return nil
		}
	}
	return nil
}

func (s *SQLite) reclaim(ctx context.Context) {
	_, _ = s.writer.ExecContext(ctx, "PRAGMA incremental_vacuum(1000)")
	_ = s.Checkpoint(ctx)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
