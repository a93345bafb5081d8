// Package ledger implements the processed-file ledger, the durable record
// of already-published files described in spec.md §4.3.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/ghisgit/media-organizer/internal/dbpool"
)

// Entry is one published file's ledger record.
type Entry struct {
	ID            int64
	FilePath      string
	FileDigest    sql.NullString
	FileSize      int64
	ProcessedTime time.Time
	ExternalID    sql.NullInt64
	MediaKind     sql.NullString
	TargetPath    sql.NullString
}

const schema = `
CREATE TABLE IF NOT EXISTS processed_files (
	id INTEGER PRIMARY KEY,
	file_path TEXT UNIQUE NOT NULL,
	file_digest TEXT NULL,
	file_size INTEGER NOT NULL,
	processed_time INTEGER NOT NULL,
	external_id INTEGER NULL,
	media_kind TEXT NULL,
	target_path TEXT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_files_path ON processed_files(file_path);
CREATE INDEX IF NOT EXISTS idx_processed_files_digest ON processed_files(file_digest);
CREATE INDEX IF NOT EXISTS idx_processed_files_time ON processed_files(processed_time);
CREATE INDEX IF NOT EXISTS idx_processed_files_external_id ON processed_files(external_id);
`

// Ledger is a handle onto the processed_files table, shared by all pipeline
// workers via the connection pool.
type Ledger struct {
	pool *dbpool.Pool
}

// Open opens (or creates) the ledger database at path, running the
// digest-nullability migration if a legacy schema is detected.
func Open(path string) (*Ledger, error) {
	pool, err := dbpool.Open(path, dbpool.DefaultConfig())
	if err != nil {
		return nil, err
	}
	l := &Ledger{pool: pool}
	if _, err := pool.DB().Exec(schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "unable to create processed_files schema")
	}
	if err := l.migrateDigestNullable(context.Background()); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "unable to migrate processed_files schema")
	}
	// Force a trivial read so that schema creation/migration errors surface
	// eagerly at startup rather than on first use (spec.md §4.13).
	if _, err := l.Count(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// Close releases the underlying connection pool.
func (l *Ledger) Close() error { return l.pool.Close() }

// Pool returns the underlying connection pool, for health-probe wiring.
func (l *Ledger) Pool() *dbpool.Pool { return l.pool }

// IsProcessed reports whether path (and, if useDigest is true and digest is
// non-empty, the (path, digest) pair) already has a ledger entry, per
// spec.md §4.1's path-only pre-check and digest-strengthened re-check.
func (l *Ledger) IsProcessed(ctx context.Context, path, digest string, useDigest bool) (bool, error) {
	conn, release, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	if useDigest && digest != "" {
		var count int
		row := conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM processed_files WHERE file_path = ? AND file_digest = ?`, path, digest)
		if err := row.Scan(&count); err != nil {
			return false, errors.Wrap(err, "unable to query ledger by path and digest")
		}
		return count > 0, nil
	}

	var count int
	row := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_files WHERE file_path = ?`, path)
	if err := row.Scan(&count); err != nil {
		return false, errors.Wrap(err, "unable to query ledger by path")
	}
	return count > 0, nil
}

// Add appends a new ledger entry. A conflicting file_path is treated as
// idempotent success, matching the publisher's idempotent-publish contract
// (spec.md §4.8: "If the final target exists, the operation returns
// success").
func (l *Ledger) Add(ctx context.Context, e Entry) error {
	conn, release, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = conn.ExecContext(ctx, `
		INSERT INTO processed_files (file_path, file_digest, file_size, processed_time, external_id, media_kind, target_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			file_digest = excluded.file_digest,
			file_size = excluded.file_size,
			processed_time = excluded.processed_time,
			external_id = excluded.external_id,
			media_kind = excluded.media_kind,
			target_path = excluded.target_path
	`, e.FilePath, e.FileDigest, e.FileSize, e.ProcessedTime.Unix(), e.ExternalID, e.MediaKind, e.TargetPath)
	if err != nil {
		return errors.Wrap(err, "unable to append ledger entry")
	}
	return nil
}

// Count returns the total number of ledger entries.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	conn, release, err := l.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	var count int64
	row := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_files`)
	if err := row.Scan(&count); err != nil {
		return 0, errors.Wrap(err, "unable to count ledger entries")
	}
	return count, nil
}

// Recent returns the n most recently processed entries, newest first.
func (l *Ledger) Recent(ctx context.Context, n int) ([]Entry, error) {
	conn, release, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := conn.QueryContext(ctx, `
		SELECT id, file_path, file_digest, file_size, processed_time, external_id, media_kind, target_path
		FROM processed_files ORDER BY processed_time DESC LIMIT ?`, n)
	if err != nil {
		return nil, errors.Wrap(err, "unable to query recent ledger entries")
	}
	defer rows.Close()

	return scanEntries(rows)
}

// PurgeOlderThan deletes ledger entries processed more than the given
// number of days ago and returns the count removed.
func (l *Ledger) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	conn, release, err := l.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix()
	result, err := conn.ExecContext(ctx, `DELETE FROM processed_files WHERE processed_time < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "unable to purge ledger entries")
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var processedUnix int64
		if err := rows.Scan(&e.ID, &e.FilePath, &e.FileDigest, &e.FileSize, &processedUnix, &e.ExternalID, &e.MediaKind, &e.TargetPath); err != nil {
			return nil, errors.Wrap(err, "unable to scan ledger entry")
		}
		e.ProcessedTime = time.Unix(processedUnix, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
