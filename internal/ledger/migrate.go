package ledger

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// migrateDigestNullable detects a legacy processed_files table whose
// file_digest column is NOT NULL and rebuilds the table transparently,
// per spec.md §4.3 / Design Notes: "treat it as a boot-time step that must
// be crash-safe (use a temporary table + rename)". It is idempotent: a
// table already matching the current schema is left untouched.
func (l *Ledger) migrateDigestNullable(ctx context.Context) error {
	conn, release, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	needsMigration, err := digestColumnIsNotNull(ctx, conn)
	if err != nil {
		return err
	}
	if !needsMigration {
		return nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "unable to begin migration transaction")
	}
	defer tx.Rollback()

	statements := []string{
		`CREATE TABLE processed_files_new (
			id INTEGER PRIMARY KEY,
			file_path TEXT UNIQUE NOT NULL,
			file_digest TEXT NULL,
			file_size INTEGER NOT NULL,
			processed_time INTEGER NOT NULL,
			external_id INTEGER NULL,
			media_kind TEXT NULL,
			target_path TEXT NULL
		)`,
		`INSERT INTO processed_files_new (id, file_path, file_digest, file_size, processed_time, external_id, media_kind, target_path)
		 SELECT id, file_path, file_digest, file_size, processed_time, external_id, media_kind, target_path FROM processed_files`,
		`DROP TABLE processed_files`,
		`ALTER TABLE processed_files_new RENAME TO processed_files`,
		`CREATE INDEX IF NOT EXISTS idx_processed_files_path ON processed_files(file_path)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_files_digest ON processed_files(file_digest)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_files_time ON processed_files(processed_time)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_files_external_id ON processed_files(external_id)`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migration step failed: %s", stmt)
		}
	}

	return tx.Commit()
}

// digestColumnIsNotNull inspects processed_files' column metadata via
// PRAGMA table_info and reports whether file_digest is declared NOT NULL.
// A table that does not exist yet (first run) is reported as not needing
// migration; CREATE TABLE IF NOT EXISTS in the caller's schema already
// creates it with the correct nullable column.
func digestColumnIsNotNull(ctx context.Context, conn *sql.Conn) (bool, error) {
	rows, err := conn.QueryContext(ctx, `PRAGMA table_info(processed_files)`)
	if err != nil {
		return false, errors.Wrap(err, "unable to inspect processed_files schema")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, errors.Wrap(err, "unable to scan column info")
		}
		if name == "file_digest" && notNull == 1 {
			return true, nil
		}
	}
	return false, rows.Err()
}
