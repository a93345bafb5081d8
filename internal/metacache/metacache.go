// Package metacache implements the durable metadata cache described in
// spec.md §4.4: a cache of (query-kind, query-text, optional year) →
// enriched film/series record, with last-accessed-time-based expiry.
package metacache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/ghisgit/media-organizer/internal/dbpool"
)

// animationGenreID is the TMDB genre id for animation; EnrichedRecord's
// IsAnimation is derived from this, never stored independently (spec.md
// §3: "is-animation is derived, not stored independently of genre-ids").
const animationGenreID = 16

// Record is the enriched metadata produced by a lookup.
type Record struct {
	ExternalID     int
	MediaKind      string
	CanonicalTitle string
	ReleaseYear    int
	Genres         []string
	GenreIDs       []int
	Payload        json.RawMessage
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// IsAnimation reports whether the record's genre ids include the animation
// genre.
func (r Record) IsAnimation() bool {
	for _, id := range r.GenreIDs {
		if id == animationGenreID {
			return true
		}
	}
	return false
}

const schema = `
CREATE TABLE IF NOT EXISTS cache (
	id INTEGER PRIMARY KEY,
	query_kind TEXT NOT NULL,
	query_text TEXT NOT NULL,
	query_year INTEGER NULL,
	external_id INTEGER NOT NULL,
	media_kind TEXT NOT NULL,
	canonical_title TEXT NOT NULL,
	release_year INTEGER NOT NULL,
	genres TEXT NOT NULL,
	genre_ids TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_time INTEGER NOT NULL,
	last_accessed_time INTEGER NOT NULL,
	UNIQUE(query_kind, query_text, query_year)
);
`

// Cache is a handle onto the metadata cache table.
type Cache struct {
	pool *dbpool.Pool
	ttl  time.Duration
}

// Open opens (or creates) the metadata cache database at path. ttl governs
// PurgeExpired's cutoff.
func Open(path string, ttl time.Duration) (*Cache, error) {
	pool, err := dbpool.Open(path, dbpool.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if _, err := pool.DB().Exec(schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "unable to create cache schema")
	}
	c := &Cache{pool: pool, ttl: ttl}
	if _, _, err := c.Get(context.Background(), "movie", "__startup_probe__", nil); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error { return c.pool.Close() }

// Pool returns the underlying connection pool, for health-probe wiring.
func (c *Cache) Pool() *dbpool.Pool { return c.pool }

// queryYearParam normalizes an optional year into the sql parameter used
// for both lookups and upserts (so that NULL matches NULL in the UNIQUE
// constraint).
func queryYearParam(year *int) interface{} {
	if year == nil {
		return nil
	}
	return *year
}

// Get returns the cached record for (kind, text, year), if present, and
// updates its last-accessed-time atomically within the same transaction
// (spec.md §4.4 / Testable Properties: "Cache touch"). The second return
// value reports whether a record was found.
func (c *Cache) Get(ctx context.Context, kind, text string, year *int) (Record, bool, error) {
	conn, release, err := c.pool.Acquire(ctx)
	if err != nil {
		return Record{}, false, err
	}
	defer release()

	now := time.Now()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, false, errors.Wrap(err, "unable to begin cache lookup transaction")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT external_id, media_kind, canonical_title, release_year, genres, genre_ids, payload, created_time, last_accessed_time
		FROM cache WHERE query_kind = ? AND query_text = ? AND query_year IS ?`,
		kind, text, queryYearParam(year))

	var (
		record                   Record
		genresJSON, genreIDsJSON string
		payloadJSON              string
		createdUnix, accessUnix  int64
	)
	if err := row.Scan(&record.ExternalID, &record.MediaKind, &record.CanonicalTitle, &record.ReleaseYear,
		&genresJSON, &genreIDsJSON, &payloadJSON, &createdUnix, &accessUnix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, errors.Wrap(err, "unable to query cache")
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE cache SET last_accessed_time = ? WHERE query_kind = ? AND query_text = ? AND query_year IS ?`,
		now.Unix(), kind, text, queryYearParam(year)); err != nil {
		return Record{}, false, errors.Wrap(err, "unable to touch cache entry")
	}
	if err := tx.Commit(); err != nil {
		return Record{}, false, errors.Wrap(err, "unable to commit cache touch")
	}

	if err := json.Unmarshal([]byte(genresJSON), &record.Genres); err != nil {
		return Record{}, false, errors.Wrap(err, "unable to decode cached genres")
	}
	if err := json.Unmarshal([]byte(genreIDsJSON), &record.GenreIDs); err != nil {
		return Record{}, false, errors.Wrap(err, "unable to decode cached genre ids")
	}
	record.Payload = json.RawMessage(payloadJSON)
	record.CreatedAt = time.Unix(createdUnix, 0)
	record.LastAccessedAt = now

	return record, true, nil
}

// Set upserts a record for (kind, text, year).
func (c *Cache) Set(ctx context.Context, kind, text string, year *int, record Record) error {
	conn, release, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	genresJSON, err := json.Marshal(record.Genres)
	if err != nil {
		return errors.Wrap(err, "unable to encode genres")
	}
	genreIDsJSON, err := json.Marshal(record.GenreIDs)
	if err != nil {
		return errors.Wrap(err, "unable to encode genre ids")
	}
	payload := record.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}

	now := time.Now()
	_, err = conn.ExecContext(ctx, `
		INSERT INTO cache (query_kind, query_text, query_year, external_id, media_kind, canonical_title, release_year, genres, genre_ids, payload, created_time, last_accessed_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(query_kind, query_text, query_year) DO UPDATE SET
			external_id = excluded.external_id,
			media_kind = excluded.media_kind,
			canonical_title = excluded.canonical_title,
			release_year = excluded.release_year,
			genres = excluded.genres,
			genre_ids = excluded.genre_ids,
			payload = excluded.payload,
			last_accessed_time = excluded.last_accessed_time
	`, kind, text, queryYearParam(year), record.ExternalID, record.MediaKind, record.CanonicalTitle, record.ReleaseYear,
		string(genresJSON), string(genreIDsJSON), string(payload), now.Unix(), now.Unix())
	if err != nil {
		return errors.Wrap(err, "unable to upsert cache entry")
	}
	return nil
}

// PurgeExpired removes rows whose last-accessed-time is older than the
// configured TTL and returns the count removed.
func (c *Cache) PurgeExpired(ctx context.Context) (int64, error) {
	conn, release, err := c.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	cutoff := time.Now().Add(-c.ttl).Unix()
	result, err := conn.ExecContext(ctx, `DELETE FROM cache WHERE last_accessed_time < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "unable to purge expired cache entries")
	}
	return result.RowsAffected()
}
