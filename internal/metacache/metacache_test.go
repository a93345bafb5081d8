package metacache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "tmdb_cache.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetThenGetHit(t *testing.T) {
	c := openTestCache(t, time.Hour)
	ctx := context.Background()
	year := 1999

	record := Record{
		ExternalID:     603,
		MediaKind:      "movie",
		CanonicalTitle: "黑客帝国",
		ReleaseYear:    1999,
		Genres:         []string{"Action", "Science Fiction"},
		GenreIDs:       []int{28, 878},
	}
	require.NoError(t, c.Set(ctx, "movie", "The Matrix", &year, record))

	got, found, err := c.Get(ctx, "movie", "The Matrix", &year)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 603, got.ExternalID)
	require.Equal(t, []int{28, 878}, got.GenreIDs)
	require.False(t, got.IsAnimation())
}

func TestIsAnimationDerivedFromGenreIDs(t *testing.T) {
	c := openTestCache(t, time.Hour)
	ctx := context.Background()
	year := 2022

	record := Record{
		ExternalID:     120089,
		MediaKind:      "series",
		CanonicalTitle: "SPY×FAMILY",
		ReleaseYear:    2022,
		GenreIDs:       []int{16, 35},
	}
	require.NoError(t, c.Set(ctx, "series", "SPY x FAMILY", &year, record))

	got, found, err := c.Get(ctx, "series", "SPY x FAMILY", &year)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.IsAnimation())
}

func TestGetTouchesLastAccessedTime(t *testing.T) {
	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "movie", "Inception", nil, Record{ExternalID: 27205, MediaKind: "movie", CanonicalTitle: "Inception", ReleaseYear: 2010}))

	first, found, err := c.Get(ctx, "movie", "Inception", nil)
	require.NoError(t, err)
	require.True(t, found)

	time.Sleep(10 * time.Millisecond)

	second, found, err := c.Get(ctx, "movie", "Inception", nil)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, second.LastAccessedAt.Before(first.LastAccessedAt))
}

func TestPurgeExpired(t *testing.T) {
	c := openTestCache(t, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "movie", "Old Movie", nil, Record{ExternalID: 1, MediaKind: "movie", CanonicalTitle: "Old Movie"}))

	// Access times are stored in whole seconds, so the cutoff only passes
	// the stored value once the clock has moved into a later second.
	time.Sleep(1100 * time.Millisecond)

	removed, err := c.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
}

func TestMissReturnsNotFound(t *testing.T) {
	c := openTestCache(t, time.Hour)
	_, found, err := c.Get(context.Background(), "movie", "Nonexistent", nil)
	require.NoError(t, err)
	require.False(t, found)
}
