package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "processed_files.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestIsProcessedByPathOnly(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	processed, err := l.IsProcessed(ctx, "/in/a.mkv", "", false)
	require.NoError(t, err)
	require.False(t, processed)

	err = l.Add(ctx, Entry{
		FilePath:      "/in/a.mkv",
		FileSize:      100,
		ProcessedTime: time.Now(),
		MediaKind:     sql.NullString{String: "movie", Valid: true},
	})
	require.NoError(t, err)

	processed, err = l.IsProcessed(ctx, "/in/a.mkv", "", false)
	require.NoError(t, err)
	require.True(t, processed)
}

func TestIdempotentAddOnConflict(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	entry := Entry{FilePath: "/in/a.mkv", FileSize: 100, ProcessedTime: time.Now()}
	require.NoError(t, l.Add(ctx, entry))
	require.NoError(t, l.Add(ctx, entry))

	count, err := l.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestDigestStrengthenedLookup(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Add(ctx, Entry{
		FilePath:      "/in/a.mkv",
		FileDigest:    sql.NullString{String: "deadbeef", Valid: true},
		FileSize:      100,
		ProcessedTime: time.Now(),
	}))

	processed, err := l.IsProcessed(ctx, "/in/a.mkv", "deadbeef", true)
	require.NoError(t, err)
	require.True(t, processed)

	processed, err = l.IsProcessed(ctx, "/in/a.mkv", "otherdigest", true)
	require.NoError(t, err)
	require.False(t, processed)
}

func TestPurgeOlderThan(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Add(ctx, Entry{
		FilePath:      "/in/old.mkv",
		FileSize:      100,
		ProcessedTime: time.Now().Add(-40 * 24 * time.Hour),
	}))
	require.NoError(t, l.Add(ctx, Entry{
		FilePath:      "/in/new.mkv",
		FileSize:      100,
		ProcessedTime: time.Now(),
	}))

	removed, err := l.PurgeOlderThan(ctx, 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	count, err := l.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
