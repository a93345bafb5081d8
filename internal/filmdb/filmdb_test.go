package filmdb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ghisgit/media-organizer/internal/metacache"
)

func newTestCache(t *testing.T) *metacache.Cache {
	t.Helper()
	c, err := metacache.Open(filepath.Join(t.TempDir(), "tmdb_cache.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSearchMovieHitsRemoteThenCaches(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch {
		case strings.HasPrefix(r.URL.Path, "/search/movie"):
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"results": []map[string]interface{}{
					{"id": 603, "title": "黑客帝国", "release_date": "1999-03-31", "genre_ids": []int{28, 878}},
				},
			})
		case strings.HasPrefix(r.URL.Path, "/movie/603"):
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"genres": []map[string]interface{}{
					{"id": 28, "name": "Action"},
					{"id": 878, "name": "Science Fiction"},
				},
			})
		}
	}))
	defer server.Close()

	cache := newTestCache(t)
	client := NewClient(Config{APIKey: "key", BaseURL: server.URL, Cache: cache})

	year := 1999
	record, err := client.SearchMovie(context.Background(), "The Matrix", &year)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, 603, record.ExternalID)
	require.Equal(t, 1999, record.ReleaseYear)
	require.Equal(t, []int{28, 878}, record.GenreIDs)
	require.Equal(t, 2, calls)

	// Second call should be served entirely from cache.
	record2, err := client.SearchMovie(context.Background(), "The Matrix", &year)
	require.NoError(t, err)
	require.Equal(t, record.ExternalID, record2.ExternalID)
	require.Equal(t, 2, calls)
}

func TestSearchReturnsNilWhenDisabled(t *testing.T) {
	cache := newTestCache(t)
	client := NewClient(Config{Cache: cache})

	record, err := client.SearchMovie(context.Background(), "Anything", nil)
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestSearchReturnsNilOnNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"results": []map[string]interface{}{}})
	}))
	defer server.Close()

	cache := newTestCache(t)
	client := NewClient(Config{APIKey: "key", BaseURL: server.URL, Cache: cache})

	record, err := client.SearchSeries(context.Background(), "Nonexistent Show")
	require.NoError(t, err)
	require.Nil(t, record)
}
