// Package filmdb wraps the external film database (TMDB-shaped) described
// in spec.md §4.11, consulting the metadata cache first and falling back to
// the remote service on miss. Grounded directly on
// torrent-search/internal/providers/tmdb/client.go's Config/NewClient and
// context-scoped net/http idiom; the cache layer changes from that file's
// Redis cache to internal/metacache (sqlite), since spec.md's cache is
// required to be a durable single-file database rather than a shared
// external cache (see DESIGN.md).
package filmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ghisgit/media-organizer/internal/metacache"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"
)

// Config configures a Client.
type Config struct {
	APIKey  string
	Proxy   string
	BaseURL string
	Client  *http.Client
	Cache   *metacache.Cache
}

// Client queries the external film database, cache-first.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	cache   *metacache.Cache
}

// NewClient constructs a Client from cfg, defaulting the base URL and HTTP
// client as needed.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
		if cfg.Proxy != "" {
			if proxyURL, err := url.Parse(cfg.Proxy); err == nil {
				httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
			}
		}
	}
	return &Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		cache:   cfg.Cache,
	}
}

// Enabled reports whether the client has credentials configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

type searchResult struct {
	ID           int     `json:"id"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	GenreIDs     []int   `json:"genre_ids"`
	Popularity   float64 `json:"popularity"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type detailResponse struct {
	Genres []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
}

func (r searchResult) displayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

func (r searchResult) year() int {
	date := r.ReleaseDate
	if date == "" {
		date = r.FirstAirDate
	}
	return fourDigitYearPrefix(date)
}

func fourDigitYearPrefix(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

// SearchMovie looks up a movie by title and optional year, consulting the
// cache first.
func (c *Client) SearchMovie(ctx context.Context, title string, year *int) (*metacache.Record, error) {
	return c.search(ctx, "movie", title, year, "/search/movie", "/movie/%d")
}

// SearchSeries looks up a TV series by title, consulting the cache first.
func (c *Client) SearchSeries(ctx context.Context, title string) (*metacache.Record, error) {
	return c.search(ctx, "series", title, nil, "/search/tv", "/tv/%d")
}

func (c *Client) search(ctx context.Context, kind, title string, year *int, searchPath, detailPathFormat string) (*metacache.Record, error) {
	if cached, found, err := c.cache.Get(ctx, kind, title, year); err != nil {
		return nil, err
	} else if found {
		return &cached, nil
	}

	if !c.Enabled() {
		return nil, nil
	}

	results, err := c.searchRemote(ctx, searchPath, title, year)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	top := results[0]

	genreNames, genreIDs, err := c.fetchDetail(ctx, fmt.Sprintf(detailPathFormat, top.ID))
	if err != nil {
		return nil, err
	}
	if len(genreIDs) == 0 {
		genreIDs = top.GenreIDs
	}

	record := metacache.Record{
		ExternalID:     top.ID,
		MediaKind:      kind,
		CanonicalTitle: top.displayTitle(),
		ReleaseYear:    top.year(),
		Genres:         genreNames,
		GenreIDs:       genreIDs,
	}

	if err := c.cache.Set(ctx, kind, title, year, record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *Client) searchRemote(ctx context.Context, path, title string, year *int) ([]searchResult, error) {
	params := url.Values{
		"api_key": {c.apiKey},
		"query":   {title},
	}
	if year != nil {
		params.Set("year", strconv.Itoa(*year))
	}

	body, err := c.get(ctx, path+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var response searchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "unable to decode film-db search response")
	}
	return response.Results, nil
}

func (c *Client) fetchDetail(ctx context.Context, path string) ([]string, []int, error) {
	params := url.Values{"api_key": {c.apiKey}}
	body, err := c.get(ctx, path+"?"+params.Encode())
	if err != nil {
		return nil, nil, err
	}

	var detail detailResponse
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, nil, errors.Wrap(err, "unable to decode film-db detail response")
	}

	names := make([]string, 0, len(detail.Genres))
	ids := make([]int, 0, len(detail.Genres))
	for _, g := range detail.Genres {
		names = append(names, g.Name)
		ids = append(ids, g.ID)
	}
	return names, ids, nil
}

func (c *Client) get(ctx context.Context, pathAndQuery string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build film-db request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "film-db request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("film-db HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return io.ReadAll(io.LimitReader(resp.Body, 512*1024))
}
