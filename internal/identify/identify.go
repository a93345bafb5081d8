// Package identify turns a filename into a provisional media identification
// via a generative-text backend, per spec.md §4.10. The HTTP interaction
// itself is outside the specified scope; this package owns prompt
// construction, response parsing, validation, and the backend-selection and
// concurrency-limiting contract around it.
package identify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/ghisgit/media-organizer/internal/mediaconfig"
)

// Kind is the media kind a ProvisionalIdent describes.
type Kind string

const (
	KindMovie  Kind = "movie"
	KindSeries Kind = "series"
)

// ProvisionalIdent is the filename-derived identification, prior to
// enrichment, described in spec.md §3.
type ProvisionalIdent struct {
	Kind    Kind
	Title   string
	Year    *int
	Season  int
	Episode int
}

// Validate enforces spec.md §3's invariant: kind fully determines which
// other fields must be present.
func (p ProvisionalIdent) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("title must not be empty")
	}
	switch p.Kind {
	case KindMovie:
		return nil
	case KindSeries:
		if p.Season < 1 {
			return errors.New("series identification requires season >= 1")
		}
		if p.Episode < 1 {
			return errors.New("series identification requires episode >= 1")
		}
		return nil
	default:
		return errors.Errorf("unrecognized kind %q", p.Kind)
	}
}

// wireResponse is the JSON object the generative-text backend is expected
// to return, parsed out of its (possibly chatty) response text.
type wireResponse struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Year    *int   `json:"year,omitempty"`
	Season  int    `json:"season,omitempty"`
	Episode int    `json:"episode,omitempty"`
}

// parseResponse extracts and validates a ProvisionalIdent from raw model
// output, tolerating surrounding prose by locating the outermost JSON
// object.
func parseResponse(raw string) (*ProvisionalIdent, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return nil, errors.New("no JSON object found in identification response")
	}

	var wire wireResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &wire); err != nil {
		return nil, errors.Wrap(err, "unable to decode identification response")
	}

	ident := ProvisionalIdent{
		Kind:    Kind(wire.Kind),
		Title:   strings.TrimSpace(wire.Title),
		Year:    wire.Year,
		Season:  wire.Season,
		Episode: wire.Episode,
	}
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return &ident, nil
}

// Identifier produces a provisional identification for a filename. Nil,nil
// indicates the backend could not identify the file; an error indicates a
// transport or parse failure (the HTTP backend reports a response with no
// JSON object, or one that fails validation, as an error).
type Identifier interface {
	Identify(ctx context.Context, filename string) (*ProvisionalIdent, error)
}

// Client wraps a concrete Identifier with the concurrency cap from spec.md
// §4.10 ("Concurrency is capped by a counting semaphore of size
// max_concurrent").
type Client struct {
	backend Identifier
	sem     *semaphore.Weighted
}

// NewClient constructs a Client around backend, limiting concurrent calls
// to maxConcurrent.
func NewClient(backend Identifier, maxConcurrent int) *Client {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Client{backend: backend, sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

// Identify acquires a semaphore slot, delegates to the backend, and
// releases the slot on return.
func (c *Client) Identify(ctx context.Context, filename string) (*ProvisionalIdent, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "unable to acquire identification concurrency slot")
	}
	defer c.sem.Release(1)

	return c.backend.Identify(ctx, filename)
}

// SelectBackend resolves the configured AI backend implementation, per
// spec.md §9's "Dynamic polymorphism over identification backends": one
// concrete type per backend, chosen from configuration at startup.
func SelectBackend(backend mediaconfig.AIBackend, endpoint mediaconfig.ServiceEndpoint, maxTokens int) (Identifier, error) {
	switch backend {
	case mediaconfig.AIDeepseek, mediaconfig.AISpark, mediaconfig.AIModelScope, mediaconfig.AIZhipu:
		return newHTTPBackend(string(backend), endpoint, maxTokens), nil
	default:
		return nil, errors.Errorf("unrecognized ai_type %q", backend)
	}
}
