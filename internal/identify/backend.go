package identify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ghisgit/media-organizer/internal/mediaconfig"
)

// requestTimeout is spec.md §5's "External HTTP: 10 s".
const requestTimeout = 10 * time.Second

// httpBackend is a generic chat-completion-shaped backend, parameterized by
// name/URL/model/key, covering all four configured backends (deepseek,
// spark, model_scope, zhipu) the same way the film-database client covers
// one provider — a single concrete type wired up per backend at startup
// rather than one type per vendor SDK, since all four speak an
// OpenAI-compatible chat-completions wire shape.
type httpBackend struct {
	name      string
	url       string
	model     string
	apiKey    string
	maxTokens int
	http      *http.Client
}

func newHTTPBackend(name string, endpoint mediaconfig.ServiceEndpoint, maxTokens int) *httpBackend {
	return &httpBackend{
		name:      name,
		url:       endpoint.URL,
		model:     endpoint.Model,
		apiKey:    endpoint.APIKey,
		maxTokens: maxTokens,
		http:      &http.Client{Timeout: requestTimeout},
	}
}

const promptTemplate = `You identify whether a video file is a movie or a TV series episode from its filename alone. Respond with a single JSON object only, no prose.

For a movie: {"kind": "movie", "title": "<canonical title>", "year": <4-digit year or null>}
For a series episode: {"kind": "series", "title": "<series title>", "season": <int>, "episode": <int>}

Filename: %s`

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Identify issues the identification prompt to the configured backend and
// parses the resulting JSON object, per spec.md §4.10.
func (b *httpBackend) Identify(ctx context.Context, filename string) (*ProvisionalIdent, error) {
	if strings.TrimSpace(b.url) == "" {
		return nil, errors.Errorf("no endpoint configured for identification backend %q", b.name)
	}

	reqBody := chatRequest{
		Model: b.model,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(promptTemplate, filename)},
		},
		MaxTokens: b.maxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode identification request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "unable to build identification request")
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s request failed", b.name)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return nil, errors.Wrap(err, "unable to read identification response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("%s HTTP %d: %s", b.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, errors.Wrap(err, "unable to decode identification response envelope")
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.Errorf("%s returned no choices", b.name)
	}

	return parseResponse(decoded.Choices[0].Message.Content)
}
