package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghisgit/media-organizer/internal/mediaconfig"
)

// fakeChatServer mimics the OpenAI-compatible chat-completions endpoint the
// HTTP identification backend speaks, always identifying the request as the
// same movie.
func fakeChatServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{
					"role":    "assistant",
					"content": `{"kind": "movie", "title": "Arrival", "year": 2016}`,
				}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}))
}

func writeTestConfig(t *testing.T, dir, aiURL string) string {
	t.Helper()
	cfg := mediaconfig.Default()
	cfg.MonitorDirectories = []string{filepath.Join(dir, "incoming")}
	cfg.LibraryPath = filepath.Join(dir, "library")
	cfg.LedgerDBPath = filepath.Join(dir, "ledger.db")
	cfg.CacheDBPath = filepath.Join(dir, "cache.db")
	cfg.WorkerThreads = 1
	cfg.StabilityWorkerThreads = 1
	cfg.MD5WorkerThreads = 1
	cfg.FileStableDelay = 10 * time.Millisecond
	cfg.MaxFileWaitTime = 2 * time.Second
	cfg.IgnoreFileSize = 0
	cfg.InitialScan = false
	cfg.AIEndpoints[cfg.AIType] = mediaconfig.ServiceEndpoint{URL: aiURL, Model: "test-model"}

	require.NoError(t, os.MkdirAll(cfg.MonitorDirectories[0], 0o755))

	path := filepath.Join(dir, "media-organizer.ini")
	require.NoError(t, mediaconfig.WriteDefaults(path, cfg))
	return path
}

func TestSupervisorEndToEndDetectsAndPublishes(t *testing.T) {
	dir := t.TempDir()
	ai := fakeChatServer(t)
	defer ai.Close()

	configPath := writeTestConfig(t, dir, ai.URL)

	sup, err := New(configPath, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)

	source := filepath.Join(dir, "incoming", "arrival.mkv")
	require.NoError(t, os.WriteFile(source, []byte("movie bytes"), 0o644))

	target := filepath.Join(dir, "library", "电影", "Arrival (2016)", "Arrival (2016).mkv")
	deadline := time.After(5 * time.Second)
	for {
		if _, statErr := os.Stat(target); statErr == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the watched file to be published")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not shut down after cancellation")
	}
}
