package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghisgit/media-organizer/internal/filmdb"
	"github.com/ghisgit/media-organizer/internal/identify"
	"github.com/ghisgit/media-organizer/internal/ledger"
	"github.com/ghisgit/media-organizer/internal/mediaconfig"
	"github.com/ghisgit/media-organizer/internal/metacache"
	"github.com/ghisgit/media-organizer/internal/mlog"
	"github.com/ghisgit/media-organizer/internal/publisher"
)

type fakeIdentifier struct {
	ident *identify.ProvisionalIdent
	err   error
	calls int
}

func (f *fakeIdentifier) Identify(ctx context.Context, filename string) (*identify.ProvisionalIdent, error) {
	f.calls++
	return f.ident, f.err
}

func newTestPipeline(t *testing.T, identifier identify.Identifier) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()

	led, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	cache, err := metacache.Open(filepath.Join(dir, "cache.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	film := filmdb.NewClient(filmdb.Config{Cache: cache})
	pub := publisher.New(filepath.Join(dir, "library"), "", mediaconfig.LinkCopy)

	cfg := mediaconfig.Default()
	cfg.MonitorDirectories = []string{dir}
	cfg.WorkerThreads = 1
	cfg.StabilityWorkerThreads = 1
	cfg.MD5WorkerThreads = 1
	cfg.FileStableDelay = 10 * time.Millisecond
	cfg.MaxFileWaitTime = 2 * time.Second
	cfg.IgnoreFileSize = 0

	configPath := filepath.Join(dir, "media-organizer.ini")
	require.NoError(t, mediaconfig.WriteDefaults(configPath, cfg))
	snap, err := mediaconfig.NewSnapshot(configPath, mlog.Root)
	require.NoError(t, err)

	p := New(snap, Dependencies{
		Ledger:    led,
		Identify:  identify.NewClient(identifier, 1),
		FilmDB:    film,
		Publisher: pub,
	}, mlog.Root)

	return p, dir
}

func TestAdmitDropsDuplicatePath(t *testing.T) {
	p, dir := newTestPipeline(t, &fakeIdentifier{})
	source := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(source, []byte("data"), 0o644))

	p.Admit(source, OriginWatch)
	p.Admit(source, OriginWatch)

	snap := p.stats.Snapshot(time.Now())
	assert.Equal(t, int64(2), snap.Detected)
	assert.Equal(t, int64(1), snap.Duplicate)
}

func TestAdmitIgnoresNonVideoFile(t *testing.T) {
	p, dir := newTestPipeline(t, &fakeIdentifier{})
	source := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(source, []byte("data"), 0o644))

	p.Admit(source, OriginWatch)

	snap := p.stats.Snapshot(time.Now())
	assert.Equal(t, int64(0), snap.Detected)
}

func TestPipelineEndToEndPublishesAndRecords(t *testing.T) {
	year := 2010
	ident := &identify.ProvisionalIdent{Kind: identify.KindMovie, Title: "Inception", Year: &year}
	p, dir := newTestPipeline(t, &fakeIdentifier{ident: ident})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	source := filepath.Join(dir, "inception.mkv")
	require.NoError(t, os.WriteFile(source, []byte("movie bytes"), 0o644))

	p.Admit(source, OriginWatch)

	deadline := time.After(5 * time.Second)
	for {
		snap := p.Stats().Snapshot(time.Now())
		if snap.Succeeded+snap.Failed > 0 {
			assert.Equal(t, int64(1), snap.Succeeded)
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the file to be processed")
		case <-time.After(20 * time.Millisecond):
		}
	}

	processed, err := p.ledger.IsProcessed(context.Background(), source, "", false)
	require.NoError(t, err)
	assert.True(t, processed)

	target := filepath.Join(dir, "library", "电影", "Inception (2010)", "Inception (2010).mkv")
	_, err = os.Stat(target)
	assert.NoError(t, err)
}

func TestRunProcessingRetriesTwiceOnPersistentFailure(t *testing.T) {
	fake := &fakeIdentifier{err: errors.New("backend unavailable")}
	p, dir := newTestPipeline(t, fake)

	source := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(source, []byte("data"), 0o644))

	desc := &Descriptor{Path: source}
	p.runProcessing(context.Background(), desc)

	assert.Equal(t, 3, fake.calls, "spec.md's \"max 2 retries\" means 3 total attempts")
	snap := p.Stats().Snapshot(time.Now())
	assert.Equal(t, int64(1), snap.Failed)
}

func TestStatsRollingAverage(t *testing.T) {
	s := NewStats(time.Now())
	s.RecordProcessingTime(100 * time.Millisecond)
	s.RecordProcessingTime(200 * time.Millisecond)
	assert.Equal(t, 150*time.Millisecond, s.AverageProcessingTime())
}
