package supervisor

import (
	"context"
	"time"

	"github.com/ghisgit/media-organizer/internal/ledger"
	"github.com/ghisgit/media-organizer/internal/mediaconfig"
	"github.com/ghisgit/media-organizer/internal/metacache"
	"github.com/ghisgit/media-organizer/internal/mlog"
	"github.com/ghisgit/media-organizer/internal/pipeline"
)

// drainPollInterval is how often a OneShot polls the pipeline's pending
// registry while waiting for an admitted batch to finish.
const drainPollInterval = 100 * time.Millisecond

// OneShot wires the same pipeline core the monitor-mode Supervisor uses,
// without a watcher or health prober, for mediad's one-shot CLI mode
// (spec.md §6: "a one-shot entry point with mutually exclusive --file
// PATH… / --dir PATH").
type OneShot struct {
	snap     *mediaconfig.Snapshot
	ledger   *ledger.Ledger
	cache    *metacache.Cache
	pipeline *pipeline.Pipeline
}

// NewOneShot builds the pipeline core from the configuration at configPath.
// When dryRun is true, the publisher computes target paths but never
// touches the filesystem (mediad's --test flag).
func NewOneShot(configPath string, dryRun bool) (*OneShot, error) {
	parts, err := buildComponents(configPath)
	if err != nil {
		return nil, err
	}
	if dryRun {
		parts.pipeline.Publisher().SetDryRun(true)
	}
	return &OneShot{snap: parts.snap, ledger: parts.ledger, cache: parts.cache, pipeline: parts.pipeline}, nil
}

// Admit submits path for processing, exactly as a watch event would.
func (o *OneShot) Admit(path string) {
	o.pipeline.Admit(path, pipeline.OriginWatch)
}

// Run starts the worker pools bound to ctx. Callers must call Drain, which
// stops the pipeline and joins its worker pools, before Close.
func (o *OneShot) Run(ctx context.Context) {
	o.pipeline.Start(ctx)
}

// Drain blocks until every admitted path has reached a terminal state, or
// ctx is cancelled, then stops the pipeline and joins its worker pools. It
// returns the final stats snapshot.
func (o *OneShot) Drain(ctx context.Context) pipeline.Snapshot {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
waitForDrain:
	for o.pipeline.Pending() > 0 {
		select {
		case <-ctx.Done():
			break waitForDrain
		case <-ticker.C:
		}
	}

	o.pipeline.Stop()
	o.pipeline.Wait()
	return o.pipeline.Stats().Snapshot(time.Now())
}

// Close releases the ledger and cache connection pools.
func (o *OneShot) Close() {
	o.cache.Close()
	o.ledger.Close()
}
