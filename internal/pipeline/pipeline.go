// Package pipeline implements the ingestion pipeline core of spec.md §4.1:
// three bounded queues (raw, stable, fingerprinted) connected by worker
// pools, with the admission, stability, hashing, and processing stages.
//
// Following the teacher's daemon lifecycle idiom (cmd/mutagen/daemon_run.go:
// a cancellable context plus a sync.WaitGroup of goroutines, drained on
// shutdown rather than killed), each stage is a loop over a channel guarded
// by the pipeline's context.
package pipeline

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ghisgit/media-organizer/internal/breaker"
	"github.com/ghisgit/media-organizer/internal/filmdb"
	"github.com/ghisgit/media-organizer/internal/fingerprint"
	"github.com/ghisgit/media-organizer/internal/identify"
	"github.com/ghisgit/media-organizer/internal/ledger"
	"github.com/ghisgit/media-organizer/internal/mediaconfig"
	"github.com/ghisgit/media-organizer/internal/metacache"
	"github.com/ghisgit/media-organizer/internal/mlog"
	"github.com/ghisgit/media-organizer/internal/pending"
	"github.com/ghisgit/media-organizer/internal/publisher"
	"github.com/ghisgit/media-organizer/internal/retry"
	"github.com/ghisgit/media-organizer/internal/scanner"
)

const (
	// stableCountThreshold is spec.md §4.1's fixed number of consecutive
	// unchanged-size reads required to declare a file stable. Unlike the
	// other stability knobs it is not an exposed configuration option.
	stableCountThreshold = 3

	initialStabilityBackoff = 2 * time.Second
	maxStabilityBackoff     = 5 * time.Second

	hashRetryAttempts = 3
	hashRetryGap      = 2 * time.Second

	// processingRetryAttempts is spec.md §4.7's "max 2 retries" — 2 retries
	// plus the initial attempt, per retry.Config.MaxAttempts's "total
	// attempts including the first" semantics.
	processingRetryAttempts = 3

	lowPriorityYield = 2 * time.Second

	queueDepth = 256
)

// Pipeline wires the three queues, their worker pools, and the stage
// dependencies (ledger, identification, film-db, publisher, breakers).
type Pipeline struct {
	snap *mediaconfig.Snapshot
	log  *mlog.Logger

	pending   *pending.Registry
	ledger    *ledger.Ledger
	identify  *identify.Client
	filmdb    *filmdb.Client
	publisher *publisher.Publisher

	identBreaker *breaker.Breaker
	filmBreaker  *breaker.Breaker

	stats *Stats

	raw           chan *Descriptor
	stable        chan *Descriptor
	fingerprinted chan *Descriptor

	stabilityWG sync.WaitGroup
	hashingWG   sync.WaitGroup
	wg          sync.WaitGroup
}

// Dependencies groups the collaborators a Pipeline needs beyond its own
// configuration; all are already constructed and owned by the supervisor.
type Dependencies struct {
	Ledger    *ledger.Ledger
	Identify  *identify.Client
	FilmDB    *filmdb.Client
	Publisher *publisher.Publisher
}

// New constructs a Pipeline bound to a live configuration snapshot, so that
// the hot-reloaded fields it reads (ignore patterns, digest toggle, max file
// wait time) take effect without restarting the pipeline. The link method
// is held by the Publisher passed in deps, which keeps the value it was
// constructed with; a reloaded link_method does not reach it. It does not
// start any workers; call Start.
func New(snap *mediaconfig.Snapshot, deps Dependencies, log *mlog.Logger) *Pipeline {
	cfg := snap.Get()
	return &Pipeline{
		snap:      snap,
		log:       log.Sublogger("pipeline"),
		pending:   pending.New(cfg.MaxPendingFiles, 2*time.Hour),
		ledger:    deps.Ledger,
		identify:  deps.Identify,
		filmdb:    deps.FilmDB,
		publisher: deps.Publisher,

		identBreaker: breaker.New("identification", 3, 300*time.Second),
		filmBreaker:  breaker.New("film-db", 5, 300*time.Second),

		stats: NewStats(time.Now()),

		raw:           make(chan *Descriptor, queueDepth),
		stable:        make(chan *Descriptor, queueDepth),
		fingerprinted: make(chan *Descriptor, queueDepth),
	}
}

// Stats returns the pipeline's counters, for the health prober and the
// supervisor's periodic status log.
func (p *Pipeline) Stats() *Stats { return p.stats }

// Breakers returns the identification and film-db circuit breakers, for
// status logging and metrics gauges.
func (p *Pipeline) Breakers() []*breaker.Breaker {
	return []*breaker.Breaker{p.identBreaker, p.filmBreaker}
}

// Pending reports the number of admitted paths that have not yet reached a
// terminal state (published, skipped, or failed). A one-shot caller can
// poll this after admitting a known set of paths to learn when the batch
// has fully drained, since every exit from the stage pipeline removes its
// path from the registry.
func (p *Pipeline) Pending() int { return p.pending.Len() }

// Publisher returns the pipeline's publisher, so mediad's one-shot --test
// flag can switch it into dry-run mode before any file is admitted.
func (p *Pipeline) Publisher() *publisher.Publisher { return p.publisher }

// cfg returns the live configuration. Worker pool sizes are read once, at
// Start; every other field is read fresh on each use so a hot reload takes
// effect on the next file admitted or stage transition.
func (p *Pipeline) cfg() *mediaconfig.Config { return p.snap.Get() }

// Start launches the configured worker pools, bound to ctx.
func (p *Pipeline) Start(ctx context.Context) {
	cfg := p.cfg()
	stabilityWorkers := max1(cfg.StabilityWorkerThreads)
	hashWorkers := max1(cfg.MD5WorkerThreads)
	processingWorkers := max1(cfg.WorkerThreads)

	for i := 0; i < stabilityWorkers; i++ {
		p.stabilityWG.Add(1)
		p.wg.Add(1)
		go p.stabilityLoop(ctx)
	}
	for i := 0; i < hashWorkers; i++ {
		p.hashingWG.Add(1)
		p.wg.Add(1)
		go p.hashingLoop(ctx)
	}
	for i := 0; i < processingWorkers; i++ {
		p.wg.Add(1)
		go p.processingLoop(ctx)
	}

	// Once every stability worker has drained raw, close stable; once every
	// hashing worker has drained stable, close fingerprinted. This lets Stop
	// trigger an orderly cascade through all three stages instead of
	// requiring each queue to be closed externally.
	go func() {
		p.stabilityWG.Wait()
		close(p.stable)
	}()
	go func() {
		p.hashingWG.Wait()
		close(p.fingerprinted)
	}()
}

// Wait blocks until all worker goroutines have returned, after their
// respective queues have been closed by Stop.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Stop closes the raw queue, triggering the drain cascade through stable
// and fingerprinted described in Start.
func (p *Pipeline) Stop() {
	close(p.raw)
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Admit implements spec.md §4.1's five-step admission contract for a newly
// detected path.
func (p *Pipeline) Admit(path string, origin Origin) {
	abs, err := filepath.Abs(path)
	if err != nil {
		p.log.Debug("dropping %s: unable to canonicalize: %v", path, err)
		return
	}

	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() || !scanner.HasVideoExtension(abs) {
		return
	}
	if scanner.MatchesAnyGlob(abs, p.cfg().IgnorePatterns) {
		return
	}

	p.stats.IncDetected()

	if !p.pending.TryAdd(abs) {
		p.stats.IncDuplicate()
		return
	}

	processed, err := p.ledger.IsProcessed(context.Background(), abs, "", false)
	if err != nil {
		p.log.WarnErr(err, "ledger pre-check")
		p.pending.Remove(abs)
		return
	}
	if processed {
		p.stats.IncProcessed()
		p.pending.Remove(abs)
		return
	}

	priority := PriorityNormal
	if origin == OriginScan && p.cfg().InitialScan {
		priority = PriorityLow
	}

	desc := &Descriptor{
		ID:            newDescriptorID(),
		Path:          abs,
		Size:          info.Size(),
		FirstDetected: time.Now(),
		Priority:      priority,
		Origin:        origin,
	}

	select {
	case p.raw <- desc:
	default:
		// Raw queue full: admission denial, per spec.md §7's
		// resource-exhaustion handling (warn, no retry).
		p.log.Warn("raw queue full, dropping admission for %s", abs)
		p.pending.Remove(abs)
	}
}

func (p *Pipeline) stabilityLoop(ctx context.Context) {
	defer p.wg.Done()
	defer p.stabilityWG.Done()
	for desc := range p.raw {
		p.runStability(ctx, desc)
	}
}

func (p *Pipeline) runStability(ctx context.Context, desc *Descriptor) {
	cfg := p.cfg()
	deadline := time.Now().Add(cfg.MaxFileWaitTime)
	backoff := initialStabilityBackoff
	if cfg.FileStableDelay > 0 {
		backoff = cfg.FileStableDelay
	}

	lastSize := int64(-1)
	consecutive := 0

	for {
		if time.Now().After(deadline) {
			p.stats.IncUnstable()
			p.pending.Remove(desc.Path)
			return
		}

		info, err := os.Stat(desc.Path)
		if err != nil {
			p.stats.IncUnstable()
			p.pending.Remove(desc.Path)
			return
		}

		if info.Size() == lastSize {
			consecutive++
		} else {
			consecutive = 1
			lastSize = info.Size()
		}

		if consecutive >= stableCountThreshold && p.canReadOneByte(desc.Path) {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxStabilityBackoff {
			backoff = maxStabilityBackoff
		}
	}

	if lastSize < int64(p.cfg().IgnoreFileSize) {
		p.stats.IncUnstable()
		p.pending.Remove(desc.Path)
		return
	}

	desc.Size = lastSize
	p.stats.IncStable()

	select {
	case p.stable <- desc:
	case <-ctx.Done():
	}
}

func (p *Pipeline) canReadOneByte(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 1)
	_, err = f.Read(buf)
	return err == nil
}

func (p *Pipeline) hashingLoop(ctx context.Context) {
	defer p.wg.Done()
	defer p.hashingWG.Done()
	for desc := range p.stable {
		p.runHashing(ctx, desc)
	}
}

func (p *Pipeline) runHashing(ctx context.Context, desc *Descriptor) {
	if p.cfg().UseMD5 {
		var digest string
		err := retry.Do(ctx, retry.Config{
			MaxAttempts:     hashRetryAttempts,
			InitialDelay:    hashRetryGap,
			MaxDelay:        hashRetryGap,
			ExponentialBase: 1,
			Retryable:       func(error) bool { return true },
		}, func() error {
			d, err := fingerprint.Of(desc.Path)
			if err != nil {
				return err
			}
			digest = d
			return nil
		})
		if err != nil {
			p.log.WarnErr(err, "fingerprinting "+desc.Path)
			p.stats.IncUnstable()
			p.pending.Remove(desc.Path)
			return
		}
		desc.Digest = digest
		desc.DigestUsed = true

		processed, err := p.ledger.IsProcessed(ctx, desc.Path, digest, true)
		if err != nil {
			p.log.WarnErr(err, "ledger digest re-check")
		} else if processed {
			p.stats.IncProcessed()
			p.pending.Remove(desc.Path)
			return
		}
	}

	p.stats.IncHashed()

	select {
	case p.fingerprinted <- desc:
	case <-ctx.Done():
	}
}

func (p *Pipeline) processingLoop(ctx context.Context) {
	defer p.wg.Done()
	for desc := range p.fingerprinted {
		if desc.Priority == PriorityLow {
			select {
			case <-time.After(lowPriorityYield):
			case <-ctx.Done():
				return
			}
		}
		p.runProcessing(ctx, desc)
	}
}

func (p *Pipeline) runProcessing(ctx context.Context, desc *Descriptor) {
	start := time.Now()
	p.stats.IncProcessed()

	err := retry.Do(ctx, retry.Config{
		MaxAttempts:     processingRetryAttempts,
		InitialDelay:    2 * time.Second,
		MaxDelay:        8 * time.Second,
		ExponentialBase: 2,
		Retryable:       isTransient,
	}, func() error {
		return p.process(ctx, desc)
	})

	p.pending.Remove(desc.Path)
	p.stats.RecordProcessingTime(time.Since(start))

	if err != nil {
		p.log.WarnErr(err, "processing "+desc.Path+" (run "+desc.ID+")")
		p.stats.IncFailed()
		return
	}
	p.stats.IncSucceeded()
}

func (p *Pipeline) process(ctx context.Context, desc *Descriptor) error {
	var ident *identify.ProvisionalIdent
	if err := p.identBreaker.Call(func() error {
		result, err := p.identify.Identify(ctx, filepath.Base(desc.Path))
		if err != nil {
			return err
		}
		ident = result
		return nil
	}); err != nil {
		return errors.Wrap(err, "identification failed")
	}
	if ident == nil {
		return errors.New("identification backend could not identify file")
	}
	desc.Identification = ident

	record, err := p.enrich(ctx, ident)
	if err != nil {
		return errors.Wrap(err, "film-db enrichment failed")
	}

	req := publisher.Request{
		SourcePath: desc.Path,
		Season:     ident.Season,
		Episode:    ident.Episode,
	}
	if ident.Kind == identify.KindSeries {
		req.Kind = publisher.KindSeries
	} else {
		req.Kind = publisher.KindMovie
	}

	var externalID int
	var mediaKind string
	if record != nil {
		req.Title = record.CanonicalTitle
		req.Year = record.ReleaseYear
		req.IsAnimation = record.IsAnimation()
		externalID = record.ExternalID
		mediaKind = record.MediaKind
	} else {
		req.Title = ident.Title
		if ident.Year != nil {
			req.Year = *ident.Year
		}
	}

	target, err := p.publisher.Publish(req)
	if err != nil {
		return errors.Wrap(err, "publish failed")
	}

	return p.ledger.Add(ctx, ledger.Entry{
		FilePath:      desc.Path,
		FileDigest:    nullableString(desc.Digest, desc.DigestUsed),
		FileSize:      desc.Size,
		ProcessedTime: time.Now(),
		ExternalID:    nullableInt(int64(externalID), record != nil),
		MediaKind:     nullableString(mediaKind, record != nil),
		TargetPath:    nullableString(target, true),
	})
}

func (p *Pipeline) enrich(ctx context.Context, ident *identify.ProvisionalIdent) (*metacache.Record, error) {
	var record *metacache.Record
	err := p.filmBreaker.Call(func() error {
		var lookupErr error
		if ident.Kind == identify.KindSeries {
			record, lookupErr = p.filmdb.SearchSeries(ctx, ident.Title)
		} else {
			record, lookupErr = p.filmdb.SearchMovie(ctx, ident.Title, ident.Year)
		}
		return lookupErr
	})
	return record, err
}

// isTransient is the retry predicate for the processing stage: every
// non-nil error is retried, up to processingRetryAttempts attempts in
// total. Permanent failures (for example an authentication error from a
// backend) are not told apart and are retried like any other error.
func isTransient(err error) bool {
	return err != nil
}

func nullableString(s string, ok bool) sql.NullString {
	if !ok || s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableInt(n int64, ok bool) sql.NullInt64 {
	if !ok {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}
