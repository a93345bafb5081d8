// Package health implements the health prober of spec.md §4.12: a set of
// named probes run on a fixed interval, with the latest boolean result per
// probe kept under a mutex (grounded on the teacher's
// pkg/housekeeping/background.go ticker-with-initial-run idiom and
// torrent-search/internal/search/health.go's per-dependency state map).
package health

import (
	"context"
	"sync"
	"time"

	"github.com/ghisgit/media-organizer/internal/metrics"
	"github.com/ghisgit/media-organizer/internal/mlog"
)

// Probe is a single named health check. Check returns an error that, if
// non-nil, marks the probe unhealthy; the error text becomes the result's
// Detail ("ok" otherwise).
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Result is the latest outcome of one probe.
type Result struct {
	Healthy   bool
	Detail    string
	CheckedAt time.Time
}

// Prober runs registered probes on a ticker and exposes the latest
// consolidated health state.
type Prober struct {
	interval time.Duration
	log      *mlog.Logger

	mu     sync.Mutex
	probes []Probe
	latest map[string]Result
}

// New constructs a Prober with the given check interval (spec.md default:
// 300s).
func New(interval time.Duration, log *mlog.Logger) *Prober {
	if interval <= 0 {
		interval = 300 * time.Second
	}
	return &Prober{
		interval: interval,
		log:      log.Sublogger("health"),
		latest:   map[string]Result{},
	}
}

// Register adds a probe. Must be called before Run.
func (p *Prober) Register(probe Probe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes = append(p.probes, probe)
}

// Run executes all registered probes immediately, then again every
// interval, until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	p.runAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runAll(ctx)
		}
	}
}

func (p *Prober) runAll(ctx context.Context) {
	p.mu.Lock()
	probes := append([]Probe(nil), p.probes...)
	p.mu.Unlock()

	for _, probe := range probes {
		start := time.Now()
		err := probe.Check(ctx)
		result := Result{Healthy: err == nil, CheckedAt: start}
		if err != nil {
			result.Detail = err.Error()
			p.log.Warn("probe %s unhealthy: %v", probe.Name, err)
		} else {
			result.Detail = "ok"
		}

		p.mu.Lock()
		p.latest[probe.Name] = result
		p.mu.Unlock()

		gaugeValue := 0.0
		if result.Healthy {
			gaugeValue = 1.0
		}
		metrics.ProbeHealthy.WithLabelValues(probe.Name).Set(gaugeValue)
	}
}

// IsHealthy reports whether every registered probe's latest result was
// healthy. A probe that has never run counts as unhealthy.
func (p *Prober) IsHealthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.probes) == 0 {
		return true
	}
	for _, probe := range p.probes {
		if result, ok := p.latest[probe.Name]; !ok || !result.Healthy {
			return false
		}
	}
	return true
}

// UnhealthyNames returns the names of probes whose latest result was
// unhealthy or that have never run.
func (p *Prober) UnhealthyNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var names []string
	for _, probe := range p.probes {
		if result, ok := p.latest[probe.Name]; !ok || !result.Healthy {
			names = append(names, probe.Name)
		}
	}
	return names
}

// Snapshot returns a copy of the latest result per probe name.
func (p *Prober) Snapshot() map[string]Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Result, len(p.latest))
	for k, v := range p.latest {
		out[k] = v
	}
	return out
}
