package mediaconfig

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ghisgit/media-organizer/internal/mlog"
)

// Snapshot holds the live configuration plus the source file's last known
// modification time, and arbitrates hot reload. Readers call Get, which
// never blocks for long (spec.md §5: "readers under a shared lock; writer
// swaps entries atomically"); the supervisor calls CheckReload on its
// control tick.
type Snapshot struct {
	path    string
	mu      sync.RWMutex
	current *Config
	modTime time.Time
	logger  *mlog.Logger
}

// NewSnapshot loads path and returns a Snapshot wrapping the result.
func NewSnapshot(path string, logger *mlog.Logger) (*Snapshot, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration invalid")
	}
	modTime := modTimeOrZero(path)
	return &Snapshot{path: path, current: cfg, modTime: modTime, logger: logger}, nil
}

// Get returns the current configuration. The returned pointer must be
// treated as immutable by the caller.
func (s *Snapshot) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// CheckReload re-reads the source file only if its modification time has
// advanced, validates the result, and merges in the runtime-safe fields
// (spec.md §9: hot reload). A failed validation leaves the prior
// configuration in place and logs a warning (spec.md §7, config-invalid).
// It reports whether a reload was applied.
func (s *Snapshot) CheckReload() bool {
	modTime := modTimeOrZero(s.path)
	if modTime.IsZero() || !modTime.After(s.modTime) {
		return false
	}

	next, err := Load(s.path)
	if err != nil {
		s.logger.WarnErr(err, "configuration reload: parse failed, keeping prior configuration")
		return false
	}
	if err := next.Validate(); err != nil {
		s.logger.WarnErr(err, "configuration reload: validation failed, keeping prior configuration")
		return false
	}

	s.mu.Lock()
	merged := HotReloadable(s.current, next)
	s.current = merged
	s.modTime = modTime
	s.mu.Unlock()

	mlog.SetLevel(levelOrInfo(merged.LogLevel))
	s.logger.Info("configuration reloaded")
	return true
}

func levelOrInfo(name string) mlog.Level {
	level, ok := mlog.ParseLevel(name)
	if !ok {
		return mlog.LevelInfo
	}
	return level
}

func modTimeOrZero(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
