// Package mediaconfig loads and hot-reloads the service's INI-style
// configuration file. Parsing the INI wire format itself is treated as an
// external collaborator's concern (spec.md lists "the configuration file
// parser (INI-style)" as out of scope); this package only owns the typed
// option set, defaults, and the snapshot/reload discipline described in
// spec.md §4.13 and §9.
package mediaconfig

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// LinkMethod is the configured library-publishing link strategy.
type LinkMethod string

const (
	LinkHardlink LinkMethod = "hardlink"
	LinkSymlink  LinkMethod = "symlink"
	LinkCopy     LinkMethod = "copy"
)

// AIBackend selects which generative-text identification backend is used.
type AIBackend string

const (
	AIDeepseek   AIBackend = "deepseek"
	AISpark      AIBackend = "spark"
	AIModelScope AIBackend = "model_scope"
	AIZhipu      AIBackend = "zhipu"
)

// ServiceEndpoint groups the three options recognized per-backend:
// <svc>_api_key, <svc>_url, <svc>_model.
type ServiceEndpoint struct {
	APIKey string
	URL    string
	Model  string
}

// Config is the fully typed, defaulted configuration snapshot. Readers get
// the current *Config from Snapshot.Get; a hot reload builds a new Config
// and swaps the pointer rather than mutating the one readers already hold.
type Config struct {
	// PATHS
	MonitorDirectories []string
	LibraryPath        string
	AnimeDirectory     string

	// AI
	AIType          AIBackend
	AIMaxConcurrent int
	AIMaxTokens     int
	AIEndpoints     map[AIBackend]ServiceEndpoint

	// TMDB
	TMDBAPIKey string
	TMDBProxy  string

	// DATABASE
	CacheExpireDays int
	LedgerDBPath    string
	CacheDBPath     string

	// SYSTEM
	LogLevel                   string
	InitialScan                bool
	WatchEvents                map[string]bool
	FileStableDelay            time.Duration
	IgnorePatterns             []string
	MaxFileWaitTime            time.Duration
	IgnoreFileSize             ByteSize
	FileRetryInterval          time.Duration
	MaxPendingFiles            int
	PerformanceMonitorInterval time.Duration
	UseMD5                     bool
	LinkMethod                 LinkMethod
	AutoReload                 bool
	WorkerThreads              int
	StabilityWorkerThreads     int
	MD5WorkerThreads           int
}

// Default returns the typed default configuration, matching spec.md §6's
// recognized-option table.
func Default() *Config {
	return &Config{
		MonitorDirectories: nil,
		LibraryPath:        "./library",
		AnimeDirectory:     "动漫",

		AIType:          AIDeepseek,
		AIMaxConcurrent: 5,
		AIMaxTokens:     256,
		AIEndpoints:     map[AIBackend]ServiceEndpoint{},

		TMDBAPIKey: "",
		TMDBProxy:  "",

		CacheExpireDays: 30,
		LedgerDBPath:    "processed_files.db",
		CacheDBPath:     "tmdb_cache.db",

		LogLevel:                   "info",
		InitialScan:                true,
		WatchEvents:                map[string]bool{"created": true, "moved": true},
		FileStableDelay:            2 * time.Second,
		IgnorePatterns:             nil,
		MaxFileWaitTime:            300 * time.Second,
		IgnoreFileSize:             10 * 1024 * 1024,
		FileRetryInterval:          2 * time.Second,
		MaxPendingFiles:            10000,
		PerformanceMonitorInterval: 5 * time.Minute,
		UseMD5:                     false,
		LinkMethod:                 LinkHardlink,
		AutoReload:                 true,
		WorkerThreads:              5,
		StabilityWorkerThreads:     2,
		MD5WorkerThreads:           2,
	}
}

// applyOption sets a single "key = value" pair, read from section
// "section", onto cfg. Unknown keys are ignored (forward compatible, mirrors
// the original implementation's permissive INI reader).
func applyOption(cfg *Config, section, key, value string) error {
	section = strings.ToUpper(section)
	switch section {
	case "PATHS":
		switch key {
		case "monitor_directories":
			cfg.MonitorDirectories = splitCSV(value)
		case "library_path":
			cfg.LibraryPath = value
		case "anime_directory":
			cfg.AnimeDirectory = value
		}
	case "AI":
		switch {
		case key == "ai_type":
			cfg.AIType = AIBackend(value)
		case key == "ai_max_concurrent":
			n, err := strconv.Atoi(value)
			if err != nil {
				return errors.Wrapf(err, "ai_max_concurrent")
			}
			cfg.AIMaxConcurrent = n
		case key == "ai_max_tokens":
			n, err := strconv.Atoi(value)
			if err != nil {
				return errors.Wrapf(err, "ai_max_tokens")
			}
			cfg.AIMaxTokens = n
		case strings.HasSuffix(key, "_api_key"), strings.HasSuffix(key, "_url"), strings.HasSuffix(key, "_model"):
			applyServiceEndpoint(cfg, key, value)
		}
	case "TMDB":
		switch key {
		case "tmdb_api_key":
			cfg.TMDBAPIKey = value
		case "tmdb_proxy":
			cfg.TMDBProxy = value
		}
	case "DATABASE":
		switch key {
		case "cache_expire_days":
			n, err := strconv.Atoi(value)
			if err != nil {
				return errors.Wrapf(err, "cache_expire_days")
			}
			cfg.CacheExpireDays = n
		case "ledger_db", "processed_db":
			cfg.LedgerDBPath = value
		case "cache_db", "tmdb_db":
			cfg.CacheDBPath = value
		}
	case "SYSTEM":
		return applySystemOption(cfg, key, value)
	}
	return nil
}

func applyServiceEndpoint(cfg *Config, key, value string) {
	var backend AIBackend
	var field string
	for _, b := range []AIBackend{AIDeepseek, AISpark, AIModelScope, AIZhipu} {
		prefix := string(b) + "_"
		if strings.HasPrefix(key, prefix) {
			backend = b
			field = strings.TrimPrefix(key, prefix)
			break
		}
	}
	if backend == "" {
		return
	}
	endpoint := cfg.AIEndpoints[backend]
	switch field {
	case "api_key":
		endpoint.APIKey = value
	case "url":
		endpoint.URL = value
	case "model":
		endpoint.Model = value
	}
	cfg.AIEndpoints[backend] = endpoint
}

func applySystemOption(cfg *Config, key, value string) error {
	switch key {
	case "log_level":
		cfg.LogLevel = value
	case "initial_scan":
		cfg.InitialScan = parseBool(value, cfg.InitialScan)
	case "watch_events":
		events := map[string]bool{}
		for _, e := range splitCSV(value) {
			events[strings.ToLower(e)] = true
		}
		if len(events) > 0 {
			cfg.WatchEvents = events
		}
	case "file_stable_delay":
		return assignSeconds(value, &cfg.FileStableDelay)
	case "ignore_patterns":
		cfg.IgnorePatterns = splitCSV(value)
	case "max_file_wait_time":
		return assignSeconds(value, &cfg.MaxFileWaitTime)
	case "ignore_file_size":
		size, err := parseByteSizeMiB(value)
		if err != nil {
			return errors.Wrap(err, "ignore_file_size")
		}
		cfg.IgnoreFileSize = size
	case "file_retry_interval":
		return assignSeconds(value, &cfg.FileRetryInterval)
	case "max_pending_files":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrap(err, "max_pending_files")
		}
		cfg.MaxPendingFiles = n
	case "performance_monitor_interval":
		return assignSeconds(value, &cfg.PerformanceMonitorInterval)
	case "use_md5":
		cfg.UseMD5 = parseBool(value, cfg.UseMD5)
	case "link_method":
		cfg.LinkMethod = LinkMethod(value)
	case "auto_reload":
		cfg.AutoReload = parseBool(value, cfg.AutoReload)
	case "worker_threads":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrap(err, "worker_threads")
		}
		cfg.WorkerThreads = n
	case "stability_worker_threads":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrap(err, "stability_worker_threads")
		}
		cfg.StabilityWorkerThreads = n
	case "md5_worker_threads":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrap(err, "md5_worker_threads")
		}
		cfg.MD5WorkerThreads = n
	}
	return nil
}

func assignSeconds(value string, dst *time.Duration) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return errors.Wrap(err, "expected a number of seconds")
	}
	*dst = time.Duration(f * float64(time.Second))
	return nil
}

func parseBool(value string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Validate enforces spec.md §7's config-invalid taxonomy: missing required
// keys or an invalid library root are fatal at startup (or, during a hot
// reload, cause the prior configuration to be retained).
func (c *Config) Validate() error {
	if len(c.MonitorDirectories) == 0 {
		return errors.New("monitor_directories must name at least one path")
	}
	if strings.TrimSpace(c.LibraryPath) == "" {
		return errors.New("library_path must be set")
	}
	switch c.LinkMethod {
	case LinkHardlink, LinkSymlink, LinkCopy:
	default:
		return errors.Errorf("invalid link_method %q", c.LinkMethod)
	}
	switch c.AIType {
	case AIDeepseek, AISpark, AIModelScope, AIZhipu:
	default:
		return errors.Errorf("invalid ai_type %q", c.AIType)
	}
	if c.WorkerThreads < 1 || c.StabilityWorkerThreads < 1 || c.MD5WorkerThreads < 1 {
		return errors.New("worker thread counts must each be >= 1")
	}
	return nil
}

// HotReloadable returns a copy of prev in which the runtime-changeable
// fields are taken from next: log level, link method, digest toggle, the
// three worker counts (for future spawns), ai_max_concurrent, ignore
// patterns, file retry interval, max file wait time, performance monitor
// interval, and cache expiry days. All other fields are retained from prev;
// changes to them, including monitored directories, require a restart.
// The merged LinkMethod updates the snapshot only; the running Publisher
// keeps the link method it was constructed with.
func HotReloadable(prev, next *Config) *Config {
	merged := *prev
	merged.LogLevel = next.LogLevel
	merged.LinkMethod = next.LinkMethod
	merged.UseMD5 = next.UseMD5
	merged.WorkerThreads = next.WorkerThreads
	merged.StabilityWorkerThreads = next.StabilityWorkerThreads
	merged.MD5WorkerThreads = next.MD5WorkerThreads
	merged.AIMaxConcurrent = next.AIMaxConcurrent
	merged.IgnorePatterns = next.IgnorePatterns
	merged.FileRetryInterval = next.FileRetryInterval
	merged.MaxFileWaitTime = next.MaxFileWaitTime
	merged.PerformanceMonitorInterval = next.PerformanceMonitorInterval
	merged.CacheExpireDays = next.CacheExpireDays
	return &merged
}
