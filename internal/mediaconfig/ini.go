package mediaconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// parseINI performs a minimal, permissive parse of the INI-style dialect
// spec.md §6 describes: "[SECTION]" headers and "key = value" lines, with
// ";" and "#" comment prefixes and blank lines ignored. This parser exists
// only to satisfy the typed Config surface — the wire format itself is an
// out-of-scope external collaborator per spec.md §1 (see DESIGN.md for why
// no third-party INI library from the example pack is used here).
func parseINI(r *bufio.Scanner) (*Config, error) {
	cfg := Default()
	section := ""
	line := 0
	for r.Scan() {
		line++
		text := strings.TrimSpace(r.Text())
		if text == "" || strings.HasPrefix(text, ";") || strings.HasPrefix(text, "#") {
			continue
		}
		if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") {
			section = strings.TrimSpace(text[1 : len(text)-1])
			continue
		}
		idx := strings.Index(text, "=")
		if idx < 0 {
			return nil, errors.Errorf("line %d: expected key = value", line)
		}
		key := strings.TrimSpace(text[:idx])
		value := strings.TrimSpace(text[idx+1:])
		if err := applyOption(cfg, section, key, value); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the INI configuration at path. If the file does not exist, it
// is created with defaults written out (spec.md §6: "a missing file is
// created with defaults") and the defaults are returned.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		cfg := Default()
		if writeErr := WriteDefaults(path, cfg); writeErr != nil {
			return nil, errors.Wrap(writeErr, "unable to create default configuration")
		}
		return cfg, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "unable to open configuration")
	}
	defer file.Close()

	cfg, err := parseINI(bufio.NewScanner(file))
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration")
	}
	return cfg, nil
}

// WriteDefaults renders cfg as an INI file at path, creating parent
// directories as needed.
func WriteDefaults(path string, cfg *Config) error {
	var b strings.Builder
	fmt.Fprintln(&b, "[PATHS]")
	fmt.Fprintf(&b, "monitor_directories = %s\n", strings.Join(cfg.MonitorDirectories, ","))
	fmt.Fprintf(&b, "library_path = %s\n", cfg.LibraryPath)
	fmt.Fprintf(&b, "anime_directory = %s\n\n", cfg.AnimeDirectory)

	fmt.Fprintln(&b, "[AI]")
	fmt.Fprintf(&b, "ai_type = %s\n", cfg.AIType)
	fmt.Fprintf(&b, "ai_max_concurrent = %d\n", cfg.AIMaxConcurrent)
	fmt.Fprintf(&b, "ai_max_tokens = %d\n", cfg.AIMaxTokens)
	for _, backend := range []AIBackend{AIDeepseek, AISpark, AIModelScope, AIZhipu} {
		endpoint, ok := cfg.AIEndpoints[backend]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s_api_key = %s\n", backend, endpoint.APIKey)
		fmt.Fprintf(&b, "%s_url = %s\n", backend, endpoint.URL)
		fmt.Fprintf(&b, "%s_model = %s\n", backend, endpoint.Model)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[TMDB]")
	fmt.Fprintf(&b, "tmdb_api_key = %s\n", cfg.TMDBAPIKey)
	fmt.Fprintf(&b, "tmdb_proxy = %s\n\n", cfg.TMDBProxy)

	fmt.Fprintln(&b, "[DATABASE]")
	fmt.Fprintf(&b, "cache_expire_days = %d\n", cfg.CacheExpireDays)
	fmt.Fprintf(&b, "processed_db = %s\n", cfg.LedgerDBPath)
	fmt.Fprintf(&b, "tmdb_db = %s\n\n", cfg.CacheDBPath)

	fmt.Fprintln(&b, "[SYSTEM]")
	fmt.Fprintf(&b, "log_level = %s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "initial_scan = %t\n", cfg.InitialScan)
	fmt.Fprintf(&b, "link_method = %s\n", cfg.LinkMethod)
	fmt.Fprintf(&b, "use_md5 = %t\n", cfg.UseMD5)
	fmt.Fprintf(&b, "worker_threads = %d\n", cfg.WorkerThreads)
	fmt.Fprintf(&b, "stability_worker_threads = %d\n", cfg.StabilityWorkerThreads)
	fmt.Fprintf(&b, "md5_worker_threads = %d\n", cfg.MD5WorkerThreads)
	fmt.Fprintf(&b, "auto_reload = %t\n", cfg.AutoReload)
	fmt.Fprintf(&b, "file_stable_delay = %g\n", cfg.FileStableDelay.Seconds())
	fmt.Fprintf(&b, "max_file_wait_time = %g\n", cfg.MaxFileWaitTime.Seconds())
	fmt.Fprintf(&b, "ignore_file_size = %dB\n", int64(cfg.IgnoreFileSize))
	fmt.Fprintf(&b, "ignore_patterns = %s\n", strings.Join(cfg.IgnorePatterns, ","))
	fmt.Fprintf(&b, "file_retry_interval = %g\n", cfg.FileRetryInterval.Seconds())
	fmt.Fprintf(&b, "max_pending_files = %d\n", cfg.MaxPendingFiles)
	fmt.Fprintf(&b, "performance_monitor_interval = %g\n", cfg.PerformanceMonitorInterval.Seconds())
	if len(cfg.WatchEvents) > 0 {
		var events []string
		for name, enabled := range cfg.WatchEvents {
			if enabled {
				events = append(events, name)
			}
		}
		fmt.Fprintf(&b, "watch_events = %s\n", strings.Join(events, ","))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
