// Package scanner walks a directory tree and yields candidate video files,
// per spec.md §4.9.
package scanner

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// VideoExtensions is the case-insensitive extension set spec.md §6 names.
var VideoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".webm": true, ".m4v": true, ".mpg": true, ".mpeg": true,
	".rm": true, ".rmvb": true, ".ts": true, ".m2ts": true, ".3gp": true,
	".asf": true, ".f4v": true, ".m2t": true, ".mts": true, ".ogv": true,
	".qt": true, ".vob": true, ".dat": true,
}

// HasVideoExtension reports whether path's extension is a known video
// extension, case-insensitively.
func HasVideoExtension(path string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(path))]
}

// MatchesAnyGlob reports whether path matches any of the given doublestar
// glob patterns.
func MatchesAnyGlob(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// Candidate is one discovered file with its size at discovery time.
type Candidate struct {
	Path string
	Size int64
}

// Options controls a single scan pass.
type Options struct {
	// IgnorePatterns are doublestar globs; a matching file is skipped.
	IgnorePatterns []string
	// MinSize, if > 0, filters out files below the threshold. Per spec.md
	// §4.9 this is used only for initial scans, where files are assumed
	// already stable.
	MinSize int64
}

// Scan walks root and invokes visit for each regular file with a known
// video extension that does not match any ignore pattern (and, if
// opts.MinSize > 0, meets the minimum size). It does not perform stability
// or ledger checks; those belong to the pipeline.
func Scan(root string, opts Options, visit func(Candidate) error) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Skip unreadable entries rather than aborting the whole walk.
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !HasVideoExtension(path) {
			return nil
		}
		if MatchesAnyGlob(path, opts.IgnorePatterns) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if opts.MinSize > 0 && info.Size() < opts.MinSize {
			return nil
		}

		return visit(Candidate{Path: path, Size: info.Size()})
	})
	if err != nil {
		return errors.Wrapf(err, "unable to scan %s", root)
	}
	return nil
}
