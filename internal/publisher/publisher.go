// Package publisher implements the library-layout publisher described in
// spec.md §4.8: target path computation and link materialization with
// automatic fallback.
package publisher

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ghisgit/media-organizer/internal/mediaconfig"
)

// forbiddenChars are stripped from titles during sanitization, per
// spec.md §4.8.
const forbiddenChars = `<>:"/\|?*`

// Sanitize removes forbidden filesystem characters from a title and trims
// surrounding whitespace.
func Sanitize(title string) string {
	var b strings.Builder
	for _, r := range title {
		if strings.ContainsRune(forbiddenChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Kind is the media kind being published.
type Kind string

const (
	KindMovie  Kind = "movie"
	KindSeries Kind = "series"
)

// Request describes one publish operation.
type Request struct {
	SourcePath  string
	Kind        Kind
	Title       string
	Year        int
	Season      int
	Episode     int
	IsAnimation bool
}

// Publisher computes target paths under a library root and materializes
// links.
type Publisher struct {
	libraryRoot    string
	animeDirectory string
	linkMethod     mediaconfig.LinkMethod
	dryRun         bool
}

// New constructs a Publisher rooted at libraryRoot, using animeDirectory as
// the optional anime segment and the given default link method.
func New(libraryRoot, animeDirectory string, linkMethod mediaconfig.LinkMethod) *Publisher {
	return &Publisher{libraryRoot: libraryRoot, animeDirectory: animeDirectory, linkMethod: linkMethod}
}

// SetDryRun toggles dry-run mode, used by mediad's one-shot --test flag:
// Publish still computes and returns the target path but never touches the
// filesystem.
func (p *Publisher) SetDryRun(dryRun bool) { p.dryRun = dryRun }

// TargetPath computes the canonical destination path for req, per spec.md
// §4.8's movie and series layout rules.
func (p *Publisher) TargetPath(req Request) string {
	ext := filepath.Ext(req.SourcePath)
	title := Sanitize(req.Title)

	segments := []string{p.libraryRoot}
	if req.IsAnimation && p.animeDirectory != "" {
		segments = append(segments, p.animeDirectory)
	}

	switch req.Kind {
	case KindMovie:
		segments = append(segments, "电影", fmt.Sprintf("%s (%d)", title, req.Year))
		filename := fmt.Sprintf("%s (%d)%s", title, req.Year, ext)
		return filepath.Join(append(segments, filename)...)
	case KindSeries:
		segments = append(segments, "电视", fmt.Sprintf("%s (%d)", title, req.Year), fmt.Sprintf("Season %02d", req.Season))
		filename := fmt.Sprintf("%s S%02dE%02d%s", title, req.Season, req.Episode, ext)
		return filepath.Join(append(segments, filename)...)
	default:
		return ""
	}
}

// Publish materializes the link for req and returns the target path. If
// the target already exists, the operation is a no-op success (spec.md:
// idempotent publish).
func (p *Publisher) Publish(req Request) (string, error) {
	target := p.TargetPath(req)
	if target == "" {
		return "", errors.Errorf("unrecognized media kind %q", req.Kind)
	}

	if p.dryRun {
		return target, nil
	}

	if _, err := os.Stat(target); err == nil {
		return target, nil
	} else if !os.IsNotExist(err) {
		return "", errors.Wrap(err, "unable to stat target path")
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", errors.Wrap(err, "unable to create library directory tree")
	}

	if err := materialize(req.SourcePath, target, p.linkMethod); err != nil {
		return "", err
	}
	return target, nil
}
