package publisher

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/pkg/errors"

	"github.com/ghisgit/media-organizer/internal/mediaconfig"
)

// materialize creates target pointing at (or containing a copy of) source,
// trying the configured method first and falling back per spec.md §4.8:
// hardlink → symlink (on cross-device failure) → byte-copy (on symlink
// failure), preserving timestamps on the copy path.
func materialize(source, target string, method mediaconfig.LinkMethod) error {
	switch method {
	case mediaconfig.LinkSymlink:
		if err := trySymlink(source, target); err == nil {
			return nil
		}
		return copyFile(source, target)
	case mediaconfig.LinkCopy:
		return copyFile(source, target)
	case mediaconfig.LinkHardlink, "":
		fallthrough
	default:
		if err := tryHardlink(source, target); err == nil {
			return nil
		} else if !isCrossDevice(err) {
			return errors.Wrap(err, "unable to create hardlink")
		}
		if err := trySymlink(source, target); err == nil {
			return nil
		}
		return copyFile(source, target)
	}
}

func tryHardlink(source, target string) error {
	return os.Link(source, target)
}

func trySymlink(source, target string) error {
	absSource, err := filepath.Abs(source)
	if err != nil {
		return errors.Wrap(err, "unable to resolve absolute source path")
	}
	return os.Symlink(absSource, target)
}

// isCrossDevice reports whether err represents a cross-device link
// failure (EXDEV), the trigger for the hardlink→symlink fallback.
func isCrossDevice(err error) bool {
	if runtime.GOOS == "windows" {
		// Hardlinks across volumes fail with a distinct Windows error that
		// os.Link surfaces as a generic *LinkError; treat any hardlink
		// failure as fallback-worthy there.
		return true
	}
	return errors.Is(err, syscall.EXDEV)
}

func copyFile(source, target string) error {
	src, err := os.Open(source)
	if err != nil {
		return errors.Wrap(err, "unable to open source file for copy")
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return errors.Wrap(err, "unable to stat source file")
	}

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return errors.Wrap(err, "unable to create target file for copy")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrap(err, "unable to copy file contents")
	}
	if err := dst.Close(); err != nil {
		return errors.Wrap(err, "unable to finalize copied file")
	}

	modTime := info.ModTime()
	if err := os.Chtimes(target, modTime, modTime); err != nil {
		return errors.Wrap(err, "unable to preserve timestamps on copy")
	}
	return nil
}
