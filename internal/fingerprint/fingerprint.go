// Package fingerprint computes a content digest for a file via a streaming
// read, used by the pipeline's hashing stage for digest-based idempotence
// (spec.md §4.1, "Hashing stage").
package fingerprint

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
	"lukechampine.com/blake3"
)

// chunkSize is the read granularity used while streaming the file, matching
// spec.md §4.1's "streams the file (4 KiB chunks)".
const chunkSize = 4096

// Size is the digest length in bytes (128 bits, per spec.md's glossary
// entry for Digest).
const Size = 16

// Of streams path and returns its hex-encoded content digest. It is safe to
// call concurrently on distinct paths; it opens the file read-only and
// never holds it open longer than the read itself.
func Of(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "unable to open file for hashing")
	}
	defer f.Close()

	hasher := blake3.New(Size, nil)
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
		return "", errors.Wrap(err, "unable to read file for hashing")
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
