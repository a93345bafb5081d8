package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasVideoExtensionCaseInsensitive(t *testing.T) {
	assert.True(t, HasVideoExtension("movie.MKV"))
	assert.True(t, HasVideoExtension("movie.mp4"))
	assert.False(t, HasVideoExtension("readme.txt"))
}

func TestMatchesAnyGlob(t *testing.T) {
	patterns := []string{"**/sample/**", "*.tmp"}
	assert.True(t, MatchesAnyGlob("/library/sample/clip.mp4", patterns))
	assert.True(t, MatchesAnyGlob("/library/incoming/partial.tmp", patterns))
	assert.False(t, MatchesAnyGlob("/library/incoming/movie.mkv", patterns))
}

func TestScanYieldsOnlyVideoFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "movie.mkv"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sample"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample", "trailer.mp4"), []byte("x"), 0o644))

	var got []Candidate
	err := Scan(dir, Options{IgnorePatterns: []string{"**/sample/**"}}, func(c Candidate) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, filepath.Join(dir, "movie.mkv"), got[0].Path)
}

func TestScanAppliesMinSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "small.mkv"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.mkv"), make([]byte, 1024), 0o644))

	var got []Candidate
	err := Scan(dir, Options{MinSize: 100}, func(c Candidate) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, filepath.Join(dir, "big.mkv"), got[0].Path)
}
