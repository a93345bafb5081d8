package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneShotDryRunDoesNotTouchFilesystem(t *testing.T) {
	dir := t.TempDir()
	ai := fakeChatServer(t)
	defer ai.Close()

	configPath := writeTestConfig(t, dir, ai.URL)

	oneShot, err := NewOneShot(configPath, true)
	require.NoError(t, err)
	defer oneShot.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	oneShot.Run(ctx)

	source := filepath.Join(dir, "incoming", "arrival.mkv")
	require.NoError(t, os.WriteFile(source, []byte("movie bytes"), 0o644))
	oneShot.Admit(source)

	drainCtx, drainCancel := context.WithTimeout(ctx, 5*time.Second)
	defer drainCancel()
	snap := oneShot.Drain(drainCtx)

	assert.EqualValues(t, 1, snap.Succeeded)
	assert.EqualValues(t, 0, snap.Failed)

	target := filepath.Join(dir, "library", "电影", "Arrival (2016)", "Arrival (2016).mkv")
	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr), "dry run must not create the published file")
}
