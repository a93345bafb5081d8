package health

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghisgit/media-organizer/internal/dbpool"
	"github.com/ghisgit/media-organizer/internal/mediaconfig"
)

func TestDatabaseProbeSucceedsAgainstOpenPool(t *testing.T) {
	pool, err := dbpool.Open(filepath.Join(t.TempDir(), "probe.db"), dbpool.DefaultConfig())
	require.NoError(t, err)
	defer pool.Close()

	probe := DatabaseProbe("ledger", pool)
	assert.NoError(t, probe.Check(context.Background()))
}

func TestFilesystemProbeChecksReadAndWrite(t *testing.T) {
	dir := t.TempDir()
	library := filepath.Join(dir, "library")

	probe := FilesystemProbe([]string{dir}, library)
	assert.NoError(t, probe.Check(context.Background()))
}

func TestFilesystemProbeFailsForMissingMonitorDirectory(t *testing.T) {
	probe := FilesystemProbe([]string{"/nonexistent/path/for/test"}, t.TempDir())
	assert.Error(t, probe.Check(context.Background()))
}

func TestDependencyConfigProbeFailsWithoutAPIKeys(t *testing.T) {
	cfg := mediaconfig.Default()
	cfg.AIType = mediaconfig.AIDeepseek

	probe := DependencyConfigProbe(cfg)
	assert.Error(t, probe.Check(context.Background()))
}

func TestDependencyConfigProbePassesWithAPIKeys(t *testing.T) {
	cfg := mediaconfig.Default()
	cfg.AIType = mediaconfig.AIDeepseek
	cfg.AIEndpoints[mediaconfig.AIDeepseek] = mediaconfig.ServiceEndpoint{APIKey: "key"}
	cfg.TMDBAPIKey = "tmdb-key"

	probe := DependencyConfigProbe(cfg)
	assert.NoError(t, probe.Check(context.Background()))
}

func TestReadCPUTimesParsesProcStat(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("/proc/stat is linux-only")
	}
	times, err := readCPUTimes()
	require.NoError(t, err)
	assert.Greater(t, times.total, uint64(0))
	assert.LessOrEqual(t, times.idle, times.total)
}

func TestReadLinuxCPUPercentReturnsAPlausibleReading(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("/proc/stat is linux-only")
	}
	percent := readLinuxCPUPercent(context.Background())
	assert.GreaterOrEqual(t, percent, 0.0)
	assert.LessOrEqual(t, percent, 100.0)
}

func TestReadLinuxCPUPercentReturnsZeroWhenContextCancelledDuringSample(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 0.0, readLinuxCPUPercent(ctx))
}

func TestResourceProbeSetsGauges(t *testing.T) {
	probe := ResourceProbe(t.TempDir())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, probe.Check(ctx))
}
