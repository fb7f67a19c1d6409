package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("WATCH_DIRS", "")
	cfg := FromEnv()
	assert.Equal(t, 300, cfg.Convert.MaxDPI)
	assert.Equal(t, 4000, cfg.Convert.MaxDimension)
	assert.Equal(t, 20, cfg.Convert.JBIG2BatchSize)
	assert.Equal(t, 44.0, cfg.Convert.JP2PSNR)
	assert.GreaterOrEqual(t, cfg.Convert.JP2Pool, 1)
	assert.Empty(t, cfg.Redis.URL)
	assert.Empty(t, cfg.Worker.WatchDirs)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "6")
	t.Setenv("SCAN_INTERVAL", "2m")
	t.Setenv("WATCH_DIRS", " /a, ,/b ")
	t.Setenv("JBIG2_THRESHOLD", "0.9")
	t.Setenv("JP2_POOL_SIZE", "3")
	t.Setenv("RENDER_MAX_DPI", "not-a-number")
	t.Setenv("VERIFY_PROBE", "yes")
	cfg := FromEnv()
	assert.Equal(t, 6, cfg.Worker.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Worker.ScanInterval)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Worker.WatchDirs)
	assert.Equal(t, 0.9, cfg.Convert.JBIG2Threshold)
	assert.Equal(t, 3, cfg.Convert.JP2Pool)
	assert.Equal(t, 300, cfg.Convert.MaxDPI, "invalid values fall back")
	assert.True(t, cfg.Verify.Probe)
}
