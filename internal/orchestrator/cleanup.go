package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CleanupTemps removes output temp files in dir (TempPrefix*.tmp) older
// than maxAge. Files for which inUse returns true are kept. It returns the
// number of removed files.
func CleanupTemps(dir string, maxAge time.Duration, inUse func(path string) bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	now := time.Now()
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, TempPrefix) || !strings.HasSuffix(name, ".tmp") {
			continue
		}
		path := filepath.Join(dir, name)
		if inUse != nil && inUse(path) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("temp", path).Msg("stale temp removal failed")
			continue
		}
		removed++
		log.Info().Str("temp", path).Msg("stale temp removed")
	}
	return removed
}
