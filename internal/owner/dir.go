// Package owner provides a filesystem directory as a conversion owner.
package owner

import (
	"crypto/sha1"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/djvupdf/internal/orchestrator"
)

// Suffixes of sibling files that mark a download in progress.
var partialSuffixes = []string{".part", ".!qB", ".crdownload"}

// Dir is an owner backed by a directory tree. A file counts as complete
// when no partial-download sibling exists and it has not been modified for
// the settle time.
type Dir struct {
	root   string
	id     string
	settle time.Duration
	now    func() time.Time
}

// NewDir returns an owner for root. The id is derived from the absolute
// path, so it is stable across restarts.
func NewDir(root string, settle time.Duration) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	sum := sha1.Sum([]byte(abs))
	return &Dir{root: abs, id: hex.EncodeToString(sum[:6]), settle: settle, now: time.Now}, nil
}

func (d *Dir) ID() string   { return d.id }
func (d *Dir) Name() string { return d.root }

// Files lists every regular file below the root, skipping hidden entries.
func (d *Dir) Files() []orchestrator.File {
	var out []orchestrator.File
	err := filepath.WalkDir(d.root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if strings.HasPrefix(e.Name(), ".") && path != d.root {
			if e.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if e.Type().IsRegular() {
			out = append(out, orchestrator.File{Name: e.Name(), Path: path})
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("dir", d.root).Msg("directory walk failed")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Progress is 1 for a settled file and 0 otherwise.
func (d *Dir) Progress(f orchestrator.File) float64 {
	for _, s := range partialSuffixes {
		if _, err := os.Stat(f.Path + s); err == nil {
			return 0
		}
	}
	st, err := os.Stat(f.Path)
	if err != nil {
		return 0
	}
	if d.now().Sub(st.ModTime()) < d.settle {
		return 0
	}
	return 1
}
