package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/questionextractor/internal/extraction"
)

// CleanupUploads removes files in dir older than maxAge. Uploads of running
// extractions are young and removed by their worker, so only abandoned files
// from a previous process match.
func CleanupUploads(dir string, maxAge time.Duration, now time.Time) int {
	if maxAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", dir).Msg("upload sweep: read dir failed")
		}
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil {
			log.Warn().Err(err).Str("file", p).Msg("upload sweep: remove failed")
			continue
		}
		removed++
	}
	return removed
}

// Janitor periodically evicts old terminal tasks and sweeps stale uploads.
type Janitor struct {
	Registry     *extraction.Registry
	Retention    time.Duration
	UploadDir    string
	UploadMaxAge time.Duration
	Interval     time.Duration
}

// Sweep runs one pass and returns the number of evicted tasks and removed uploads.
func (j Janitor) Sweep(now time.Time) (evicted, removed int) {
	if j.Retention > 0 && j.Registry != nil {
		evicted = j.Registry.Evict(now.Add(-j.Retention))
	}
	removed = CleanupUploads(j.UploadDir, j.UploadMaxAge, now)
	if evicted > 0 || removed > 0 {
		log.Info().Int("evicted_tasks", evicted).Int("removed_uploads", removed).Msg("janitor sweep")
	}
	return evicted, removed
}

// Run sweeps every Interval until ctx is done.
func (j Janitor) Run(ctx context.Context) {
	if j.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			j.Sweep(now)
		}
	}
}
