package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Sweeper reclaims cache files whose age exceeds the retention period. It
// runs on its own schedule, owns no locks, and relies on delete being atomic:
// concurrent readers of a swept file see the I/O-error path, never a partial
// artifact. It also reclaims staging files left behind by productions that
// died before finalizing.
type Sweeper struct {
	root       string
	retention  time.Duration
	interval   time.Duration
	stagingTTL time.Duration
	logger     *log.Logger
	onEvict    func()
}

// NewSweeper builds a sweeper over the cache root. Staging files older than
// stagingTTL are treated as orphans; no live production outlasts the fetch
// timeout, so that is the natural value. A non-positive stagingTTL falls back
// to the retention period. onEvict, when non-nil, is called once per deleted
// artifact; staging orphans do not count as evictions.
func NewSweeper(root string, retention, interval, stagingTTL time.Duration, logger *log.Logger, onEvict func()) *Sweeper {
	if logger == nil {
		logger = log.Default()
	}
	if stagingTTL <= 0 {
		stagingTTL = retention
	}
	return &Sweeper{
		root:       root,
		retention:  retention,
		interval:   interval,
		stagingTTL: stagingTTL,
		logger:     logger,
		onEvict:    onEvict,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs a single pass and returns how many files were deleted. A
// missing directory is a no-op; individual deletion failures are logged and
// skipped, never fatal.
func (s *Sweeper) Sweep() int {
	deleted := 0

	for _, name := range s.sweepDir(s.root, s.retention) {
		s.logger.Info("deleted expired artifact", "file", name)
		deleted++
		if s.onEvict != nil {
			s.onEvict()
		}
	}

	for _, name := range s.sweepDir(filepath.Join(s.root, stagingDirName), s.stagingTTL) {
		s.logger.Info("deleted orphaned staging file", "file", name)
		deleted++
	}

	return deleted
}

func (s *Sweeper) sweepDir(dir string, maxAge time.Duration) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("sweep: list directory", "dir", dir, "err", err)
		}
		return nil
	}

	now := time.Now()
	var removed []string

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("sweep: delete expired file", "file", entry.Name(), "err", err)
			continue
		}

		removed = append(removed, entry.Name())
	}

	return removed
}
