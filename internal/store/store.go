package store

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"audiograb/internal/media"
	"audiograb/internal/models"
)

// ErrUnsafePath marks a requested filename that tried to escape the cache
// directory. It must be returned before any filesystem access happens.
var ErrUnsafePath = errors.New("unsafe artifact filename")

const stagingDirName = ".staging"

// Store owns the flat cache directory: one {id}.mp3 per artifact, no index
// on disk. It watches the directory and keeps an in-memory snapshot so
// callers can answer existence and freshness questions without re-probing
// every file per request.
type Store struct {
	root      string
	retention time.Duration
	watcher   *fsnotify.Watcher
	logger    *log.Logger

	mu        sync.RWMutex
	artifacts []models.Artifact

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	refreshDelay time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// ArtifactID derives the stable cache identifier for a remote reference.
func ArtifactID(reference string) string {
	sum := md5.Sum([]byte(reference))
	return hex.EncodeToString(sum[:])
}

// New creates a Store over root and starts watching it for changes.
func New(root string, retention, debounce time.Duration, logger *log.Logger) (*Store, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = log.Default()
	}

	abs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		watcher.Close()
		return nil, err
	}

	s := &Store{
		root:         abs,
		retention:    retention,
		watcher:      watcher,
		logger:       logger,
		refreshDelay: debounce,
		done:         make(chan struct{}),
	}

	if err := os.MkdirAll(s.StagingDir(), 0o755); err != nil {
		watcher.Close()
		return nil, err
	}

	if err := watcher.Add(abs); err != nil {
		watcher.Close()
		return nil, err
	}

	if err := s.refresh(); err != nil {
		watcher.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// Close stops the watcher and cleans up resources.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.refreshMu.Lock()
		if s.refreshTimer != nil {
			s.refreshTimer.Stop()
			s.refreshTimer = nil
		}
		s.refreshMu.Unlock()

		s.closeErr = s.watcher.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

// Root returns the absolute cache directory.
func (s *Store) Root() string {
	return s.root
}

// StagingDir returns the directory productions write into before an artifact
// becomes visible under its final name. It lives inside the cache root so
// the final rename stays on one filesystem, and being a directory it is
// invisible to both the index and the sweeper.
func (s *Store) StagingDir() string {
	return filepath.Join(s.root, stagingDirName)
}

// List returns a snapshot of the indexed artifacts.
func (s *Store) List() []models.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Artifact, len(s.artifacts))
	copy(result, s.artifacts)
	return result
}

// Lookup reports the indexed artifact for id, if present.
func (s *Store) Lookup(id string) (models.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.artifacts {
		if a.ID == id {
			return a, true
		}
	}
	return models.Artifact{}, false
}

// Resolve validates a client-supplied filename and returns its absolute path
// inside the cache directory. The cache is flat, so any filename carrying a
// path separator or traversal sequence is rejected without touching the
// filesystem; that also keeps the staging area out of reach of the delivery
// route while a production is still writing.
func (s *Store) Resolve(filename string) (string, error) {
	if filename == "" || strings.Contains(filename, "..") ||
		strings.ContainsAny(filename, `/\`) {
		return "", ErrUnsafePath
	}

	return filepath.Join(s.root, filename), nil
}

// FinalPath returns where the completed artifact for id lives.
func (s *Store) FinalPath(id string) string {
	return filepath.Join(s.root, id+".mp3")
}

// Finalize atomically publishes a staged file under its final name. Readers
// either see the complete artifact or nothing.
func (s *Store) Finalize(staged, id string) (string, error) {
	final := s.FinalPath(id)
	if err := os.Rename(staged, final); err != nil {
		return "", fmt.Errorf("finalize %s: %w", id, err)
	}
	return final, nil
}

func (s *Store) run() {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("cache watcher error", "err", err)
		case <-s.done:
			return
		}
	}
}

func (s *Store) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if !isArtifactName(event.Name) && event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	s.scheduleRefresh()
}

func (s *Store) refresh() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			entries = nil
		} else {
			return err
		}
	}

	var artifacts []models.Artifact
	for _, entry := range entries {
		if entry.IsDir() || !isArtifactName(entry.Name()) {
			continue
		}

		artifact, err := media.Inspect(filepath.Join(s.root, entry.Name()), s.retention)
		if err != nil {
			s.logger.Warn("inspect artifact", "file", entry.Name(), "err", err)
			continue
		}
		artifacts = append(artifacts, artifact)
	}

	sort.SliceStable(artifacts, func(i, j int) bool {
		return artifacts[i].Filename < artifacts[j].Filename
	})

	s.mu.Lock()
	s.artifacts = artifacts
	s.mu.Unlock()

	s.logger.Debug("cache index refreshed", "artifacts", len(artifacts))
	return nil
}

func (s *Store) scheduleRefresh() {
	select {
	case <-s.done:
		return
	default:
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(s.refreshDelay, func() {
		if err := s.refresh(); err != nil {
			s.logger.Warn("cache refresh error", "err", err)
		}

		s.refreshMu.Lock()
		if s.refreshTimer == timer {
			s.refreshTimer = nil
		}
		s.refreshMu.Unlock()
	})

	s.refreshTimer = timer
}

func isArtifactName(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".mp3")
}
