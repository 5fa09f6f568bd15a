// Package state persists the last-synced snapshot for every tracked
// document.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/starford/laguz/internal/models"
)

// formatVersion is bumped when the on-disk layout changes.
const formatVersion = 1

// fileFormat is the on-disk JSON representation.
type fileFormat struct {
	Version int                            `json:"version"`
	State   map[string]models.SyncSnapshot `json:"state"`
}

// Store is the sync state store. A single process owns the backing file
// at a time, enforced with an advisory file lock taken at Open.
type Store struct {
	path string
	lock *flock.Flock

	mu    sync.RWMutex
	snaps map[string]models.SyncSnapshot
	dirty bool
}

// Open loads (or initialises) the state file at path and acquires its
// advisory lock. A second process opening the same file gets an error
// instead of a chance to race on writes.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state: mkdir: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("state: acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("state: %s is locked by another process", path)
	}

	s := &Store{
		path:  path,
		lock:  lock,
		snaps: make(map[string]models.SyncSnapshot),
	}
	if err := s.load(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("state: read %s: %w", s.path, err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return fmt.Errorf("state: parse %s: %w", s.path, err)
	}
	if ff.Version != formatVersion {
		return fmt.Errorf("state: %s has version %d, want %d", s.path, ff.Version, formatVersion)
	}
	if ff.State != nil {
		s.snaps = ff.State
	}
	return nil
}

// Get returns the snapshot for a document path.
func (s *Store) Get(path string) (models.SyncSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[path]
	return snap, ok
}

// Set records a snapshot for a document path.
func (s *Store) Set(path string, snap models.SyncSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[path] = snap
	s.dirty = true
}

// Clear removes the snapshot for a document path, untracking it.
func (s *Store) Clear(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snaps[path]; ok {
		delete(s.snaps, path)
		s.dirty = true
	}
}

// ReverseLookup finds the document path tracked under a remote id.
func (s *Store) ReverseLookup(remoteID string) (string, models.SyncSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for path, snap := range s.snaps {
		if snap.RemoteID == remoteID {
			return path, snap, true
		}
	}
	return "", models.SyncSnapshot{}, false
}

// Len returns the number of tracked documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}

// Flush writes the state to disk if it changed since the last flush.
// The write goes through a temp file and rename so a crash never leaves
// a half-written state file.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(fileFormat{Version: formatVersion, State: s.snaps}, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".laguz-state-*")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("state: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("state: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("state: rename: %w", err)
	}
	success = true
	s.dirty = false
	return nil
}

// Close flushes pending changes and releases the advisory lock.
func (s *Store) Close() error {
	flushErr := s.Flush()
	if err := s.lock.Unlock(); err != nil && flushErr == nil {
		flushErr = fmt.Errorf("state: release lock: %w", err)
	}
	return flushErr
}
