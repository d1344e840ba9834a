// Package metastore implements the two-layer metadata store:
// a parse cache (what the tag parser last yielded) and a user override,
// each a map from root-relative path to partial model.Metadata plus a
// "do-not-retry" failure set, debounce-saved to an injected persist.Store.
package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nilsgravlund/afidb/pkg/debounce"
	"github.com/nilsgravlund/afidb/pkg/model"
	"github.com/nilsgravlund/afidb/pkg/persist"
)

// ErrInvalidPath is returned when a caller supplies a path that does not
// resolve under the store's root.
var ErrInvalidPath = model.ErrInvalidPath

// wireEntry is the JSON-serializable shape of a Metadata record; it mirrors
// model.Metadata field-for-field so the on-disk format stays stable even if
// the in-memory struct's method set grows.
type wireEntry struct {
	OriginalPath string   `json:"originalPath"`
	Artist       string   `json:"artist,omitempty"`
	AlbumArtist  string   `json:"albumArtist,omitempty"`
	Album        string   `json:"album,omitempty"`
	Title        string   `json:"title,omitempty"`
	Track        int      `json:"track,omitempty"`
	Year         int      `json:"year,omitempty"`
	DiskName     string   `json:"diskName,omitempty"`
	VAType       string   `json:"vatype,omitempty"`
	Variations   []string `json:"variations,omitempty"`
	Featuring    []string `json:"featuring,omitempty"`
}

type wireFormat struct {
	Entries  map[string]wireEntry `json:"entries"`
	Failures []string             `json:"failures"`
}

// Store is one layer (cache or override) of the two-layer metadata store
// for a single AFI root.
type Store struct {
	root     string
	persist  persist.Store
	itemName string
	deb      *debounce.Debouncer

	mu       sync.RWMutex
	entries  map[string]model.Metadata
	failures map[string]struct{}
	loaded   bool
	dirty    bool
}

// New returns a Store rooted at root (an absolute directory), persisting
// as itemName on store, debouncing saves by delay.
func New(root string, store persist.Store, itemName string, delay time.Duration) *Store {
	s := &Store{
		root:     root,
		persist:  store,
		itemName: itemName,
		entries:  make(map[string]model.Metadata),
		failures: make(map[string]struct{}),
	}
	s.deb = debounce.New(delay, s.saveLocked)
	return s
}

// Load populates the store from persist.Store. Idempotent: once
// successfully loaded, subsequent calls are no-ops. A missing persisted
// blob is a successful empty load that requests no further action (the
// store stays clean until the first mutation).
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	raw, ok, err := s.persist.GetItem(ctx, s.itemName)
	if err != nil {
		return fmt.Errorf("metastore: load %q: %w", s.itemName, err)
	}
	s.loaded = true
	if !ok || raw == "" {
		return nil
	}
	var wf wireFormat
	if err := json.Unmarshal([]byte(raw), &wf); err != nil {
		return fmt.Errorf("metastore: decode %q: %w", s.itemName, err)
	}
	for p, e := range wf.Entries {
		s.entries[p] = fromWire(e)
	}
	for _, p := range wf.Failures {
		s.failures[p] = struct{}{}
	}
	return nil
}

// RelPath resolves an absolute path to a root-relative, forward-slash path.
// It fails with ErrInvalidPath when absPath does not resolve under root.
func (s *Store) RelPath(absPath string) (string, error) {
	rel, err := filepath.Rel(s.root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", ErrInvalidPath
	}
	return filepath.ToSlash(rel), nil
}

// Get returns the stored metadata for relPath, if any.
func (s *Store) Get(relPath string) (model.Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.entries[relPath]
	return md, ok
}

// Set stores md under relPath. A no-op (store stays clean, no save is
// scheduled) when the new value is semantically equal to what's already
// stored.
func (s *Store) Set(relPath string, md model.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[relPath]; ok && existing.Equal(md) {
		return
	}
	s.entries[relPath] = md
	s.dirty = true
	s.deb.Schedule()
}

// Delete removes relPath's stored metadata, if present.
func (s *Store) Delete(relPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[relPath]; !ok {
		return
	}
	delete(s.entries, relPath)
	s.dirty = true
	s.deb.Schedule()
}

// MarkFailed records relPath in the do-not-retry set.
func (s *Store) MarkFailed(relPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.failures[relPath]; ok {
		return
	}
	s.failures[relPath] = struct{}{}
	s.dirty = true
	s.deb.Schedule()
}

// ShouldRetry reports whether relPath is NOT in the do-not-retry set.
func (s *Store) ShouldRetry(relPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, failed := s.failures[relPath]
	return !failed
}

// ClearFailure removes relPath from the do-not-retry set, e.g. when the
// file has changed since the last failed parse attempt.
func (s *Store) ClearFailure(relPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.failures[relPath]; !ok {
		return
	}
	delete(s.failures, relPath)
	s.dirty = true
	s.deb.Schedule()
}

// Flush forces the pending save to fire immediately.
func (s *Store) Flush(ctx context.Context) error {
	return s.deb.Trigger()
}

func (s *Store) saveLocked() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	wf := wireFormat{Entries: make(map[string]wireEntry, len(s.entries))}
	for p, md := range s.entries {
		wf.Entries[p] = toWire(md)
	}
	for p := range s.failures {
		wf.Failures = append(wf.Failures, p)
	}
	s.dirty = false
	s.mu.Unlock()

	raw, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("metastore: encode: %w", err)
	}
	return s.persist.SetItem(context.Background(), s.itemName, string(raw))
}

func toWire(md model.Metadata) wireEntry {
	return wireEntry{
		OriginalPath: md.OriginalPath,
		Artist:       md.Artist,
		AlbumArtist:  md.AlbumArtist,
		Album:        md.Album,
		Title:        md.Title,
		Track:        md.Track,
		Year:         md.Year,
		DiskName:     md.DiskName,
		VAType:       string(md.VAType),
		Variations:   md.Variations,
		Featuring:    md.Featuring,
	}
}

func fromWire(e wireEntry) model.Metadata {
	return model.Metadata{
		OriginalPath: e.OriginalPath,
		Artist:       e.Artist,
		AlbumArtist:  e.AlbumArtist,
		Album:        e.Album,
		Title:        e.Title,
		Track:        e.Track,
		Year:         e.Year,
		DiskName:     e.DiskName,
		VAType:       model.VAType(e.VAType),
		Variations:   e.Variations,
		Featuring:    e.Featuring,
	}
}
