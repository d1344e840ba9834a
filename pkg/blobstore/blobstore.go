// Package blobstore implements a content-addressed, debounced-durable
// many-keys-to-one-payload store, used by the audio-file fragment for
// song artwork and by the aggregate database for album/artist artwork.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nilsgravlund/afidb/pkg/debounce"
	"github.com/nilsgravlund/afidb/pkg/model"
	"github.com/nilsgravlund/afidb/pkg/objstore"
	"github.com/nilsgravlund/afidb/pkg/persist"
	"github.com/nilsgravlund/afidb/pkg/xhash"
)

// Store maps caller-supplied string keys to a shared payload file in an
// objstore.ObjectStore backend. The index (key -> filename, and the
// reverse filename -> key-set used for reference counting) is held in
// memory and saved through a persist.Store on a 250ms trailing-edge
// debounce, matching the metadata store's durability model.
type Store struct {
	backend   objstore.ObjectStore
	index     persist.Store
	indexName string
	deb       *debounce.Debouncer

	mu         sync.Mutex
	seq        uint64
	keyToFile  map[string]string
	fileToKeys map[string]map[string]struct{}
	contentSum map[string]string // sha256 hex -> filename, for content-dedup reuse
	loaded     bool
}

// NewStore returns a Store that writes payloads to backend and persists
// its index as item indexName on index, debouncing saves by delay.
func NewStore(backend objstore.ObjectStore, index persist.Store, indexName string, delay time.Duration) *Store {
	s := &Store{
		backend:    backend,
		index:      index,
		indexName:  indexName,
		keyToFile:  make(map[string]string),
		fileToKeys: make(map[string]map[string]struct{}),
		contentSum: make(map[string]string),
	}
	s.deb = debounce.New(delay, s.saveLocked)
	return s
}

// Load populates the index from persist.Store. Idempotent: a second call
// is a no-op. A missing persisted blob is a successful empty load.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	raw, ok, err := s.index.GetItem(ctx, s.indexName)
	if err != nil {
		return fmt.Errorf("blobstore: load index: %w", err)
	}
	s.loaded = true
	if !ok {
		return nil
	}
	seq, keyToFile, fileToKeys, err := decodeIndex(raw)
	if err != nil {
		return fmt.Errorf("blobstore: decode index: %w", err)
	}
	s.seq = seq
	s.keyToFile = keyToFile
	s.fileToKeys = fileToKeys
	return nil
}

// Get returns the payload bytes stored under key, if any.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	file, ok := s.keyToFile[key]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	size, err := s.backend.Size(ctx, file)
	if err != nil {
		// The index names a payload that is gone from the backend.
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("blobstore: payload %q: %w", file, model.ErrMissingFile)
		}
		return nil, false, fmt.Errorf("blobstore: stat %q: %w", file, err)
	}
	rc, err := s.backend.GetRange(ctx, file, 0, size)
	if err != nil {
		return nil, false, fmt.Errorf("blobstore: read %q: %w", file, err)
	}
	defer rc.Close()
	buf := make([]byte, 0, size)
	chunk := make([]byte, 32*1024)
	for {
		n, rerr := rc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	return buf, true, nil
}

// Put stores data under key. If the same content (by sha256) is already
// stored under a different filename, the existing payload is reused and
// only the index grows. This is what makes the reference-counted delete
// meaningful: two keys frequently end up pointing at the same artwork
// bytes (an artist image reused as its only album's cover, for instance).
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])

	s.mu.Lock()
	if oldFile, had := s.keyToFile[key]; had {
		s.unlinkLocked(oldFile, key)
	}

	file, reused := s.contentSum[hexSum]
	if !reused {
		s.seq++
		file = "BLOB-" + xhash.EncodeFilename(s.seq)
	}
	s.keyToFile[key] = file
	if s.fileToKeys[file] == nil {
		s.fileToKeys[file] = make(map[string]struct{})
	}
	s.fileToKeys[file][key] = struct{}{}
	s.contentSum[hexSum] = file
	s.mu.Unlock()

	if !reused {
		if err := s.backend.Put(ctx, file, strings.NewReader(string(data)), int64(len(data))); err != nil {
			return fmt.Errorf("blobstore: put %q: %w", file, err)
		}
	}
	s.deb.Schedule()
	return nil
}

// Delete removes key from the index. The backing payload is only removed
// once every key referencing it has been deleted.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	file, ok := s.keyToFile[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	empty := s.unlinkLocked(file, key)
	s.mu.Unlock()

	if empty {
		if err := s.backend.Delete(ctx, file); err != nil {
			return fmt.Errorf("blobstore: delete %q: %w", file, err)
		}
	}
	s.deb.Schedule()
	return nil
}

// unlinkLocked removes key from file's key-set and, if applicable, the
// content-dedup map. Caller must hold s.mu. Returns true when file has no
// remaining referents.
func (s *Store) unlinkLocked(file, key string) bool {
	delete(s.keyToFile, key)
	set := s.fileToKeys[file]
	delete(set, key)
	if len(set) > 0 {
		return false
	}
	delete(s.fileToKeys, file)
	for sum, f := range s.contentSum {
		if f == file {
			delete(s.contentSum, sum)
		}
	}
	return true
}

// Clear removes every key and payload from the store.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	files := make([]string, 0, len(s.fileToKeys))
	for f := range s.fileToKeys {
		files = append(files, f)
	}
	s.keyToFile = make(map[string]string)
	s.fileToKeys = make(map[string]map[string]struct{})
	s.contentSum = make(map[string]string)
	s.mu.Unlock()

	for _, f := range files {
		if err := s.backend.Delete(ctx, f); err != nil {
			return fmt.Errorf("blobstore: clear %q: %w", f, err)
		}
	}
	return s.Flush(ctx)
}

// Flush forces the pending index save to fire immediately.
func (s *Store) Flush(ctx context.Context) error {
	return s.deb.Trigger()
}

// Destroy flushes pending saves. Call on shutdown.
func (s *Store) Destroy(ctx context.Context) error {
	return s.Flush(ctx)
}

func (s *Store) saveLocked() error {
	s.mu.Lock()
	raw := encodeIndex(s.seq, s.keyToFile)
	s.mu.Unlock()
	return s.index.SetItem(context.Background(), s.indexName, raw)
}
