// Package afi implements the audio-file fragment: one indexed root
// directory, wrapping a sorted file-list index (pkg/filelist), a two-layer
// metadata store (pkg/metastore), and a content-addressed artwork blob
// store (pkg/blobstore), with cover-art discovery and a metadata
// resolution pipeline over an injected tagparse.Parser.
package afi

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nilsgravlund/afidb/pkg/blobstore"
	"github.com/nilsgravlund/afidb/pkg/debounce"
	"github.com/nilsgravlund/afidb/pkg/filelist"
	"github.com/nilsgravlund/afidb/pkg/kvkeys"
	"github.com/nilsgravlund/afidb/pkg/metastore"
	"github.com/nilsgravlund/afidb/pkg/model"
	"github.com/nilsgravlund/afidb/pkg/objstore"
	"github.com/nilsgravlund/afidb/pkg/persist"
	"github.com/nilsgravlund/afidb/pkg/tagparse"
	"github.com/nilsgravlund/afidb/pkg/xhash"
)

// AFI owns one root directory: the composition point for components
// B (file lists), C (metadata cache + override), and D (blob store),
// plus cover-art discovery and the metadata resolution pipeline.
type AFI struct {
	Root   string
	Hash   uint32
	Prefix string // xhash.EncodeKey(Hash); the "S<prefix>:" part of song keys

	registry *xhash.Registry
	parser   tagparse.Parser

	audioList *filelist.List
	imageList *filelist.List
	cache     *metastore.Store
	override  *metastore.Store
	images    *blobstore.Store

	songKeyStore *songKeyStore

	mu               sync.RWMutex
	folderImageByDir map[string]string // dir (rel) -> image relPath
	songFolderImage  map[string]string // song relPath -> image relPath
	lastScanTime     time.Time
}

// Options configures a New AFI. Any persist.Store and
// objstore.ObjectStore work, not just the on-disk defaults.
type Options struct {
	Registry    *xhash.Registry
	Parser      tagparse.Parser
	PersistStore persist.Store // scoped to this AFI's ".afi" state
	ImageBackend objstore.ObjectStore
	Debounce    time.Duration
	// Hash, if non-zero, reuses a previously-minted fragment hash
	// (loaded from the database roster) instead of minting a fresh one.
	Hash uint32
}

// New mints (or reuses, via Options.Hash) root's stable hash, registers it
// with the registry, and wires up B/C/D.
func New(root string, opts Options) (*AFI, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("afi: abs %q: %w", root, err)
	}
	if opts.Debounce == 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	if opts.Parser == nil {
		opts.Parser = tagparse.NewDhowdenAdapter()
	}

	var hash uint32
	var prefix string
	if opts.Hash != 0 {
		hash, prefix = opts.Registry.RegisterWithHash(absRoot, opts.Hash)
	} else {
		hash, prefix = opts.Registry.Register(absRoot)
	}

	a := &AFI{
		Root:             absRoot,
		Hash:             hash,
		Prefix:           prefix,
		registry:         opts.Registry,
		parser:           opts.Parser,
		audioList:        filelist.New(absRoot, filelist.Audio, opts.PersistStore, kvkeys.FileIndex, opts.Debounce),
		imageList:        filelist.New(absRoot, filelist.Image, opts.PersistStore, kvkeys.ImageIndex, opts.Debounce),
		cache:            metastore.New(absRoot, opts.PersistStore, kvkeys.MetadataCache, opts.Debounce),
		override:         metastore.New(absRoot, opts.PersistStore, kvkeys.MetadataOverride, opts.Debounce),
		images:           blobstore.NewStore(opts.ImageBackend, opts.PersistStore, kvkeys.BlobIndex, opts.Debounce),
		songKeyStore:     newSongKeyStore(opts.PersistStore, kvkeys.SongKeys, opts.Debounce),
		folderImageByDir: make(map[string]string),
		songFolderImage:  make(map[string]string),
	}
	return a, nil
}

// Load populates every component's in-memory state from its persist.Store.
func (a *AFI) Load(ctx context.Context) error {
	if err := a.audioList.Load(ctx); err != nil {
		return err
	}
	if err := a.imageList.Load(ctx); err != nil {
		return err
	}
	if err := a.cache.Load(ctx); err != nil {
		return err
	}
	if err := a.override.Load(ctx); err != nil {
		return err
	}
	if err := a.images.Load(ctx); err != nil {
		return err
	}
	if err := a.songKeyStore.load(ctx); err != nil {
		return err
	}
	return nil
}

// relPath resolves an absolute path to root-relative, forward-slash form.
func (a *AFI) relPath(absPath string) (string, error) {
	rel, err := filepath.Rel(a.Root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("afi: %q is not under root %q: %w", absPath, a.Root, model.ErrInvalidPath)
	}
	return filepath.ToSlash(rel), nil
}

// MakeSongKey mints (or reuses) the deterministic "S<afi>:<file>" song key
// for absPath, resolving collisions by chained rehash.
func (a *AFI) MakeSongKey(absPath string) (model.SongKey, error) {
	rel, err := a.relPath(absPath)
	if err != nil {
		return "", err
	}
	enc := a.songKeyStore.mint(a.Hash, rel)
	return model.SongKey(fmt.Sprintf("S%s:%s", a.Prefix, enc)), nil
}

// RelPathForKey reverses MakeSongKey: given the file-hash half of a song
// key (the text after the ':'), returns the root-relative path it was
// minted for.
func (a *AFI) RelPathForKey(encodedFileHash string) (string, bool) {
	return a.songKeyStore.lookup(encodedFileHash)
}

// RescanFiles delegates to the audio and image file lists, routing audio
// adds/removes to the caller's callbacks (absolute paths) and handling
// image adds/removes internally, then re-runs cover-art discovery and
// stamps LastScanTime. Each file list installs its new path slice as a
// single reference only after its own diff completes.
func (a *AFI) RescanFiles(onAddSong, onRemoveSong func(absPath string)) error {
	if err := a.audioList.Rescan(
		func(rel string) { onAddSong(filepath.Join(a.Root, filepath.FromSlash(rel))) },
		func(rel string) { onRemoveSong(filepath.Join(a.Root, filepath.FromSlash(rel))) },
	); err != nil {
		return fmt.Errorf("afi: rescan audio: %w", err)
	}
	if err := a.imageList.Rescan(func(string) {}, func(string) {}); err != nil {
		return fmt.Errorf("afi: rescan images: %w", err)
	}
	// Always rebuilt, not only on image diffs: a freshly-loaded fragment
	// has current file lists but an empty resolution map.
	a.recomputeFolderImages()
	a.mu.Lock()
	a.lastScanTime = time.Now()
	a.mu.Unlock()
	return nil
}

// LastScanTime returns the timestamp of the most recent RescanFiles call.
func (a *AFI) LastScanTime() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastScanTime
}

// recomputeFolderImages implements album-cover discovery: group
// images by containing directory; for each directory that also contains
// audio files, pick the largest-by-byte-size image and record it as the
// folder image for every song in that directory.
func (a *AFI) recomputeFolderImages() {
	imagesByDir := make(map[string][]string)
	a.imageList.ForEachFile(func(rel string) {
		dir := dirOf(rel)
		imagesByDir[dir] = append(imagesByDir[dir], rel)
	})

	songsByDir := make(map[string][]string)
	a.audioList.ForEachFile(func(rel string) {
		dir := dirOf(rel)
		songsByDir[dir] = append(songsByDir[dir], rel)
	})

	folderByDir := make(map[string]string, len(songsByDir))
	songFolder := make(map[string]string, len(songsByDir))
	for dir, songs := range songsByDir {
		imgs := imagesByDir[dir]
		if len(imgs) == 0 {
			continue
		}
		best := largestBySize(a.Root, imgs)
		if best == "" {
			continue
		}
		folderByDir[dir] = best
		for _, s := range songs {
			songFolder[s] = best
		}
	}

	a.mu.Lock()
	a.folderImageByDir = folderByDir
	a.songFolderImage = songFolder
	a.mu.Unlock()
}

func dirOf(relPath string) string {
	d := filepath.ToSlash(filepath.Dir(relPath))
	if d == "." {
		return ""
	}
	return d
}

// largestBySize returns the relPath (relative to root) of the largest
// file among rels, by byte size. I/O errors on individual candidates are
// logged and skipped.
func largestBySize(root string, rels []string) string {
	sort.Strings(rels) // deterministic tie-break
	best := ""
	var bestSize int64 = -1
	for _, rel := range rels {
		fi, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			slog.Warn("afi: stat folder-image candidate failed", "path", rel, "err", err)
			continue
		}
		if fi.Size() > bestSize {
			bestSize = fi.Size()
			best = rel
		}
	}
	return best
}

// GetMetadataForSong runs the resolution pipeline for absPath:
// do-not-retry check, override lookup, filename-pattern parse, tag-file
// parse, merge, cache. Returns ok=false when parsing hard-fails (the path
// is marked do-not-retry and will not be retried on subsequent calls).
func (a *AFI) GetMetadataForSong(absPath string) (model.Metadata, bool, error) {
	rel, err := a.relPath(absPath)
	if err != nil {
		return model.Metadata{}, false, err
	}

	if !a.cache.ShouldRetry(rel) {
		return model.Metadata{}, false, nil
	}

	override, _ := a.override.Get(rel)

	if cached, ok := a.cache.Get(rel); ok {
		merged := cached.Merge(override)
		return merged, true, nil
	}

	pathMd, pathOK := a.parser.ParsePath(absPath)
	if pathOK {
		pathMd.OriginalPath = rel
		merged := pathMd.Merge(override)
		if merged.IsComplete() {
			a.cache.Set(rel, pathMd)
			return merged, true, nil
		}
	}

	raw, perr := a.parser.ParseFile(absPath)
	if perr != nil {
		a.cache.MarkFailed(rel)
		return model.Metadata{}, false, nil
	}
	fileMd := a.parser.Synthesize(absPath, raw)
	fileMd.OriginalPath = rel
	merged := fileMd.Merge(override)
	if !merged.IsComplete() {
		a.cache.MarkFailed(rel)
		return model.Metadata{}, false, nil
	}
	a.cache.Set(rel, fileMd)
	return merged, true, nil
}

// UpdateMetadata writes partial to the override store keyed by absPath's
// root-relative path.
func (a *AFI) UpdateMetadata(absPath string, partial model.Metadata) error {
	rel, err := a.relPath(absPath)
	if err != nil {
		return err
	}
	partial.OriginalPath = rel
	a.override.Set(rel, partial)
	return nil
}

// resolveRel accepts either a song key (the "S<prefix>:<file>" form) or an
// absolute path and returns the root-relative path it names.
func (a *AFI) resolveRel(keyOrPath string) (string, bool) {
	if strings.HasPrefix(keyOrPath, "S") {
		if idx := strings.IndexByte(keyOrPath, ':'); idx > 0 {
			encFile := keyOrPath[idx+1:]
			if rel, ok := a.songKeyStore.lookup(encFile); ok {
				return rel, true
			}
			return "", false
		}
	}
	rel, err := a.relPath(keyOrPath)
	if err != nil {
		return "", false
	}
	return rel, true
}

// GetImageForSong resolves artwork for the song named by keyOrPath (a
// song key or an absolute path). Probe order: blob store, then the
// embedded-tag picture and the folder image, embedded first when
// preferInternal is set and folder first otherwise.
func (a *AFI) GetImageForSong(ctx context.Context, keyOrPath string, preferInternal bool) ([]byte, bool, error) {
	rel, ok := a.resolveRel(keyOrPath)
	if !ok {
		return nil, false, fmt.Errorf("afi: cannot resolve %q", keyOrPath)
	}

	if data, ok, err := a.images.Get(ctx, rel); err != nil {
		return nil, false, err
	} else if ok {
		return data, true, nil
	}

	embedded := func() ([]byte, bool) {
		absPath := filepath.Join(a.Root, filepath.FromSlash(rel))
		raw, err := a.parser.ParseFile(absPath)
		if err != nil || len(raw.Picture) == 0 {
			return nil, false
		}
		return raw.Picture, true
	}
	folder := func() ([]byte, bool) {
		a.mu.RLock()
		imgRel, ok := a.songFolderImage[rel]
		a.mu.RUnlock()
		if !ok {
			return nil, false
		}
		data, err := os.ReadFile(filepath.Join(a.Root, filepath.FromSlash(imgRel)))
		if err != nil {
			return nil, false
		}
		return data, true
	}

	if preferInternal {
		if data, ok := embedded(); ok {
			return data, true, nil
		}
		if data, ok := folder(); ok {
			return data, true, nil
		}
	} else {
		if data, ok := folder(); ok {
			return data, true, nil
		}
		if data, ok := embedded(); ok {
			return data, true, nil
		}
	}
	return nil, false, nil
}

// SetImageForSong writes data to the blob store under the song's
// relative path.
func (a *AFI) SetImageForSong(ctx context.Context, keyOrPath string, data []byte) error {
	rel, ok := a.resolveRel(keyOrPath)
	if !ok {
		return fmt.Errorf("afi: cannot resolve %q", keyOrPath)
	}
	return a.images.Put(ctx, rel, data)
}

// Destroy flushes every pending debounced save and deregisters this AFI
// from the global registry.
func (a *AFI) Destroy(ctx context.Context) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(a.audioList.Flush(ctx))
	record(a.imageList.Flush(ctx))
	record(a.cache.Flush(ctx))
	record(a.override.Flush(ctx))
	record(a.images.Flush(ctx))
	record(a.songKeyStore.flush(ctx))
	a.registry.Deregister(a.Root)
	return firstErr
}

// songKeyStore persists the relPath<->fileHash map as lines of
// "<hash-in-base-36>,<relPath>". On a clash between two different
// relPaths it rehashes forward (h = Hash32(h, relPath)) until a free or
// matching slot is found, preserving the first claimant.
type songKeyStore struct {
	store    persist.Store
	itemName string
	deb      *debounce.Debouncer

	mu        sync.Mutex
	hashToRel map[string]string // xhash.EncodeKey(hash) -> relPath
	relToEnc  map[string]string // relPath -> xhash.EncodeKey(hash), cache of the mint result
	loaded    bool
	dirty     bool
}

func newSongKeyStore(store persist.Store, itemName string, delay time.Duration) *songKeyStore {
	s := &songKeyStore{
		store:     store,
		itemName:  itemName,
		hashToRel: make(map[string]string),
		relToEnc:  make(map[string]string),
	}
	s.deb = debounce.New(delay, s.saveLocked)
	return s
}

func (s *songKeyStore) load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	raw, ok, err := s.store.GetItem(ctx, s.itemName)
	if err != nil {
		return fmt.Errorf("afi: load songKeys: %w", err)
	}
	s.loaded = true
	if !ok {
		return nil
	}
	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ',')
		if idx < 0 {
			continue
		}
		hashStr, rel := line[:idx], line[idx+1:]
		n, err := strconv.ParseUint(hashStr, 36, 32)
		if err != nil {
			continue
		}
		enc := xhash.EncodeKey(uint32(n))
		s.hashToRel[enc] = rel
		s.relToEnc[rel] = enc
	}
	return nil
}

// mint returns the encoded file-hash for relPath, minting and persisting
// a fresh one (seeded by afiHash) on first use.
func (s *songKeyStore) mint(afiHash uint32, relPath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if enc, ok := s.relToEnc[relPath]; ok {
		return enc
	}

	_, enc := xhash.ChainedMint(s.hashToRel, afiHash, []byte(relPath))
	s.relToEnc[relPath] = enc
	s.dirty = true
	s.deb.Schedule()
	return enc
}

func (s *songKeyStore) lookup(encFileHash string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.hashToRel[encFileHash]
	return rel, ok
}

func (s *songKeyStore) flush(ctx context.Context) error {
	return s.deb.Trigger()
}

func (s *songKeyStore) saveLocked() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	var b strings.Builder
	for enc, rel := range s.hashToRel {
		h, err := decodeKeyHash(enc)
		if err != nil {
			continue
		}
		b.WriteString(strconv.FormatUint(uint64(h), 36))
		b.WriteByte(',')
		b.WriteString(rel)
		b.WriteByte('\n')
	}
	s.dirty = false
	raw := b.String()
	s.mu.Unlock()
	return s.store.SetItem(context.Background(), s.itemName, raw)
}

// decodeKeyHash reverses xhash.EncodeKey, recovering the raw uint32 so the
// on-disk songKeys format can store the base-36 hash rather than the
// base64 key encoding.
func decodeKeyHash(enc string) (uint32, error) {
	return xhash.DecodeKey(enc)
}
