// Package audiodb implements the aggregate database: the graph of
// Song -> Album -> Artist merged across every registered audio-file
// fragment (pkg/afi), its identity rules (album matching, primary ->
// secondary artist demotion, VA/OST collapse), keyed lookups, the lazy
// keyword search index, and canonical path rendering.
package audiodb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nilsgravlund/afidb/pkg/afi"
	"github.com/nilsgravlund/afidb/pkg/blobstore"
	"github.com/nilsgravlund/afidb/pkg/kvkeys"
	"github.com/nilsgravlund/afidb/pkg/model"
	"github.com/nilsgravlund/afidb/pkg/objstore"
	"github.com/nilsgravlund/afidb/pkg/persist"
	"github.com/nilsgravlund/afidb/pkg/tagparse"
	"github.com/nilsgravlund/afidb/pkg/xhash"
)

// Config tunes album-identity behavior.
type Config struct {
	// PreserveIndependentAlbumsOnArtistConflict, when true, disables the
	// default merge for "same normalized title, different artists, same
	// directory" (demotion of the extra artists when the artist sets
	// overlap, collapse-to-VA when they are disjoint) and instead keeps the
	// albums independent.
	PreserveIndependentAlbumsOnArtistConflict bool
}

// Options configures a New Database.
type Options struct {
	Registry *xhash.Registry
	Parser   tagparse.Parser
	Persist  persist.Store // backs the "audio-database" and ignore-rules items
	// PersistForRoot and BlobBackendForRoot construct the per-AFI
	// persist.Store / objstore.ObjectStore for a given root path. The
	// defaults are a FilePersist rooted at the AFI root (whose item
	// names reproduce the ".afi/..." and "images/index.txt" layout) and a
	// LocalFS rooted at "<root>/images"; any pluggable backend works.
	PersistForRoot     func(root string) (persist.Store, error)
	BlobBackendForRoot func(root string) (objstore.ObjectStore, error)
	// FallbackStateDir, if set, hosts per-AFI state for roots whose own
	// ".afi" directory is unwritable.
	FallbackStateDir string
	Debounce         time.Duration
	RefreshGrace     time.Duration
	DatabaseItemName string
	Config           Config
}

// Database is the aggregate Song/Album/Artist graph.
type Database struct {
	registry           *xhash.Registry
	parser             tagparse.Parser
	persist            persist.Store
	persistForRoot     func(root string) (persist.Store, error)
	blobBackendForRoot func(root string) (objstore.ObjectStore, error)
	fallbackStateDir   string
	debounce           time.Duration
	refreshGrace       time.Duration
	databaseItemName   string
	cfg                Config

	mu              sync.Mutex
	afis            map[string]*afi.AFI // root -> AFI
	afiOrder        []string            // registration order
	songs           map[model.SongKey]*model.Song
	albums          map[model.AlbumKey]*model.Album
	artists         map[model.ArtistKey]*model.Artist
	albumTitleIndex map[string][]model.AlbumKey
	artistNameIndex map[string]model.ArtistKey
	albumKeyClaims  map[string]string
	artistKeyClaims map[string]string

	ignore *ignoreRules

	albumBlobsCached  *blobstore.Store
	artistBlobsCached *blobstore.Store

	searchMu      sync.Mutex
	searchIdx     *searchIndex
	searchPrewarm func(func())

	sf            singleflight.Group
	refreshMu     sync.Mutex
	refreshActive bool
}

// New returns an empty Database.
func New(opts Options) *Database {
	if opts.Debounce == 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	if opts.RefreshGrace == 0 {
		opts.RefreshGrace = 100 * time.Millisecond
	}
	if opts.DatabaseItemName == "" {
		opts.DatabaseItemName = kvkeys.Database
	}
	if opts.Parser == nil {
		opts.Parser = tagparse.NewDhowdenAdapter()
	}
	if opts.Registry == nil {
		opts.Registry = xhash.NewRegistry()
	}
	db := &Database{
		registry:           opts.Registry,
		parser:             opts.Parser,
		persist:            opts.Persist,
		persistForRoot:     opts.PersistForRoot,
		blobBackendForRoot: opts.BlobBackendForRoot,
		fallbackStateDir:   opts.FallbackStateDir,
		debounce:           opts.Debounce,
		refreshGrace:       opts.RefreshGrace,
		databaseItemName:   opts.DatabaseItemName,
		cfg:                opts.Config,
		afis:               make(map[string]*afi.AFI),
		songs:              make(map[model.SongKey]*model.Song),
		albums:             make(map[model.AlbumKey]*model.Album),
		artists:            make(map[model.ArtistKey]*model.Artist),
		albumTitleIndex:    make(map[string][]model.AlbumKey),
		artistNameIndex:    make(map[string]model.ArtistKey),
		albumKeyClaims:     make(map[string]string),
		artistKeyClaims:    make(map[string]string),
	}
	db.ignore = newIgnoreRules(opts.Persist, kvkeys.IgnoreRules, opts.Debounce)
	db.searchPrewarm = newSearchPrewarmer(opts.Debounce)
	return db
}

// Load populates the database from its persist.Store: the ignore-rule
// set, then the aggregate graph and the AFI roster (reconstructing each
// AFI with its previously-minted hash so song keys stay stable across
// restarts).
func (db *Database) Load(ctx context.Context) error {
	if err := db.ignore.load(ctx); err != nil {
		return err
	}
	if db.persist == nil {
		return nil
	}
	raw, ok, err := db.persist.GetItem(ctx, db.databaseItemName)
	if err != nil {
		return fmt.Errorf("audiodb: load database: %w", err)
	}
	if !ok {
		return nil
	}
	wire, err := decodeDatabaseWire(raw)
	if err != nil {
		return fmt.Errorf("audiodb: decode database: %w", err)
	}

	db.mu.Lock()
	db.songs = wire.songs
	db.albums = wire.albums
	db.artists = wire.artists
	db.albumTitleIndex = wire.albumTitleIndex
	db.artistNameIndex = wire.artistNameIndex
	db.reclaimKeysLocked()
	db.invalidateSearchLocked()
	db.mu.Unlock()

	for _, loc := range wire.indices {
		ps, err := db.perRootPersist(loc.Location)
		if err != nil {
			return err
		}
		backend, err := db.perRootBlobBackend(loc.Location)
		if err != nil {
			return err
		}
		a, err := afi.New(loc.Location, afi.Options{
			Registry:     db.registry,
			Parser:       db.parser,
			PersistStore: ps,
			ImageBackend: backend,
			Debounce:     db.debounce,
			Hash:         loc.Hash,
		})
		if err != nil {
			return err
		}
		if err := a.Load(ctx); err != nil {
			return err
		}
		db.mu.Lock()
		db.afis[loc.Location] = a
		db.afiOrder = append(db.afiOrder, loc.Location)
		db.mu.Unlock()
	}
	return nil
}

// Save persists the current graph and AFI roster.
func (db *Database) Save(ctx context.Context) error {
	if db.persist == nil {
		return nil
	}
	db.mu.Lock()
	raw := encodeDatabaseWire(db)
	db.mu.Unlock()
	return db.persist.SetItem(ctx, db.databaseItemName, raw)
}

// GetLocations returns the absolute root paths of every registered AFI,
// in registration order.
func (db *Database) GetLocations() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, len(db.afiOrder))
	copy(out, db.afiOrder)
	return out
}

// AddFileLocation registers path as a new AFI root and performs an
// initial scan. Returns false (not an error) when path is already
// registered.
func (db *Database) AddFileLocation(ctx context.Context, path string) (bool, error) {
	absRoot, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("audiodb: abs %q: %w", path, err)
	}

	db.mu.Lock()
	if _, exists := db.afis[absRoot]; exists {
		db.mu.Unlock()
		return false, nil
	}
	db.mu.Unlock()

	ps, err := db.perRootPersist(absRoot)
	if err != nil {
		return false, err
	}
	backend, err := db.perRootBlobBackend(absRoot)
	if err != nil {
		return false, err
	}

	a, err := afi.New(absRoot, afi.Options{
		Registry:     db.registry,
		Parser:       db.parser,
		PersistStore: ps,
		ImageBackend: backend,
		Debounce:     db.debounce,
	})
	if err != nil {
		return false, err
	}
	if err := a.Load(ctx); err != nil {
		return false, err
	}

	db.mu.Lock()
	db.afis[absRoot] = a
	db.afiOrder = append(db.afiOrder, absRoot)
	db.mu.Unlock()

	if _, err := db.refreshOne(ctx, a); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveFileLocation deregisters path's AFI, cascading deletion of every
// song (and, transitively, album/artist) that came from it. Returns false
// when path is not a known location.
func (db *Database) RemoveFileLocation(ctx context.Context, path string) (bool, error) {
	absRoot, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("audiodb: abs %q: %w", path, err)
	}

	db.mu.Lock()
	a, ok := db.afis[absRoot]
	if !ok {
		db.mu.Unlock()
		return false, nil
	}
	var toDelete []model.SongKey
	for key := range db.songs {
		if keyBelongsToAFI(key, a.Prefix) {
			toDelete = append(toDelete, key)
		}
	}
	delete(db.afis, absRoot)
	db.afiOrder = removeString(db.afiOrder, absRoot)
	db.mu.Unlock()

	for _, key := range toDelete {
		db.DelSongByKey(key)
	}

	return true, a.Destroy(ctx)
}

func keyBelongsToAFI(key model.SongKey, prefix string) bool {
	s := string(key)
	if len(s) < 2 || s[0] != 'S' {
		return false
	}
	idx := strings.IndexByte(s[1:], ':')
	return idx >= 0 && s[1:1+idx] == prefix
}

func removeString(ss []string, s string) []string {
	out := ss[:0:0]
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// perRootPersist opens the default per-root state store: a FilePersist
// rooted at the AFI root itself, so the ".afi/..." and "images/index.txt"
// item names in kvkeys land in their on-disk homes. An unwritable ".afi"
// falls back to FallbackStateDir when one is configured.
func (db *Database) perRootPersist(root string) (persist.Store, error) {
	if db.persistForRoot != nil {
		return db.persistForRoot(root)
	}
	if err := os.MkdirAll(filepath.Join(root, kvkeys.AFIHiddenDir), 0o755); err != nil {
		if db.fallbackStateDir == "" {
			return nil, fmt.Errorf("audiodb: state dir for %q: %w", root, model.ErrReadOnlyTarget)
		}
		slog.Warn("audiodb: root state dir unwritable, using fallback",
			"root", root, "fallback", db.fallbackStateDir, "err", model.ErrReadOnlyTarget)
		_, prefix := db.registry.Register(root)
		return persist.NewFilePersist(filepath.Join(db.fallbackStateDir, pathSafe(prefix)))
	}
	return persist.NewFilePersist(root)
}

// pathSafe rewrites an encoded hash prefix into a filesystem-safe directory
// name (the key alphabet includes '/' and '+').
func pathSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '\\':
			return '_'
		}
		return r
	}, s)
}

func (db *Database) perRootBlobBackend(root string) (objstore.ObjectStore, error) {
	if db.blobBackendForRoot != nil {
		return db.blobBackendForRoot(root)
	}
	return objstore.NewLocalFS(filepath.Join(root, kvkeys.AFIImagesDir))
}

// Refresh rescans every registered AFI. Guarded by a single-inflight
// waiter: a caller arriving while a refresh is already running
// waits up to RefreshGrace for it to finish and shares its result;
// failing that, it returns false ("skipped") without starting a second
// scan.
func (db *Database) Refresh(ctx context.Context) (bool, error) {
	db.refreshMu.Lock()
	isLeader := !db.refreshActive
	if isLeader {
		db.refreshActive = true
	}
	db.refreshMu.Unlock()

	ch := db.sf.DoChan("refresh", func() (interface{}, error) {
		defer func() {
			db.refreshMu.Lock()
			db.refreshActive = false
			db.refreshMu.Unlock()
		}()
		return nil, db.doRefresh(ctx)
	})

	if isLeader {
		res := <-ch
		return true, res.Err
	}

	select {
	case res := <-ch:
		return true, res.Err
	case <-time.After(db.refreshGrace):
		return false, nil
	}
}

func (db *Database) doRefresh(ctx context.Context) error {
	db.mu.Lock()
	afis := make([]*afi.AFI, len(db.afiOrder))
	for i, root := range db.afiOrder {
		afis[i] = db.afis[root]
	}
	db.mu.Unlock()

	for _, a := range afis {
		if _, err := db.refreshOne(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// refreshOne rescans a single AFI and routes its add/remove callbacks
// into the graph, applying ignore rules at ingestion time.
func (db *Database) refreshOne(ctx context.Context, a *afi.AFI) (bool, error) {
	var scanErr error
	err := a.RescanFiles(
		func(absPath string) {
			if db.ignore.IsIgnored(absPath) {
				return
			}
			if err := db.AddOrUpdateSongFromPath(a, absPath); err != nil {
				slog.Warn("audiodb: add song failed", "path", absPath, "err", err)
			}
		},
		func(absPath string) {
			key, err := a.MakeSongKey(absPath)
			if err != nil {
				slog.Warn("audiodb: remove song: resolve key failed", "path", absPath, "err", err)
				return
			}
			db.DelSongByKey(key)
		},
	)
	if err != nil {
		scanErr = err
	}
	return scanErr == nil, scanErr
}

// AddOrUpdateSongFromPath ingests one file owned by a. It resolves
// metadata through the AFI's pipeline, resolves
// or creates the song's artists and album, and links the new song into
// the graph.
func (db *Database) AddOrUpdateSongFromPath(a *afi.AFI, absPath string) error {
	md, ok, err := a.GetMetadataForSong(absPath)
	if err != nil {
		return err
	}
	if !ok {
		return nil // hard parse failure; already marked do-not-retry by the AFI
	}

	key, err := a.MakeSongKey(absPath)
	if err != nil {
		return err
	}

	artistSrc := md.AlbumArtist
	if artistSrc == "" {
		artistSrc = md.Artist
	}
	primaryNames := splitArtistNames(artistSrc)

	db.mu.Lock()
	defer db.mu.Unlock()

	primaryKeys := make([]model.ArtistKey, len(primaryNames))
	for i, n := range primaryNames {
		primaryKeys[i] = db.resolveArtist(n)
	}

	var secondaryKeys []model.ArtistKey
	for _, n := range md.Featuring {
		secondaryKeys = keyAppendUnique(secondaryKeys, db.resolveArtist(n))
	}
	if md.Artist != "" && md.Artist != artistSrc {
		trackArtistKey := db.resolveArtist(md.Artist)
		if !keyContains(primaryKeys, trackArtistKey) {
			secondaryKeys = keyAppendUnique(secondaryKeys, trackArtistKey)
		}
	}

	song := db.songs[key]
	if song != nil {
		db.unlinkSongLocked(song)
	}

	album, finalPrimary, finalSecondary := db.getOrNewAlbum(
		md.Album, md.Year, primaryNames, primaryKeys, secondaryKeys,
		md.VAType, filepath.ToSlash(filepath.Dir(absPath)), md.Track/100, md.DiskName,
	)

	song = &model.Song{
		Key:              key,
		Path:             absPath,
		Title:            md.Title,
		Track:            md.Track,
		Album:            album.Key,
		PrimaryArtists:   finalPrimary,
		SecondaryArtists: finalSecondary,
		Variations:       md.Variations,
	}
	db.songs[key] = song

	album.Songs = songKeyAppendUnique(album.Songs, key)
	for _, ak := range append(append([]model.ArtistKey{}, finalPrimary...), finalSecondary...) {
		artist := db.artists[ak]
		if artist == nil {
			continue
		}
		artist.Songs = songKeyAppendUnique(artist.Songs, key)
		artist.Albums = albumKeyAppendUnique(artist.Albums, album.Key)
	}

	db.invalidateSearchLocked()
	return nil
}

// DelSongByKey removes the song stored under key, cascading album and
// artist cleanup through unlinkSongLocked.
func (db *Database) DelSongByKey(key model.SongKey) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	song := db.songs[key]
	if song == nil {
		return false
	}
	db.unlinkSongLocked(song)
	delete(db.songs, key)
	db.invalidateSearchLocked()
	return true
}

// DelSongByPath resolves an absolute path to its song key via the owning
// AFI and deletes that song. Returns false when the path resolves under no
// known root or names no indexed song.
func (db *Database) DelSongByPath(absPath string) bool {
	a, resolved, err := db.ownerAndPath(absPath)
	if err != nil {
		return false
	}
	key, err := a.MakeSongKey(resolved)
	if err != nil {
		return false
	}
	return db.DelSongByKey(key)
}

// unlinkSongLocked removes song from its album and artists, deleting the
// album/artist and their index entries when they become empty, and
// pruning artists from albums they no longer have any song on (unless
// they remain a primary artist of that album). Caller must hold db.mu.
func (db *Database) unlinkSongLocked(song *model.Song) {
	if db.albums[song.Album] == nil {
		slog.Warn("audiodb: song references missing album",
			"song", song.Key, "album", song.Album, "err", model.ErrIndexInconsistency)
	}
	if album := db.albums[song.Album]; album != nil {
		album.Songs = spliceSong(album.Songs, song.Key)
		if len(album.Songs) == 0 {
			delete(db.albums, album.Key)
			norm := model.Norm(album.Title)
			db.albumTitleIndex[norm] = removeAlbumKey(db.albumTitleIndex[norm], album.Key)
			if len(db.albumTitleIndex[norm]) == 0 {
				delete(db.albumTitleIndex, norm)
			}
			for _, artist := range db.artists {
				artist.Albums = spliceAlbum(artist.Albums, album.Key)
			}
		}
	}

	all := append(append([]model.ArtistKey{}, song.PrimaryArtists...), song.SecondaryArtists...)
	for _, ak := range all {
		artist := db.artists[ak]
		if artist == nil {
			continue
		}
		artist.Songs = spliceSong(artist.Songs, song.Key)
		if len(artist.Songs) == 0 {
			delete(db.artists, ak)
			delete(db.artistNameIndex, model.Norm(artist.Name))
			continue
		}
		for _, albumKey := range artist.Albums {
			album := db.albums[albumKey]
			if album == nil {
				continue
			}
			if artistStillReferenced(db, album, ak) {
				continue
			}
			album.PrimaryArtists = keyRemoveAll(album.PrimaryArtists, []model.ArtistKey{ak})
			artist.Albums = spliceAlbum(artist.Albums, albumKey)
		}
	}
}

// artistStillReferenced reports whether artist ak is still a primary
// artist of album, or whether any remaining song on album still lists ak.
func artistStillReferenced(db *Database, album *model.Album, ak model.ArtistKey) bool {
	if keyContains(album.PrimaryArtists, ak) {
		return true
	}
	for _, sk := range album.Songs {
		s := db.songs[sk]
		if s == nil {
			continue
		}
		if keyContains(s.PrimaryArtists, ak) || keyContains(s.SecondaryArtists, ak) {
			return true
		}
	}
	return false
}

func removeAlbumKey(keys []model.AlbumKey, k model.AlbumKey) []model.AlbumKey {
	out := keys[:0:0]
	for _, key := range keys {
		if key != k {
			out = append(out, key)
		}
	}
	return out
}

// GetSong returns the song stored under key.
func (db *Database) GetSong(key model.SongKey) (*model.Song, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.songs[key]
	return s, ok
}

// GetAlbum returns the album stored under key.
func (db *Database) GetAlbum(key model.AlbumKey) (*model.Album, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	a, ok := db.albums[key]
	return a, ok
}

// GetArtist returns the artist stored under key.
func (db *Database) GetArtist(key model.ArtistKey) (*model.Artist, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	a, ok := db.artists[key]
	return a, ok
}

// Flat is a point-in-time dump of the graph's entity keys, used by tests
// and the CLI's summary output.
type Flat struct {
	Songs   []model.SongKey
	Albums  []model.AlbumKey
	Artists []model.ArtistKey
}

// Flatten returns a Flat snapshot of every entity currently in the graph.
func (db *Database) Flatten() Flat {
	db.mu.Lock()
	defer db.mu.Unlock()
	f := Flat{
		Songs:   make([]model.SongKey, 0, len(db.songs)),
		Albums:  make([]model.AlbumKey, 0, len(db.albums)),
		Artists: make([]model.ArtistKey, 0, len(db.artists)),
	}
	for k := range db.songs {
		f.Songs = append(f.Songs, k)
	}
	for k := range db.albums {
		f.Albums = append(f.Albums, k)
	}
	for k := range db.artists {
		f.Artists = append(f.Artists, k)
	}
	sort.Slice(f.Songs, func(i, j int) bool { return f.Songs[i] < f.Songs[j] })
	sort.Slice(f.Albums, func(i, j int) bool { return f.Albums[i] < f.Albums[j] })
	sort.Slice(f.Artists, func(i, j int) bool { return f.Artists[i] < f.Artists[j] })
	return f
}

// GetMetadata resolves pathOrKey (an absolute path or a song key) to its
// metadata by running the owning AFI's metadata pipeline.
func (db *Database) GetMetadata(pathOrKey string) (model.Metadata, bool, error) {
	a, absPath, err := db.ownerAndPath(pathOrKey)
	if err != nil {
		return model.Metadata{}, false, err
	}
	return a.GetMetadataForSong(absPath)
}

// UpdateMetadata writes a user override for pathOrKey. Returns false when
// pathOrKey resolves under no known AFI.
func (db *Database) UpdateMetadata(pathOrKey string, partial model.Metadata) (bool, error) {
	a, absPath, err := db.ownerAndPath(pathOrKey)
	if err != nil {
		return false, nil
	}
	return true, a.UpdateMetadata(absPath, partial)
}

func (db *Database) ownerAndPath(pathOrKey string) (*afi.AFI, string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if len(pathOrKey) > 1 && pathOrKey[0] == 'S' {
		idx := strings.IndexByte(pathOrKey[1:], ':')
		if idx >= 0 {
			prefix := pathOrKey[1 : 1+idx]
			encFile := pathOrKey[2+idx:]
			root, ok := db.registry.LookupByPrefix(prefix)
			if !ok {
				return nil, "", fmt.Errorf("audiodb: unknown AFI prefix in key %q", pathOrKey)
			}
			a := db.afis[root]
			if a == nil {
				return nil, "", fmt.Errorf("audiodb: AFI for %q not loaded", root)
			}
			rel, ok := a.RelPathForKey(encFile)
			if !ok {
				return nil, "", fmt.Errorf("audiodb: unknown song key %q", pathOrKey)
			}
			return a, filepath.Join(root, filepath.FromSlash(rel)), nil
		}
	}

	root, ok := db.registry.LookupByPath(pathOrKey)
	if !ok {
		return nil, "", fmt.Errorf("audiodb: %q: %w", pathOrKey, model.ErrInvalidPath)
	}
	a := db.afis[root]
	if a == nil {
		return nil, "", fmt.Errorf("audiodb: AFI for %q not loaded", root)
	}
	return a, pathOrKey, nil
}

// GetSongPicture returns song artwork, probing the owning AFI's blob
// store then its cover-resolution pipeline.
func (db *Database) GetSongPicture(ctx context.Context, key model.SongKey) ([]byte, bool, error) {
	a, absPath, err := db.ownerAndPath(string(key))
	if err != nil {
		return nil, false, err
	}
	return a.GetImageForSong(ctx, absPath, false)
}

// SetSongPicture writes artwork for a song into its owning AFI's blob store.
func (db *Database) SetSongPicture(ctx context.Context, key model.SongKey, data []byte) error {
	a, absPath, err := db.ownerAndPath(string(key))
	if err != nil {
		return err
	}
	return a.SetImageForSong(ctx, absPath, data)
}

// albumBlobs and artistBlobs back GetAlbumPicture/GetArtistPicture:
// album/artist artwork is not tied to any single AFI root (an album can
// span files from one root; an artist can span many), so the aggregate
// database keeps its own blob store for them, keyed by AlbumKey/ArtistKey
// string form.
func (db *Database) albumBlobs(ctx context.Context) (*blobstore.Store, error) {
	return db.sharedBlobs(ctx, kvkeys.AlbumPictures, &db.albumBlobsCached)
}

func (db *Database) artistBlobs(ctx context.Context) (*blobstore.Store, error) {
	return db.sharedBlobs(ctx, kvkeys.ArtistPictures, &db.artistBlobsCached)
}

func (db *Database) sharedBlobs(ctx context.Context, itemName string, cache **blobstore.Store) (*blobstore.Store, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if *cache != nil {
		return *cache, nil
	}
	if db.persist == nil {
		return nil, nil
	}
	backend, err := db.blobBackendForSharedArt(itemName)
	if err != nil {
		return nil, err
	}
	// The payload directory is named itemName, so the index item lives
	// inside it (as a root's images/index.txt does) rather than colliding
	// with it under the same name.
	store := blobstore.NewStore(backend, db.persist, itemName+"/index.txt", db.debounce)
	if err := store.Load(ctx); err != nil {
		return nil, err
	}
	*cache = store
	return store, nil
}

func (db *Database) blobBackendForSharedArt(itemName string) (objstore.ObjectStore, error) {
	if db.blobBackendForRoot != nil {
		return db.blobBackendForRoot(itemName)
	}
	return objstore.NewLocalFS(filepath.Join(db.persist.Location(), itemName))
}

// GetAlbumPicture returns artwork for an album: the explicitly-set blob if
// one exists, otherwise the first artwork any of the album's songs
// resolves through its owning AFI (folder image, then embedded picture).
func (db *Database) GetAlbumPicture(ctx context.Context, key model.AlbumKey) ([]byte, bool, error) {
	store, err := db.albumBlobs(ctx)
	if err != nil {
		return nil, false, err
	}
	if store != nil {
		if data, ok, err := store.Get(ctx, string(key)); err != nil || ok {
			return data, ok, err
		}
	}

	db.mu.Lock()
	var songs []model.SongKey
	if album := db.albums[key]; album != nil {
		songs = append(songs, album.Songs...)
	}
	db.mu.Unlock()

	for _, sk := range songs {
		data, ok, err := db.GetSongPicture(ctx, sk)
		if err != nil {
			slog.Warn("audiodb: album artwork probe failed", "song", sk, "err", err)
			continue
		}
		if ok {
			return data, true, nil
		}
	}
	return nil, false, nil
}

// SetAlbumPicture stores artwork for an album.
func (db *Database) SetAlbumPicture(ctx context.Context, key model.AlbumKey, data []byte) error {
	store, err := db.albumBlobs(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("audiodb: no persist backend for album artwork")
	}
	return store.Put(ctx, string(key), data)
}

// GetArtistPicture returns artwork for an artist, falling back to the
// artist's songs' artwork the same way album pictures do.
func (db *Database) GetArtistPicture(ctx context.Context, key model.ArtistKey) ([]byte, bool, error) {
	store, err := db.artistBlobs(ctx)
	if err != nil {
		return nil, false, err
	}
	if store != nil {
		if data, ok, err := store.Get(ctx, string(key)); err != nil || ok {
			return data, ok, err
		}
	}

	db.mu.Lock()
	var songs []model.SongKey
	if artist := db.artists[key]; artist != nil {
		songs = append(songs, artist.Songs...)
	}
	db.mu.Unlock()

	for _, sk := range songs {
		data, ok, err := db.GetSongPicture(ctx, sk)
		if err != nil {
			slog.Warn("audiodb: artist artwork probe failed", "song", sk, "err", err)
			continue
		}
		if ok {
			return data, true, nil
		}
	}
	return nil, false, nil
}

// SetArtistPicture stores artwork for an artist.
func (db *Database) SetArtistPicture(ctx context.Context, key model.ArtistKey, data []byte) error {
	store, err := db.artistBlobs(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("audiodb: no persist backend for artist artwork")
	}
	return store.Put(ctx, string(key), data)
}

// Destroy flushes every AFI's pending saves and the database's own
// debounced state (ignore rules, shared artwork indices).
func (db *Database) Destroy(ctx context.Context) error {
	db.mu.Lock()
	afis := make([]*afi.AFI, 0, len(db.afis))
	for _, a := range db.afis {
		afis = append(afis, a)
	}
	db.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, a := range afis {
		record(a.Destroy(ctx))
	}
	record(db.ignore.flush(ctx))
	db.mu.Lock()
	albumBlobs, artistBlobs := db.albumBlobsCached, db.artistBlobsCached
	db.mu.Unlock()
	if albumBlobs != nil {
		record(albumBlobs.Flush(ctx))
	}
	if artistBlobs != nil {
		record(artistBlobs.Flush(ctx))
	}
	return firstErr
}
