package audiodb

import (
	"sort"
	"strings"
	"time"

	bepdebounce "github.com/bep/debounce"

	"github.com/nilsgravlund/afidb/pkg/model"
)

// newSearchPrewarmer returns a fire-and-forget debouncer that rebuilds the
// search index shortly after a burst of graph mutations settles, so a
// query arriving right after a scan doesn't pay the rebuild cost inline.
// It's a prewarm only: ensureSearchIndex always rebuilds synchronously
// too if the cache is still nil when a query actually arrives, so
// correctness never depends on this firing. github.com/bep/debounce's
// fire-and-forget coalescing (no synchronous wait, unlike pkg/debounce)
// is exactly what a best-effort prewarm wants.
func newSearchPrewarmer(delay time.Duration) func(func()) {
	return bepdebounce.New(delay)
}

// searchIndex is a lazily-built, linear-scan token index over song
// titles, album titles, and artist names. It is rebuilt wholesale on
// first use after any graph mutation rather than maintained
// incrementally: a full rebuild keeps the add/remove hot path free of
// bookkeeping for a feature most callers never touch in the same tick
// as a rescan.
type searchIndex struct {
	songTokens   map[model.SongKey][]string
	albumTokens  map[model.AlbumKey][]string
	artistTokens map[model.ArtistKey][]string
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	return fields
}

func buildSearchIndex(db *Database) *searchIndex {
	idx := &searchIndex{
		songTokens:   make(map[model.SongKey][]string, len(db.songs)),
		albumTokens:  make(map[model.AlbumKey][]string, len(db.albums)),
		artistTokens: make(map[model.ArtistKey][]string, len(db.artists)),
	}
	for k, s := range db.songs {
		idx.songTokens[k] = tokenize(s.Title)
	}
	for k, a := range db.albums {
		idx.albumTokens[k] = tokenize(a.Title)
	}
	for k, a := range db.artists {
		idx.artistTokens[k] = tokenize(a.Name)
	}
	return idx
}

// invalidateSearchLocked discards the cached index so the next Search
// call rebuilds it, and schedules a debounced prewarm rebuild so a quiet
// period after a burst of mutations leaves a warm cache behind. Caller
// must hold db.mu.
func (db *Database) invalidateSearchLocked() {
	db.searchMu.Lock()
	db.searchIdx = nil
	db.searchMu.Unlock()

	if db.searchPrewarm != nil {
		db.searchPrewarm(func() { db.ensureSearchIndex() })
	}
}

// ensureSearchIndex rebuilds the cached index if needed. db.mu is always
// acquired before searchMu (never the reverse) to avoid lock-order
// inversion with invalidateSearchLocked, which is called while db.mu is
// already held.
func (db *Database) ensureSearchIndex() *searchIndex {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.searchMu.Lock()
	if db.searchIdx != nil {
		idx := db.searchIdx
		db.searchMu.Unlock()
		return idx
	}
	db.searchMu.Unlock()

	idx := buildSearchIndex(db)

	db.searchMu.Lock()
	db.searchIdx = idx
	db.searchMu.Unlock()
	return idx
}

// SearchResult holds a query's matches, each set sorted for deterministic
// output.
type SearchResult struct {
	Songs   []model.SongKey
	Albums  []model.AlbumKey
	Artists []model.ArtistKey
}

// Search matches terms (whitespace-separated) against song titles, album
// titles, and artist names. When substring is true, a query token
// matches any indexed token that contains it; otherwise a query token
// must prefix an indexed token. An entity matches when every query token
// matches at least one of its indexed tokens.
func (db *Database) Search(substring bool, terms string) SearchResult {
	queryTokens := tokenize(terms)
	if len(queryTokens) == 0 {
		return SearchResult{}
	}
	idx := db.ensureSearchIndex()

	matches := func(q string, indexed []string) bool {
		for _, t := range indexed {
			if substring {
				if strings.Contains(t, q) {
					return true
				}
			} else if strings.HasPrefix(t, q) {
				return true
			}
		}
		return false
	}
	allMatch := func(indexed []string) bool {
		for _, q := range queryTokens {
			if !matches(q, indexed) {
				return false
			}
		}
		return true
	}

	var out SearchResult
	for k, tokens := range idx.songTokens {
		if allMatch(tokens) {
			out.Songs = append(out.Songs, k)
		}
	}
	for k, tokens := range idx.albumTokens {
		if allMatch(tokens) {
			out.Albums = append(out.Albums, k)
		}
	}
	for k, tokens := range idx.artistTokens {
		if allMatch(tokens) {
			out.Artists = append(out.Artists, k)
		}
	}

	sort.Slice(out.Songs, func(i, j int) bool { return out.Songs[i] < out.Songs[j] })
	sort.Slice(out.Albums, func(i, j int) bool { return out.Albums[i] < out.Albums[j] })
	sort.Slice(out.Artists, func(i, j int) bool { return out.Artists[i] < out.Artists[j] })
	return out
}
