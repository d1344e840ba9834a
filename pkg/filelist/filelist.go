// Package filelist implements a sorted, persisted file-list index:
// one per fragment root, diffed on rescan to produce add/remove
// callbacks in sorted order.
package filelist

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

	"github.com/nilsgravlund/afidb/pkg/debounce"
	"github.com/nilsgravlund/afidb/pkg/persist"
)

// Kind selects the suffix/hidden-file predicate a List enforces.
type Kind int

const (
	Audio Kind = iota
	Image
)

var audioSuffixes = []string{".flac", ".mp3", ".aac", ".m4a"}
var imageSuffixes = []string{".png", ".jpg", ".jpeg", ".heic", ".hei"}

// Matches reports whether name (a base filename) belongs to this Kind's
// suffix set. Audio hides dotfiles; images do not.
func (k Kind) Matches(name string) bool {
	lower := strings.ToLower(name)
	if k == Audio && strings.HasPrefix(name, ".") {
		return false
	}
	suffixes := audioSuffixes
	if k == Image {
		suffixes = imageSuffixes
	}
	for _, sfx := range suffixes {
		if strings.HasSuffix(lower, sfx) {
			return true
		}
	}
	return false
}

// List is a persisted, sorted list of root-relative paths under Root
// matching Kind's suffix predicate. Mutations install a fresh slice
// reference rather than mutating in place, so a concurrent reader never
// observes a half-diffed list.
type List struct {
	Root string
	Kind Kind

	store    persist.Store
	itemName string
	deb      *debounce.Debouncer

	mu     sync.RWMutex
	paths  []string // sorted, forward-slash separated, relative to Root
	loaded bool
}

// New returns a List rooted at root, persisting its sorted index as
// itemName on store, debouncing saves by delay.
func New(root string, kind Kind, store persist.Store, itemName string, delay time.Duration) *List {
	l := &List{Root: root, Kind: kind, store: store, itemName: itemName}
	l.deb = debounce.New(delay, l.saveLocked)
	return l
}

// Load populates the list from store. Idempotent; a missing blob is a
// successful empty load.
func (l *List) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return nil
	}
	raw, ok, err := l.store.GetItem(ctx, l.itemName)
	if err != nil {
		return fmt.Errorf("filelist: load %q: %w", l.itemName, err)
	}
	l.loaded = true
	if !ok || raw == "" {
		return nil
	}
	lines := strings.Split(raw, "\n")
	paths := make([]string, 0, len(lines))
	for _, ln := range lines {
		if ln != "" {
			paths = append(paths, ln)
		}
	}
	l.paths = paths
	return nil
}

// ForEachFile calls fn with every currently known relative path, in sorted
// order.
func (l *List) ForEachFile(fn func(relPath string)) {
	l.mu.RLock()
	snapshot := l.paths
	l.mu.RUnlock()
	for _, p := range snapshot {
		fn(p)
	}
}

// Paths returns a snapshot of the current sorted path list.
func (l *List) Paths() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.paths))
	copy(out, l.paths)
	return out
}

// cmpPath is the case-insensitive comparator shared by sorting and
// diffing.
func cmpPath(a, b string) int {
	al, bl := strings.ToLower(a), strings.ToLower(b)
	switch {
	case al < bl:
		return -1
	case al > bl:
		return 1
	default:
		return 0
	}
}

// Rescan walks the directory tree under Root, builds a fresh sorted list
// of matching relative paths, diffs it against the previous list with a
// two-pointer lockstep comparison, and calls onAdd/onRemove in sorted
// order for each difference. The new list is installed as a single slice
// reference only after the diff completes. A missing root yields an empty
// list, not an error.
func (l *List) Rescan(onAdd, onRemove func(relPath string)) error {
	fresh := l.walk()

	l.mu.Lock()
	prev := l.paths
	l.mu.Unlock()

	i, j := 0, 0
	for i < len(prev) || j < len(fresh) {
		switch {
		case i >= len(prev):
			onAdd(fresh[j])
			j++
		case j >= len(fresh):
			onRemove(prev[i])
			i++
		default:
			switch cmpPath(prev[i], fresh[j]) {
			case 0:
				i++
				j++
			case -1: // prev[i] no longer present
				onRemove(prev[i])
				i++
			default: // fresh[j] is new
				onAdd(fresh[j])
				j++
			}
		}
	}

	l.mu.Lock()
	l.paths = fresh
	l.mu.Unlock()

	l.deb.Schedule()
	return nil
}

// walk performs the directory traversal, returning a sorted slice of
// relative paths matching l.Kind's predicate. I/O errors on individual
// entries are logged and skipped; a missing root yields an empty slice.
func (l *List) walk() []string {
	var out []string
	err := filepath.WalkDir(l.Root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			slog.Warn("filelist: walk error", "path", path, "err", walkErr)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !l.Kind.Matches(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(l.Root, path)
		if err != nil {
			slog.Warn("filelist: rel error", "path", path, "err", err)
			return nil
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("filelist: walk root failed", "root", l.Root, "err", err)
	}
	sort.Slice(out, func(i, j int) bool { return cmpPath(out[i], out[j]) < 0 })
	return out
}

// Flush forces the pending index save to fire immediately.
func (l *List) Flush(ctx context.Context) error {
	return l.deb.Trigger()
}

func (l *List) saveLocked() error {
	l.mu.RLock()
	raw := strings.Join(l.paths, "\n")
	l.mu.RUnlock()
	return l.store.SetItem(context.Background(), l.itemName, raw)
}
