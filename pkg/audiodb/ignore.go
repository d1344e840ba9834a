package audiodb

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nilsgravlund/afidb/pkg/debounce"
	"github.com/nilsgravlund/afidb/pkg/persist"
)

// IgnoreKind selects how an ignore item's Value is matched against a
// candidate path.
type IgnoreKind int

const (
	// IgnorePathRoot matches any path under the given absolute directory.
	IgnorePathRoot IgnoreKind = iota
	// IgnorePathKeyword matches any path containing the given substring.
	IgnorePathKeyword
	// IgnoreDirName matches any path with a path segment equal to the
	// given name (case-insensitive), e.g. ignoring every "Bonus Tracks"
	// directory regardless of where it appears.
	IgnoreDirName
)

// IgnoreItem is one registered ignore rule.
type IgnoreItem struct {
	Kind  IgnoreKind
	Value string
}

type ignoreWire struct {
	Kind  int    `json:"kind"`
	Value string `json:"value"`
}

// ignoreRules holds the set of active ignore items, applied at the
// database's song-ingestion callback point (rather than inside an AFI's
// own directory walk) so the same rule set governs every registered
// root uniformly.
type ignoreRules struct {
	store    persist.Store
	itemName string
	deb      *debounce.Debouncer

	mu     sync.Mutex
	items  []IgnoreItem
	loaded bool
	dirty  bool
}

func newIgnoreRules(store persist.Store, itemName string, delay time.Duration) *ignoreRules {
	r := &ignoreRules{store: store, itemName: itemName}
	r.deb = debounce.New(delay, r.saveLocked)
	return r
}

func (r *ignoreRules) load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}
	r.loaded = true
	if r.store == nil {
		return nil
	}
	raw, ok, err := r.store.GetItem(ctx, r.itemName)
	if err != nil {
		return fmt.Errorf("audiodb: load ignore rules: %w", err)
	}
	if !ok || raw == "" {
		return nil
	}
	var wire []ignoreWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return fmt.Errorf("audiodb: decode ignore rules: %w", err)
	}
	items := make([]IgnoreItem, len(wire))
	for i, w := range wire {
		items[i] = IgnoreItem{Kind: IgnoreKind(w.Kind), Value: w.Value}
	}
	r.items = items
	return nil
}

// AddIgnoreItem registers a new ignore rule. Returns false if an
// equivalent rule (same kind and value) already exists.
func (db *Database) AddIgnoreItem(kind IgnoreKind, value string) bool {
	return db.ignore.add(kind, value)
}

// RemoveIgnoreItem removes a matching ignore rule. Returns false if none
// matched.
func (db *Database) RemoveIgnoreItem(kind IgnoreKind, value string) bool {
	return db.ignore.remove(kind, value)
}

// IgnoreItems returns a snapshot of every active ignore rule.
func (db *Database) IgnoreItems() []IgnoreItem {
	return db.ignore.list()
}

func (r *ignoreRules) add(kind IgnoreKind, value string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.Kind == kind && it.Value == value {
			return false
		}
	}
	r.items = append(r.items, IgnoreItem{Kind: kind, Value: value})
	r.dirty = true
	r.deb.Schedule()
	return true
}

func (r *ignoreRules) remove(kind IgnoreKind, value string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, it := range r.items {
		if it.Kind == kind && it.Value == value {
			r.items = append(r.items[:i], r.items[i+1:]...)
			r.dirty = true
			r.deb.Schedule()
			return true
		}
	}
	return false
}

func (r *ignoreRules) list() []IgnoreItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]IgnoreItem, len(r.items))
	copy(out, r.items)
	return out
}

// IsIgnored reports whether absPath matches any active ignore rule.
func (db *Database) IsIgnored(absPath string) bool {
	return db.ignore.IsIgnored(absPath)
}

func (r *ignoreRules) IsIgnored(absPath string) bool {
	r.mu.Lock()
	items := r.items
	r.mu.Unlock()

	slashPath := filepath.ToSlash(absPath)
	lowerPath := strings.ToLower(slashPath)
	for _, it := range items {
		switch it.Kind {
		case IgnorePathRoot:
			root := strings.ToLower(filepath.ToSlash(it.Value))
			if lowerPath == root || strings.HasPrefix(lowerPath, root+"/") {
				return true
			}
		case IgnorePathKeyword:
			if strings.Contains(lowerPath, strings.ToLower(it.Value)) {
				return true
			}
		case IgnoreDirName:
			want := strings.ToLower(it.Value)
			for _, seg := range strings.Split(slashPath, "/") {
				if strings.ToLower(seg) == want {
					return true
				}
			}
		}
	}
	return false
}

func (r *ignoreRules) flush(ctx context.Context) error {
	return r.deb.Trigger()
}

func (r *ignoreRules) saveLocked() error {
	r.mu.Lock()
	if !r.dirty || r.store == nil {
		r.dirty = false
		r.mu.Unlock()
		return nil
	}
	wire := make([]ignoreWire, len(r.items))
	for i, it := range r.items {
		wire[i] = ignoreWire{Kind: int(it.Kind), Value: it.Value}
	}
	r.dirty = false
	r.mu.Unlock()

	raw, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("audiodb: encode ignore rules: %w", err)
	}
	return r.store.SetItem(context.Background(), r.itemName, string(raw))
}
