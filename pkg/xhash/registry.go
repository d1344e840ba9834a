package xhash

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// entry is one registered audio-file fragment's identity.
type entry struct {
	prefix string // EncodeKey(hash)
	root   string // absolute root path
	hash   uint32
	dead   bool // deregistered; slot retired, never reused by another root
}

// Registry is the process-wide mapping between a fragment's encoded hash
// prefix and its root path, and between absolute file paths and the
// fragment that owns them. It is threaded explicitly through the database
// constructor (rather than held as package-level global state) so tests can
// run isolated instances side by side.
type Registry struct {
	mu        sync.Mutex
	byPrefix  map[string]*entry
	byPathLen []*entry // kept sorted by len(root) descending for prefix lookup
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byPrefix: make(map[string]*entry)}
}

// Register mints (or retrieves) the stable hash and encoded prefix for
// root. Calling it again with the same root is idempotent. A hash collision
// with a different root rehashes (h = Hash32(h, root)) until a free slot is
// found.
func (r *Registry) Register(root string) (hash uint32, prefix string) {
	return r.register(root, Hash32(0, []byte(root)))
}

// RegisterWithHash re-registers root using a previously-minted hash
// (loaded from persisted state, e.g. the database's `indices` roster),
// preserving song-key stability across process restarts instead of
// recomputing Hash32(0, root) and risking a different rehash path than
// the one taken the first time. Collision handling is identical to
// Register: a clash with a different root rehashes forward.
func (r *Registry) RegisterWithHash(root string, hash uint32) (actualHash uint32, prefix string) {
	return r.register(root, hash)
}

func (r *Registry) register(root string, seed uint32) (hash uint32, prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.byPathLen {
		if !e.dead && e.root == root {
			return e.hash, e.prefix
		}
	}

	h := seed
	for {
		p := EncodeKey(h)
		existing, taken := r.byPrefix[p]
		if !taken {
			break
		}
		if existing.root == root {
			if existing.dead {
				// Same root re-registering after a Deregister: reviving
				// its own retired slot keeps previously-minted keys valid.
				break
			}
			return existing.hash, existing.prefix
		}
		// A dead slot claimed by a different root is retired, never
		// reused; rehash past it like a live collision.
		slog.Warn("xhash: prefix collision, rehashing", "root", root, "prefix", p)
		h = Hash32(h, []byte(root))
	}

	e := &entry{prefix: EncodeKey(h), root: root, hash: h}
	r.byPrefix[e.prefix] = e
	r.byPathLen = append(r.byPathLen, e)
	sort.SliceStable(r.byPathLen, func(i, j int) bool {
		return len(r.byPathLen[i].root) > len(r.byPathLen[j].root)
	})
	return e.hash, e.prefix
}

// Deregister retires root's hash slot. The slot is marked dead rather than
// freed, so a song key minted before deregistration never gets reassigned
// to a different root for the lifetime of the process.
func (r *Registry) Deregister(root string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byPathLen {
		if e.root == root {
			e.dead = true
		}
	}
}

// LookupByPrefix resolves an encoded hash prefix (the part of a song key
// between "S" and ":") back to its root path.
func (r *Registry) LookupByPrefix(prefix string) (root string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, taken := r.byPrefix[prefix]
	if !taken || e.dead {
		return "", false
	}
	return e.root, true
}

// LookupByPath resolves an absolute file path to the root of the fragment
// that contains it, by case-insensitive longest-prefix match.
func (r *Registry) LookupByPath(absPath string) (root string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lower := strings.ToLower(absPath)
	for _, e := range r.byPathLen {
		if e.dead {
			continue
		}
		rl := strings.ToLower(e.root)
		if lower == rl || strings.HasPrefix(lower, rl+"/") || strings.HasPrefix(lower, rl+"\\") {
			return e.root, true
		}
	}
	return "", false
}
