package xhash

import "testing"

func TestHash32Deterministic(t *testing.T) {
	a := Hash32(7, []byte("relative/path.flac"))
	b := Hash32(7, []byte("relative/path.flac"))
	if a != b {
		t.Fatalf("Hash32 not deterministic: %d != %d", a, b)
	}
}

func TestEncodeKeyContainsNonAlnum(t *testing.T) {
	// At least one of a handful of hashes must encode to a string
	// containing a character outside [a-zA-Z0-9]: the standard base64
	// alphabet is in use, not a stripped-down alphanumeric one. (Not every
	// single hash, since a 4-byte encoding can land on an all-alnum string.)
	found := false
	for seed := uint32(0); seed < 64; seed++ {
		enc := EncodeKey(Hash32(seed, []byte("key")))
		for _, c := range enc {
			if !isAlnum(c) {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected at least one encoded key to contain a non-alphanumeric character")
	}
}

func isAlnum(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func TestRegistryRehashesOnCollision(t *testing.T) {
	r := NewRegistry()
	h1, p1 := r.Register("/music/one")
	if h1 == 0 && p1 == "" {
		t.Fatal("expected non-trivial registration")
	}
	// Re-registering the same root is idempotent.
	h1b, p1b := r.Register("/music/one")
	if h1 != h1b || p1 != p1b {
		t.Fatalf("re-registration changed identity: (%d,%s) != (%d,%s)", h1, p1, h1b, p1b)
	}

	// Registering a different root under /music/one's hash forces a slot
	// collision, so the registry has to rehash forward to a new prefix.
	h2, p2 := r.RegisterWithHash("/music/two", h1)
	if p1 == p2 {
		t.Fatal("two distinct roots must not share a prefix")
	}

	root, ok := r.LookupByPrefix(p2)
	if !ok || root != "/music/two" {
		t.Fatalf("LookupByPrefix(%q) = (%q, %v), want (/music/two, true)", p2, root, ok)
	}
	_ = h2
}

func TestRegistryDeregisterKeepsSlotDead(t *testing.T) {
	r := NewRegistry()
	_, prefix := r.Register("/music/root")
	r.Deregister("/music/root")

	if _, ok := r.LookupByPrefix(prefix); ok {
		t.Fatal("expected dead slot to no longer resolve")
	}

	// Re-adding the same root revives its own retired prefix (the registry
	// never frees a slot for reuse by a *different* root, but the same root
	// registering again is the same logical fragment starting over).
	_, prefix2 := r.Register("/music/root")
	if prefix2 == "" {
		t.Fatal("expected a usable prefix after re-registration")
	}
}

func TestRegistryLookupByPathCaseInsensitivePrefix(t *testing.T) {
	r := NewRegistry()
	r.Register("/Music/Library")
	root, ok := r.LookupByPath("/music/library/Artist/Album/01 - Song.flac")
	if !ok || root != "/Music/Library" {
		t.Fatalf("LookupByPath = (%q, %v), want (/Music/Library, true)", root, ok)
	}
}
