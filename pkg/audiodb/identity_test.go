package audiodb

import (
	"testing"

	"github.com/nilsgravlund/afidb/pkg/model"
	"github.com/nilsgravlund/afidb/pkg/xhash"
)

func newTestDB() *Database {
	return New(Options{})
}

func TestResolveArtistDedupesByNormalizedName(t *testing.T) {
	db := newTestDB()

	k1 := db.resolveArtist("The Beatles")
	k2 := db.resolveArtist("the   beatles")
	if k1 != k2 {
		t.Fatalf("resolveArtist not normalized: %q != %q", k1, k2)
	}
	if len(db.artists) != 1 {
		t.Fatalf("want 1 artist, got %d", len(db.artists))
	}

	k3 := db.resolveArtist("Wings")
	if k3 == k1 {
		t.Fatalf("distinct names minted the same key")
	}
}

func TestMintAlbumKeyDistinguishesVAFromNormal(t *testing.T) {
	db := newTestDB()

	normal := db.mintAlbumKey("Greatest Hits", 1999, []string{"Queen"}, model.VANone)
	va := db.mintAlbumKey("Greatest Hits", 1999, nil, model.VAVarious)
	if normal == va {
		t.Fatalf("VA and normal albums of the same title/year collided: %q", normal)
	}
}

func TestMintArtistKeyChainedRehashOnCollision(t *testing.T) {
	db := newTestDB()

	k1 := db.mintArtistKey("Alice")
	k2 := db.mintArtistKey("Bob")
	if k1 == k2 {
		t.Fatalf("distinct artists minted identical keys")
	}
	if len(db.artistKeyClaims) != 2 {
		t.Fatalf("want 2 claimed slots, got %d", len(db.artistKeyClaims))
	}

	// Force a collision by pre-claiming the slot mintArtistKey would try
	// first for "Alice" with a different payload, forcing ChainedMint to
	// rehash to a new slot.
	forced := newTestDB()
	first := xhash.EncodeKey(xhash.Hash32(0, []byte(model.Norm("Alice"))))
	forced.artistKeyClaims[first] = "someone else"
	if k := forced.mintArtistKey("Alice"); k == model.ArtistKey("R"+first) {
		t.Fatalf("mintArtistKey reused slot %q claimed by a different payload", first)
	}
}

func TestReclaimKeysLockedMarksLoadedSlotsTaken(t *testing.T) {
	db := newTestDB()

	albumKey := model.AlbumKey("Labc123")
	artistKey := model.ArtistKey("Rdef456")
	db.albums[albumKey] = &model.Album{Key: albumKey, Title: "Loaded Album"}
	db.artists[artistKey] = &model.Artist{Key: artistKey, Name: "Loaded Artist"}

	db.reclaimKeysLocked()

	if _, ok := db.albumKeyClaims["abc123"]; !ok {
		t.Fatalf("reclaimKeysLocked did not claim loaded album's slot")
	}
	if _, ok := db.artistKeyClaims["def456"]; !ok {
		t.Fatalf("reclaimKeysLocked did not claim loaded artist's slot")
	}
}

func TestReclaimKeysLockedDoesNotOverwriteExistingClaim(t *testing.T) {
	db := newTestDB()

	albumKey := model.AlbumKey("Labc123")
	db.albums[albumKey] = &model.Album{Key: albumKey}
	db.albumKeyClaims["abc123"] = "original-payload"

	db.reclaimKeysLocked()

	if db.albumKeyClaims["abc123"] != "original-payload" {
		t.Fatalf("reclaimKeysLocked clobbered an existing claim")
	}
}

func TestSplitArtistNames(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Artist A", []string{"Artist A"}},
		{"Artist A & Artist B", []string{"Artist A", "Artist B"}},
		{"Artist A feat. Artist B", []string{"Artist A", "Artist B"}},
		{"Artist A, Artist B and Artist C", []string{"Artist A", "Artist B", "Artist C"}},
		{"Artist A, artist a", []string{"Artist A"}},
		{"", nil},
	}
	for _, c := range cases {
		got := splitArtistNames(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("splitArtistNames(%q) = %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("splitArtistNames(%q) = %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestKeySetEqualIgnoresOrder(t *testing.T) {
	a := []model.ArtistKey{"R1", "R2"}
	b := []model.ArtistKey{"R2", "R1"}
	if !keySetEqual(a, b) {
		t.Fatalf("keySetEqual should ignore order")
	}
	if keySetEqual(a, []model.ArtistKey{"R1"}) {
		t.Fatalf("keySetEqual should require equal length")
	}
}

func TestKeyIntersectAndRemoveAll(t *testing.T) {
	a := []model.ArtistKey{"R1", "R2", "R3"}
	b := []model.ArtistKey{"R2", "R3", "R4"}

	common := keyIntersect(a, b)
	if len(common) != 2 || common[0] != "R2" || common[1] != "R3" {
		t.Fatalf("keyIntersect = %v", common)
	}

	remain := keyRemoveAll(a, common)
	if len(remain) != 1 || remain[0] != "R1" {
		t.Fatalf("keyRemoveAll = %v", remain)
	}
}
