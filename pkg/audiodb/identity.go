package audiodb

import (
	"strconv"
	"strings"

	"github.com/nilsgravlund/afidb/pkg/model"
	"github.com/nilsgravlund/afidb/pkg/xhash"
)

// mintAlbumKey mints "L<hash>" over
// norm(title)*norm(primary-artist-join)*year for a normal album, or
// norm(title)*<vatype>*year for a VA/OST album (artist identity is
// ignored for those). Collisions are resolved by the shared chained-
// rehash policy.
func (db *Database) mintAlbumKey(title string, year int, primaryNames []string, vatype model.VAType) model.AlbumKey {
	var payload string
	if vatype != model.VANone {
		payload = model.Norm(title) + "*" + string(vatype) + "*" + strconv.Itoa(year)
	} else {
		normed := make([]string, len(primaryNames))
		for i, n := range primaryNames {
			normed[i] = model.Norm(n)
		}
		payload = model.Norm(title) + "*" + strings.Join(normed, ",") + "*" + strconv.Itoa(year)
	}
	_, enc := xhash.ChainedMint(db.albumKeyClaims, 0, []byte(payload))
	return model.AlbumKey("L" + enc)
}

// mintArtistKey mints "R<hash>" over norm(name).
func (db *Database) mintArtistKey(name string) model.ArtistKey {
	_, enc := xhash.ChainedMint(db.artistKeyClaims, 0, []byte(model.Norm(name)))
	return model.ArtistKey("R" + enc)
}

// reclaimKeysLocked re-populates albumKeyClaims/artistKeyClaims after a
// Load so that minting a key for a brand-new album/artist after restart
// still rehashes around every slot a loaded entity already occupies,
// instead of rediscovering the same hash and silently aliasing two
// distinct entities. The claimed payload recorded here is a sentinel
// derived from the entity's own key rather than its original mint
// payload (artist display names used to mint an album key aren't
// recoverable from the loaded graph alone); ChainedMint only needs the
// slot marked taken, not the original payload text, to rehash correctly
// around it. Caller must hold db.mu.
func (db *Database) reclaimKeysLocked() {
	for key := range db.albums {
		enc := strings.TrimPrefix(string(key), "L")
		if _, taken := db.albumKeyClaims[enc]; !taken {
			db.albumKeyClaims[enc] = "reclaimed:" + string(key)
		}
	}
	for key := range db.artists {
		enc := strings.TrimPrefix(string(key), "R")
		if _, taken := db.artistKeyClaims[enc]; !taken {
			db.artistKeyClaims[enc] = "reclaimed:" + string(key)
		}
	}
}

// splitArtistNames splits a raw tag artist/album-artist string on the
// usual multi-artist separators (",", " & ", " and ", " feat. ", " feat ",
// " ft. ", " ft ", " featuring ")
// into individual display names, trimmed and de-duplicated, order
// preserved. A tag library returning a single combined string is the
// common case this exists to handle; a library that already splits
// artists would make this a no-op passthrough.
func splitArtistNames(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	replacer := strings.NewReplacer(
		" featuring ", ",", " feat. ", ",", " feat ", ",", " ft. ", ",", " ft ", ",",
		" & ", ",", " and ", ",",
	)
	parts := strings.Split(replacer.Replace(raw), ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// resolveArtist resolves name to its ArtistKey via artistNameIndex,
// creating a fresh Artist when no equivalent normalized name exists yet.
// Names collapsing to the same normal form share one artist.
func (db *Database) resolveArtist(name string) model.ArtistKey {
	norm := model.Norm(name)
	if key, ok := db.artistNameIndex[norm]; ok {
		return key
	}
	key := db.mintArtistKey(name)
	db.artists[key] = &model.Artist{Key: key, Name: name}
	db.artistNameIndex[norm] = key
	return key
}

// keySetEqual reports whether a and b contain the same ArtistKeys,
// irrespective of order. Used for the "primaryArtists equals the
// incoming set" match rule in getOrNewAlbum.
func keySetEqual(a, b []model.ArtistKey) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[model.ArtistKey]struct{}, len(a))
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}

// keyIntersect returns the ArtistKeys present in both a and b, preserving
// a's order.
func keyIntersect(a, b []model.ArtistKey) []model.ArtistKey {
	set := make(map[model.ArtistKey]struct{}, len(b))
	for _, k := range b {
		set[k] = struct{}{}
	}
	var out []model.ArtistKey
	for _, k := range a {
		if _, ok := set[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// keyContains reports whether set contains k.
func keyContains(set []model.ArtistKey, k model.ArtistKey) bool {
	for _, s := range set {
		if s == k {
			return true
		}
	}
	return false
}

// keyRemoveAll returns set with every key in remove filtered out,
// preserving order.
func keyRemoveAll(set, remove []model.ArtistKey) []model.ArtistKey {
	if len(remove) == 0 {
		return set
	}
	var out []model.ArtistKey
	for _, k := range set {
		if !keyContains(remove, k) {
			out = append(out, k)
		}
	}
	return out
}

// keyAppendUnique appends keys to dst that are not already present.
func keyAppendUnique(dst []model.ArtistKey, keys ...model.ArtistKey) []model.ArtistKey {
	for _, k := range keys {
		if !keyContains(dst, k) {
			dst = append(dst, k)
		}
	}
	return dst
}

// songKeyAppendUnique appends k to dst if not already present.
func songKeyAppendUnique(dst []model.SongKey, k model.SongKey) []model.SongKey {
	for _, s := range dst {
		if s == k {
			return dst
		}
	}
	return append(dst, k)
}

// albumKeyAppendUnique appends k to dst if not already present.
func albumKeyAppendUnique(dst []model.AlbumKey, k model.AlbumKey) []model.AlbumKey {
	for _, a := range dst {
		if a == k {
			return dst
		}
	}
	return append(dst, k)
}

// spliceSong removes key from songs, preserving order.
func spliceSong(songs []model.SongKey, key model.SongKey) []model.SongKey {
	out := songs[:0:0]
	for _, s := range songs {
		if s != key {
			out = append(out, s)
		}
	}
	return out
}

// spliceAlbum removes key from albums, preserving order.
func spliceAlbum(albums []model.AlbumKey, key model.AlbumKey) []model.AlbumKey {
	out := albums[:0:0]
	for _, a := range albums {
		if a != key {
			out = append(out, a)
		}
	}
	return out
}
