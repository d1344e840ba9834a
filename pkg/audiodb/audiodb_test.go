package audiodb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nilsgravlund/afidb/pkg/model"
	"github.com/nilsgravlund/afidb/pkg/xhash"
)

func newTestDatabase() *Database {
	return New(Options{Registry: xhash.NewRegistry()})
}

// writeSong creates an empty file at <root>/<artist> - <year> - <album>/<track> - <title>.mp3,
// matching the filename grammar tagparse.ParsePath expects.
func writeSong(t *testing.T, root, artist string, year int, album string, track int, title string) string {
	t.Helper()
	dir := filepath.Join(root, artist+" - "+itoa(year)+" - "+album)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %q: %v", dir, err)
	}
	name := itoa(track) + " - " + title + ".mp3"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("not really audio"), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TestAddFileLocationSingleSong: registering a root containing one
// well-formed file yields exactly one artist, one album, and one song,
// with the fields the filename grammar encodes.
func TestAddFileLocationSingleSong(t *testing.T) {
	root := t.TempDir()
	writeSong(t, root, "The Artist", 2000, "The Album", 1, "A Song")

	db := newTestDatabase()
	ctx := context.Background()

	ok, err := db.AddFileLocation(ctx, root)
	if err != nil {
		t.Fatalf("AddFileLocation: %v", err)
	}
	if !ok {
		t.Fatal("AddFileLocation returned false on a fresh root")
	}

	flat := db.Flatten()
	if len(flat.Songs) != 1 || len(flat.Albums) != 1 || len(flat.Artists) != 1 {
		t.Fatalf("Flatten = %+v, want exactly one of each", flat)
	}

	song, ok := db.GetSong(flat.Songs[0])
	if !ok {
		t.Fatal("GetSong returned false for a key Flatten just listed")
	}
	if song.Title != "A Song" {
		t.Errorf("Title = %q, want %q", song.Title, "A Song")
	}
	if song.Track != 1 {
		t.Errorf("Track = %d, want 1", song.Track)
	}
	if len(song.PrimaryArtists) != 1 {
		t.Fatalf("PrimaryArtists = %v, want exactly one", song.PrimaryArtists)
	}

	album, ok := db.GetAlbum(song.Album)
	if !ok {
		t.Fatal("GetAlbum returned false for the song's own Album key")
	}
	if album.Title != "The Album" || album.Year != 2000 {
		t.Errorf("album = %+v, want Title=%q Year=2000", album, "The Album")
	}
	if len(album.Songs) != 1 || album.Songs[0] != song.Key {
		t.Errorf("album.Songs = %v, want [%v]", album.Songs, song.Key)
	}

	artist, ok := db.GetArtist(song.PrimaryArtists[0])
	if !ok {
		t.Fatal("GetArtist returned false for the song's own primary artist")
	}
	if artist.Name != "The Artist" {
		t.Errorf("artist.Name = %q, want %q", artist.Name, "The Artist")
	}
	if len(artist.Songs) != 1 || artist.Songs[0] != song.Key {
		t.Errorf("artist.Songs = %v, want [%v]", artist.Songs, song.Key)
	}
	if len(artist.Albums) != 1 || artist.Albums[0] != album.Key {
		t.Errorf("artist.Albums = %v, want [%v]", artist.Albums, album.Key)
	}
}

// TestRemoveFileLocationRestoresEmptyGraph:
// deregistering a root cascades deletion of every song, album, and artist
// it contributed, leaving the graph exactly as it was before registration.
func TestRemoveFileLocationRestoresEmptyGraph(t *testing.T) {
	root := t.TempDir()
	writeSong(t, root, "The Artist", 2000, "The Album", 1, "A Song")

	db := newTestDatabase()
	ctx := context.Background()

	if _, err := db.AddFileLocation(ctx, root); err != nil {
		t.Fatalf("AddFileLocation: %v", err)
	}
	if flat := db.Flatten(); len(flat.Songs) != 1 {
		t.Fatalf("expected 1 song before removal, got %d", len(flat.Songs))
	}

	ok, err := db.RemoveFileLocation(ctx, root)
	if err != nil {
		t.Fatalf("RemoveFileLocation: %v", err)
	}
	if !ok {
		t.Fatal("RemoveFileLocation returned false for a known location")
	}

	flat := db.Flatten()
	if len(flat.Songs) != 0 || len(flat.Albums) != 0 || len(flat.Artists) != 0 {
		t.Fatalf("Flatten after removal = %+v, want an empty graph", flat)
	}
	if len(db.GetLocations()) != 0 {
		t.Fatalf("GetLocations after removal = %v, want none", db.GetLocations())
	}

	// Removing an unknown location is a no-op, not an error.
	ok, err = db.RemoveFileLocation(ctx, root)
	if err != nil || ok {
		t.Fatalf("second RemoveFileLocation = (%v, %v), want (false, nil)", ok, err)
	}
}

// TestDelSongByKeyThenReAddReusesAlbum: deleting one
// of two same-album songs by key shrinks the album to the survivor; a
// subsequent re-add of the deleted file reuses the same album key and
// appends the song at the end of the album's song list.
func TestDelSongByKeyThenReAddReusesAlbum(t *testing.T) {
	root := t.TempDir()
	pathA := writeSong(t, root, "The Artist", 2001, "Two Songs", 1, "Song A")
	writeSong(t, root, "The Artist", 2001, "Two Songs", 2, "Song B")

	db := newTestDatabase()
	ctx := context.Background()

	if _, err := db.AddFileLocation(ctx, root); err != nil {
		t.Fatalf("AddFileLocation: %v", err)
	}

	flat := db.Flatten()
	if len(flat.Songs) != 2 || len(flat.Albums) != 1 || len(flat.Artists) != 1 {
		t.Fatalf("Flatten = %+v, want 2 songs / 1 album / 1 artist", flat)
	}
	albumKey := flat.Albums[0]

	var keyA model.SongKey
	for _, sk := range flat.Songs {
		s, _ := db.GetSong(sk)
		if s.Title == "Song A" {
			keyA = sk
		}
	}
	if keyA == "" {
		t.Fatal("could not find Song A among the indexed songs")
	}

	if ok := db.DelSongByKey(keyA); !ok {
		t.Fatal("DelSongByKey returned false for a known key")
	}

	flat = db.Flatten()
	if len(flat.Songs) != 1 {
		t.Fatalf("Flatten after delete = %+v, want 1 remaining song", flat)
	}
	album, ok := db.GetAlbum(albumKey)
	if !ok {
		t.Fatal("album disappeared after deleting only one of its two songs")
	}
	if len(album.Songs) != 1 {
		t.Fatalf("album.Songs after delete = %v, want exactly 1", album.Songs)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		t.Fatalf("filepath.Abs: %v", err)
	}
	db.mu.Lock()
	a := db.afis[absRoot]
	db.mu.Unlock()
	if a == nil {
		t.Fatal("no AFI registered for the test root")
	}

	if err := db.AddOrUpdateSongFromPath(a, pathA); err != nil {
		t.Fatalf("re-add AddOrUpdateSongFromPath: %v", err)
	}

	album, ok = db.GetAlbum(albumKey)
	if !ok {
		t.Fatal("album key changed on re-add; expected reuse of the same album")
	}
	if len(album.Songs) != 2 {
		t.Fatalf("album.Songs after re-add = %v, want 2", album.Songs)
	}
	if album.Songs[len(album.Songs)-1] != keyA {
		t.Errorf("re-added song was not appended at the end: album.Songs = %v, want last = %v", album.Songs, keyA)
	}
}

// TestGraphInvariantsHoldAfterMutation asserts the graph's
// cross-references: every song on an album points back to
// that album, and every artist a song lists has that song among its own
// Songs, both before and after a deletion.
func TestGraphInvariantsHoldAfterMutation(t *testing.T) {
	root := t.TempDir()
	writeSong(t, root, "Artist One", 2010, "Shared Album", 1, "Track One")
	writeSong(t, root, "Artist One", 2010, "Shared Album", 2, "Track Two")
	writeSong(t, root, "Artist Two", 2012, "Solo Album", 1, "Solo Track")

	db := newTestDatabase()
	ctx := context.Background()
	if _, err := db.AddFileLocation(ctx, root); err != nil {
		t.Fatalf("AddFileLocation: %v", err)
	}

	assertInvariants(t, db)

	flat := db.Flatten()
	db.DelSongByKey(flat.Songs[0])
	assertInvariants(t, db)
}

func assertInvariants(t *testing.T, db *Database) {
	t.Helper()
	flat := db.Flatten()
	for _, sk := range flat.Songs {
		song, ok := db.GetSong(sk)
		if !ok {
			t.Fatalf("Flatten listed song %v but GetSong failed", sk)
		}
		album, ok := db.GetAlbum(song.Album)
		if !ok {
			t.Fatalf("song %v references missing album %v", sk, song.Album)
		}
		found := false
		for _, ask := range album.Songs {
			if ask == sk {
				found = true
			}
		}
		if !found {
			t.Fatalf("album %v does not list song %v", album.Key, sk)
		}
		for _, ak := range append(append([]model.ArtistKey{}, song.PrimaryArtists...), song.SecondaryArtists...) {
			artist, ok := db.GetArtist(ak)
			if !ok {
				t.Fatalf("song %v references missing artist %v", sk, ak)
			}
			foundSong := false
			for _, ask := range artist.Songs {
				if ask == sk {
					foundSong = true
				}
			}
			if !foundSong {
				t.Fatalf("artist %v does not list song %v", ak, sk)
			}
		}
	}
}
