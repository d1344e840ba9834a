package audiodb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nilsgravlund/afidb/pkg/persist"
	"github.com/nilsgravlund/afidb/pkg/xhash"
)

func newPersistedDatabase(t *testing.T, stateDir string) *Database {
	t.Helper()
	ps, err := persist.NewFilePersist(stateDir)
	if err != nil {
		t.Fatalf("NewFilePersist: %v", err)
	}
	return New(Options{Registry: xhash.NewRegistry(), Persist: ps})
}

// TestSaveLoadRoundTrip: Save then Load into a fresh database reproduces
// an equivalent flat graph (same song, album, and artist counts, same
// keys) and reconstructs the AFI roster.
func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	stateDir := t.TempDir()
	writeSong(t, root, "Artist One", 2010, "Album One", 1, "First Song")
	writeSong(t, root, "Artist One", 2010, "Album One", 2, "Second Song")
	writeSong(t, root, "Artist Two", 2015, "Album Two", 1, "Other Song")

	ctx := context.Background()
	db1 := newPersistedDatabase(t, stateDir)
	if _, err := db1.AddFileLocation(ctx, root); err != nil {
		t.Fatalf("AddFileLocation: %v", err)
	}
	if err := db1.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := db1.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	before := db1.Flatten()

	db2 := newPersistedDatabase(t, stateDir)
	if err := db2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	after := db2.Flatten()

	if len(after.Songs) != len(before.Songs) ||
		len(after.Albums) != len(before.Albums) ||
		len(after.Artists) != len(before.Artists) {
		t.Fatalf("Flatten after reload = %+v, want counts of %+v", after, before)
	}
	for i := range before.Songs {
		if before.Songs[i] != after.Songs[i] {
			t.Fatalf("song keys diverged after reload: %v vs %v", before.Songs, after.Songs)
		}
	}

	locs := db2.GetLocations()
	absRoot, _ := filepath.Abs(root)
	if len(locs) != 1 || locs[0] != absRoot {
		t.Fatalf("GetLocations after reload = %v, want [%q]", locs, absRoot)
	}

	// A rescan of an unchanged tree must not change the flat output.
	if _, err := db2.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	again := db2.Flatten()
	if len(again.Songs) != len(after.Songs) || len(again.Albums) != len(after.Albums) {
		t.Fatalf("Refresh on an unchanged tree changed the graph: %+v -> %+v", after, again)
	}
}

// TestLoadMissingBlobIsEmptySuccess: an empty persist is a successful
// empty load, not a crash.
func TestLoadMissingBlobIsEmptySuccess(t *testing.T) {
	db := newPersistedDatabase(t, t.TempDir())
	if err := db.Load(context.Background()); err != nil {
		t.Fatalf("Load on empty persist: %v", err)
	}
	if flat := db.Flatten(); len(flat.Songs) != 0 {
		t.Fatalf("expected empty graph, got %+v", flat)
	}
}

// TestAlbumPictureFallsBackToFolderImage: an album with no explicitly-set
// artwork serves the folder image its songs' directory carries, through
// the AFI fan-out.
func TestAlbumPictureFallsBackToFolderImage(t *testing.T) {
	root := t.TempDir()
	stateDir := t.TempDir()
	songPath := writeSong(t, root, "Cover Band", 1986, "Covered", 1, "Song")
	cover := filepath.Join(filepath.Dir(songPath), "folder.jpg")
	if err := os.WriteFile(cover, []byte("nineteen-byte-image"), 0o644); err != nil {
		t.Fatalf("write cover: %v", err)
	}

	ctx := context.Background()
	db := newPersistedDatabase(t, stateDir)
	if _, err := db.AddFileLocation(ctx, root); err != nil {
		t.Fatalf("AddFileLocation: %v", err)
	}

	flat := db.Flatten()
	if len(flat.Albums) != 1 {
		t.Fatalf("Flatten = %+v, want one album", flat)
	}
	data, ok, err := db.GetAlbumPicture(ctx, flat.Albums[0])
	if err != nil {
		t.Fatalf("GetAlbumPicture: %v", err)
	}
	if !ok || len(data) != 19 {
		t.Fatalf("GetAlbumPicture = (ok=%v, len=%d), want the 19-byte folder image", ok, len(data))
	}

	// An explicitly-set picture takes precedence over the fallback.
	if err := db.SetAlbumPicture(ctx, flat.Albums[0], []byte("explicit")); err != nil {
		t.Fatalf("SetAlbumPicture: %v", err)
	}
	data, ok, err = db.GetAlbumPicture(ctx, flat.Albums[0])
	if err != nil || !ok || string(data) != "explicit" {
		t.Fatalf("GetAlbumPicture after set = (%q, %v, %v)", data, ok, err)
	}
}
