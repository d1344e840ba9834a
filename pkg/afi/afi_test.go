package afi

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nilsgravlund/afidb/pkg/objstore"
	"github.com/nilsgravlund/afidb/pkg/persist"
	"github.com/nilsgravlund/afidb/pkg/xhash"
)

func newTestAFI(t *testing.T, root string) *AFI {
	t.Helper()
	ps, err := persist.NewFilePersist(root)
	if err != nil {
		t.Fatal(err)
	}
	backend, err := objstore.NewLocalFS(filepath.Join(root, "images"))
	if err != nil {
		t.Fatal(err)
	}
	a, err := New(root, Options{
		Registry:     xhash.NewRegistry(),
		PersistStore: ps,
		ImageBackend: backend,
		Debounce:     5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestMakeSongKeyDeterministic(t *testing.T) {
	root := t.TempDir()
	a := newTestAFI(t, root)

	abs := filepath.Join(root, "Artist - 2000 - Album", "01 - Song.mp3")
	k1, err := a.MakeSongKey(abs)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := a.MakeSongKey(abs)
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Fatalf("expected deterministic key, got %q then %q", k1, k2)
	}
	if k1[0] != 'S' {
		t.Fatalf("expected key to start with S, got %q", k1)
	}
}

func TestGetMetadataForSongFilenamePattern(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "The Artist - 2000 - The Album")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	abs := filepath.Join(dir, "01 - A Song.mp3")
	if err := os.WriteFile(abs, []byte("not really audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := newTestAFI(t, root)
	md, ok, err := a.GetMetadataForSong(abs)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected metadata resolved from filename pattern")
	}
	if md.Artist != "The Artist" || md.Album != "The Album" || md.Title != "A Song" || md.Track != 1 {
		t.Fatalf("got %+v", md)
	}
}

func TestGetMetadataForSongDoesNotRetryAfterFailure(t *testing.T) {
	root := t.TempDir()
	abs := filepath.Join(root, "unparseable.mp3")
	if err := os.WriteFile(abs, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := newTestAFI(t, root)

	_, ok, err := a.GetMetadataForSong(abs)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected failure for unparseable file with no pattern match")
	}
	// Second call must hit the do-not-retry fast path, not attempt to
	// open/parse the file again.
	_, ok2, err2 := a.GetMetadataForSong(abs)
	if err2 != nil {
		t.Fatal(err2)
	}
	if ok2 {
		t.Fatal("expected second call to also report failure (do-not-retry)")
	}
}

func TestFolderImageDiscovery(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Artist - 2001 - Album")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	song := filepath.Join(dir, "01 - Song.mp3")
	if err := os.WriteFile(song, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	small := filepath.Join(dir, "small.jpg")
	big := filepath.Join(dir, "big.jpg")
	if err := os.WriteFile(small, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(big, []byte("xxxxxxxxxx"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := newTestAFI(t, root)
	var added []string
	if err := a.RescanFiles(func(p string) { added = append(added, p) }, func(string) {}); err != nil {
		t.Fatal(err)
	}
	if len(added) != 1 {
		t.Fatalf("expected 1 song added, got %v", added)
	}

	data, ok, err := a.GetImageForSong(context.Background(), song, false)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || len(data) != 10 {
		t.Fatalf("expected the larger image (10 bytes), got ok=%v len=%d", ok, len(data))
	}
}

func TestSetAndGetImageForSongPrefersBlobStore(t *testing.T) {
	root := t.TempDir()
	song := filepath.Join(root, "song.mp3")
	if err := os.WriteFile(song, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := newTestAFI(t, root)

	payload := []byte("artwork-bytes")
	if err := a.SetImageForSong(context.Background(), song, payload); err != nil {
		t.Fatal(err)
	}
	data, ok, err := a.GetImageForSong(context.Background(), song, true)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(data) != string(payload) {
		t.Fatalf("expected blob-store payload, got ok=%v data=%q", ok, data)
	}
}
