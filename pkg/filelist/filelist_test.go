package filelist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nilsgravlund/afidb/pkg/persist"
)

func TestRescanDiff(t *testing.T) {
	dir := t.TempDir()
	must(t, os.WriteFile(filepath.Join(dir, "a.mp3"), []byte("x"), 0o644))
	must(t, os.WriteFile(filepath.Join(dir, "b.flac"), []byte("x"), 0o644))
	must(t, os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("x"), 0o644))

	store, err := persist.NewFilePersist(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	l := New(dir, Audio, store, "fileIndex", 10*time.Millisecond)

	var added []string
	if err := l.Rescan(func(p string) { added = append(added, p) }, func(string) {}); err != nil {
		t.Fatal(err)
	}
	if len(added) != 2 {
		t.Fatalf("expected 2 audio adds, got %v", added)
	}

	must(t, os.Remove(filepath.Join(dir, "a.mp3")))
	must(t, os.WriteFile(filepath.Join(dir, "c.m4a"), []byte("x"), 0o644))

	var added2, removed2 []string
	if err := l.Rescan(func(p string) { added2 = append(added2, p) }, func(p string) { removed2 = append(removed2, p) }); err != nil {
		t.Fatal(err)
	}
	if len(added2) != 1 || added2[0] != "c.m4a" {
		t.Fatalf("expected c.m4a added, got %v", added2)
	}
	if len(removed2) != 1 || removed2[0] != "a.mp3" {
		t.Fatalf("expected a.mp3 removed, got %v", removed2)
	}

	if err := l.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	l2 := New(dir, Audio, store, "fileIndex", 10*time.Millisecond)
	if err := l2.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := l2.Paths(); len(got) != 2 {
		t.Fatalf("expected 2 persisted paths, got %v", got)
	}
}

func TestHiddenFilesExcludedForAudio(t *testing.T) {
	dir := t.TempDir()
	must(t, os.WriteFile(filepath.Join(dir, ".hidden.mp3"), []byte("x"), 0o644))
	must(t, os.WriteFile(filepath.Join(dir, ".hidden.jpg"), []byte("x"), 0o644))

	store, _ := persist.NewFilePersist(t.TempDir())
	audio := New(dir, Audio, store, "a", time.Millisecond)
	var audioAdds []string
	_ = audio.Rescan(func(p string) { audioAdds = append(audioAdds, p) }, func(string) {})
	if len(audioAdds) != 0 {
		t.Fatalf("expected hidden audio excluded, got %v", audioAdds)
	}

	images := New(dir, Image, store, "b", time.Millisecond)
	var imageAdds []string
	_ = images.Rescan(func(p string) { imageAdds = append(imageAdds, p) }, func(string) {})
	if len(imageAdds) != 1 {
		t.Fatalf("expected hidden image included, got %v", imageAdds)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
