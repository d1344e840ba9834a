package metastore

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/nilsgravlund/afidb/pkg/model"
	"github.com/nilsgravlund/afidb/pkg/persist"
)

func TestSetGetRoundTrip(t *testing.T) {
	p, err := persist.NewFilePersist(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := New("/music", p, "cache", 5*time.Millisecond)
	md := model.Metadata{OriginalPath: "a.mp3", Title: "A Song", Artist: "Someone", Album: "Album", Track: 1}
	s.Set("a.mp3", md)

	got, ok := s.Get("a.mp3")
	if !ok || !reflect.DeepEqual(got, md) {
		t.Fatalf("got %+v, want %+v", got, md)
	}

	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	s2 := New("/music", p, "cache", 5*time.Millisecond)
	if err := s2.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	got2, ok := s2.Get("a.mp3")
	if !ok || !reflect.DeepEqual(got2, md) {
		t.Fatalf("after reload: got %+v, want %+v", got2, md)
	}
}

func TestSetNoOpOnEqual(t *testing.T) {
	p, _ := persist.NewFilePersist(t.TempDir())
	s := New("/music", p, "cache", time.Hour)
	md := model.Metadata{OriginalPath: "a.mp3", Variations: []string{"live", "remix"}}
	s.Set("a.mp3", md)
	s.deb.Stop() // pretend the first save already happened

	md2 := md
	md2.Variations = []string{"remix", "live"} // same set, different order
	s.Set("a.mp3", md2)
	// No panic/deadlock and the entry stays the first value is the
	// behavior under test; equality is set-based so this Set is a no-op.
	got, _ := s.Get("a.mp3")
	if !sameSetForTest(got.Variations, md.Variations) {
		t.Fatalf("expected unchanged variations, got %v", got.Variations)
	}
}

func sameSetForTest(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := map[string]int{}
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		seen[v]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

func TestDoNotRetrySet(t *testing.T) {
	p, _ := persist.NewFilePersist(t.TempDir())
	s := New("/music", p, "cache", time.Hour)
	if !s.ShouldRetry("bad.mp3") {
		t.Fatal("expected retryable before MarkFailed")
	}
	s.MarkFailed("bad.mp3")
	if s.ShouldRetry("bad.mp3") {
		t.Fatal("expected not retryable after MarkFailed")
	}
}

func TestRelPathRejectsOutsideRoot(t *testing.T) {
	p, _ := persist.NewFilePersist(t.TempDir())
	s := New("/music/root", p, "cache", time.Hour)
	if _, err := s.RelPath("/elsewhere/x.mp3"); err != ErrInvalidPath {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	rel, err := s.RelPath("/music/root/sub/a.mp3")
	if err != nil || rel != "sub/a.mp3" {
		t.Fatalf("got %q, %v", rel, err)
	}
}
