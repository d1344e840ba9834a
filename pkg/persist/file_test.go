package persist

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFilePersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFilePersist(filepath.Join(dir, "afi"))
	if err != nil {
		t.Fatalf("NewFilePersist: %v", err)
	}
	ctx := context.Background()

	if _, ok, err := p.GetItem(ctx, "fileIndex"); err != nil || ok {
		t.Fatalf("GetItem on missing item = (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	if err := p.SetItem(ctx, "fileIndex", "one.flac\ntwo.flac"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}

	v, ok, err := p.GetItem(ctx, "fileIndex")
	if err != nil || !ok || v != "one.flac\ntwo.flac" {
		t.Fatalf("GetItem = (%q, %v, %v)", v, ok, err)
	}

	// SetItem again overwrites atomically.
	if err := p.SetItem(ctx, "fileIndex", "only.flac"); err != nil {
		t.Fatalf("SetItem overwrite: %v", err)
	}
	v, _, _ = p.GetItem(ctx, "fileIndex")
	if v != "only.flac" {
		t.Fatalf("GetItem after overwrite = %q, want %q", v, "only.flac")
	}
}

func TestFilePersistLocation(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFilePersist(dir)
	if err != nil {
		t.Fatalf("NewFilePersist: %v", err)
	}
	if p.Location() != dir {
		t.Fatalf("Location() = %q, want %q", p.Location(), dir)
	}
}
