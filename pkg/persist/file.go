package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FilePersist stores each item as its own regular file under root, written
// atomically via a temp-file-then-rename.
type FilePersist struct {
	root string
}

// NewFilePersist returns a FilePersist rooted at root, creating it if
// necessary. If root is unwritable, the caller decides whether to fall
// back to a secondary location; NewFilePersist itself just reports the
// error.
func NewFilePersist(root string) (*FilePersist, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create root %q: %w", root, err)
	}
	return &FilePersist{root: root}, nil
}

func (f *FilePersist) itemPath(name string) string {
	return filepath.Join(f.root, filepath.FromSlash(name))
}

func (f *FilePersist) GetItem(_ context.Context, name string) (string, bool, error) {
	data, err := os.ReadFile(f.itemPath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("persist: read %q: %w", name, err)
	}
	return string(data), true, nil
}

func (f *FilePersist) SetItem(_ context.Context, name, value string) error {
	dest := f.itemPath(name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir for %q: %w", name, err)
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o644); err != nil {
		return fmt.Errorf("persist: write %q: %w", name, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("persist: rename %q: %w", name, err)
	}
	return nil
}

func (f *FilePersist) Location() string { return f.root }
