package pipeline

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store abstracts the destination filesystem so tests can swap it out.
// Paths are slash-separated and relative to the output root.
type Store interface {
	Save(rel string, data []byte) error
	EnsureDir(rel string) error
	RemoveDirIfEmpty(rel string) (bool, error)
}

// DiskStore writes artifacts under a fixed root directory.
type DiskStore struct {
	root string
}

// NewDiskStore creates the output root and returns a store bound to it.
func NewDiskStore(root string) (*DiskStore, error) {
	if root == "" {
		return nil, fmt.Errorf("output root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output root %q: %w", root, err)
	}
	return &DiskStore{root: root}, nil
}

// Root returns the absolute base directory of the store.
func (ds *DiskStore) Root() string {
	return ds.root
}

// Save writes data to rel, creating parent directories and overwriting any
// existing file.
func (ds *DiskStore) Save(rel string, data []byte) error {
	abs, err := ds.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create directory for %q: %w", rel, err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", rel, err)
	}
	return nil
}

// EnsureDir creates rel (and parents) as a directory.
func (ds *DiskStore) EnsureDir(rel string) error {
	abs, err := ds.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", rel, err)
	}
	return nil
}

// RemoveDirIfEmpty deletes rel when it exists and holds no entries.
func (ds *DiskStore) RemoveDirIfEmpty(rel string) (bool, error) {
	abs, err := ds.resolve(rel)
	if err != nil {
		return false, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read directory %q: %w", rel, err)
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(abs); err != nil {
		return false, fmt.Errorf("remove directory %q: %w", rel, err)
	}
	return true, nil
}

func (ds *DiskStore) resolve(rel string) (string, error) {
	if err := ValidateRelPath(rel); err != nil {
		return "", err
	}
	return filepath.Join(ds.root, filepath.FromSlash(path.Clean(rel))), nil
}

// ValidateRelPath rejects empty, absolute, or root-escaping paths.
func ValidateRelPath(rel string) error {
	if rel == "" {
		return fmt.Errorf("destination path cannot be empty")
	}
	if path.IsAbs(rel) || filepath.IsAbs(rel) {
		return fmt.Errorf("destination path %q must be relative", rel)
	}
	cleaned := path.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("destination path %q escapes the output root", rel)
	}
	return nil
}
