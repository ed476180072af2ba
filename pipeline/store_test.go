package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskStoreSaveAndOverwrite(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}

	rel := "course/1-introduction/slides/intro.pdf"
	if err := store.Save(rel, []byte("first")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(rel, []byte("second")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(store.Root(), filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("content = %q, want %q", data, "second")
	}
}

func TestDiskStoreRemoveDirIfEmpty(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}

	if err := store.EnsureDir("course/empty-row"); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	removed, err := store.RemoveDirIfEmpty("course/empty-row")
	if err != nil {
		t.Fatalf("remove empty: %v", err)
	}
	if !removed {
		t.Fatalf("empty directory should be removed")
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "course", "empty-row")); !os.IsNotExist(err) {
		t.Fatalf("directory still exists after removal")
	}

	if err := store.Save("course/full-row/slides/a.pdf", []byte("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	removed, err = store.RemoveDirIfEmpty("course/full-row")
	if err != nil {
		t.Fatalf("remove non-empty: %v", err)
	}
	if removed {
		t.Fatalf("non-empty directory must not be removed")
	}

	removed, err = store.RemoveDirIfEmpty("course/never-created")
	if err != nil || removed {
		t.Fatalf("missing directory: removed=%v err=%v, want false/nil", removed, err)
	}
}

func TestValidateRelPath(t *testing.T) {
	tests := []struct {
		name    string
		rel     string
		wantErr bool
	}{
		{name: "valid nested", rel: "course/row/slides/a.pdf"},
		{name: "empty", rel: "", wantErr: true},
		{name: "absolute", rel: "/etc/passwd", wantErr: true},
		{name: "parent escape", rel: "../escape.pdf", wantErr: true},
		{name: "hidden escape", rel: "course/../../escape.pdf", wantErr: true},
		{name: "internal dotdot collapses inside", rel: "course/row/../row2/a.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRelPath(tt.rel)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRelPath(%q) = %v, wantErr=%v", tt.rel, err, tt.wantErr)
			}
		})
	}
}
