package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func tempTree(t *testing.T, files map[string]string) *FS {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestRead(t *testing.T) {
	s := tempTree(t, map[string]string{"a/b/c.md": "deep"})
	got, err := s.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestListSortedAndFiltered(t *testing.T) {
	s := tempTree(t, map[string]string{
		"z.md":              "z",
		"sub/b.md":          "b",
		"readme.txt":        "not md",
		".hidden/secret.md": "skip",
		"sub/.draft.md":     "skip",
	})

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(items), items)
	}
	if items[0].Path != "sub/b.md" || items[1].Path != "z.md" {
		t.Errorf("paths = %s, %s", items[0].Path, items[1].Path)
	}
	if items[0].Checksum == "" || items[0].UpdatedAt.IsZero() {
		t.Errorf("missing metadata: %+v", items[0])
	}
}

func TestListSubdir(t *testing.T) {
	s := tempTree(t, map[string]string{"a.md": "a", "sub/b.md": "b"})
	items, err := s.List("sub")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Path != "sub/b.md" {
		t.Errorf("items = %+v", items)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempTree(t, nil)
	for _, p := range []string{"../../etc/passwd", "../outside.md", "/etc/shadow"} {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if _, err := s.List(p); err == nil {
			t.Errorf("expected error listing %q", p)
		}
	}
}

func TestIsHidden(t *testing.T) {
	cases := map[string]bool{
		"a/b.md":        false,
		".git/config":   true,
		"notes/.tmp.md": true,
		"./a.md":        false,
	}
	for in, want := range cases {
		if got := IsHidden(in); got != want {
			t.Errorf("IsHidden(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	_ = os.WriteFile(p, nil, 0o644)
	if _, err := NewFS(p); err == nil {
		t.Error("expected error when root is a file")
	}
}
