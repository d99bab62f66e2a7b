package index

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/rulekeeper/internal/apperr"
	"github.com/starford/rulekeeper/internal/storage"
)

var quietLogger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents`).Scan(&count); err != nil {
		t.Fatalf("documents table missing: %v", err)
	}
}

func TestUpsertAndGetDocument(t *testing.T) {
	db := testDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	row := DocumentRow{
		Path:      "combat/grapple.md",
		Title:     "Grappling",
		Checksum:  "abc123",
		Tags:      []string{"combat"},
		UpdatedAt: now,
	}
	if err := db.Upsert(row, "Make an Athletics check."); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	doc, err := db.GetDocument("combat/grapple.md")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Title != "Grappling" || doc.Body != "Make an Athletics check." || doc.Checksum != "abc123" {
		t.Errorf("doc = %+v", doc)
	}
	if len(doc.Tags) != 1 || doc.Tags[0] != "combat" {
		t.Errorf("tags = %v", doc.Tags)
	}
	if !doc.UpdatedAt.Equal(now) {
		t.Errorf("updated_at = %v, want %v", doc.UpdatedAt, now)
	}

	if n, _ := db.Count(); n != 1 {
		t.Errorf("count = %d", n)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetDocument("missing.md")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	cs, err := db.GetChecksum("missing.md")
	if err != nil || cs != "" {
		t.Errorf("GetChecksum = %q, %v", cs, err)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.Upsert(DocumentRow{Path: "up.md", Title: "Old", Checksum: "1", UpdatedAt: now}, "old body")
	_ = db.Upsert(DocumentRow{Path: "up.md", Title: "New", Checksum: "2", UpdatedAt: now}, "new body")

	doc, err := db.GetDocument("up.md")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Checksum != "2" || doc.Title != "New" || doc.Body != "new body" {
		t.Errorf("doc = %+v", doc)
	}
	if n, _ := db.Count(); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestDelete(t *testing.T) {
	db := testDB(t)
	_ = db.Upsert(DocumentRow{Path: "del.md", Checksum: "x", UpdatedAt: time.Now()}, "body")
	if err := db.Delete("del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if cs, _ := db.GetChecksum("del.md"); cs != "" {
		t.Errorf("deleted document still has checksum %q", cs)
	}
}

func TestSearch_RanksByMatchingTerms(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.Upsert(DocumentRow{Path: "a.md", Title: "Grappling", Checksum: "1", UpdatedAt: now}, "A grapple uses an Athletics check against the target.")
	_ = db.Upsert(DocumentRow{Path: "b.md", Title: "Skills", Checksum: "2", UpdatedAt: now}, "Athletics covers climbing and swimming.")
	_ = db.Upsert(DocumentRow{Path: "c.md", Title: "Spells", Checksum: "3", UpdatedAt: now}, "Fireball deals fire damage.")

	results, err := db.Search("How does a grapple Athletics check work?", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v, want 2 hits", results)
	}
	if results[0].Path != "a.md" {
		t.Errorf("top hit = %s, want a.md", results[0].Path)
	}
	if results[0].Snippet == "" {
		t.Error("expected a snippet")
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	db := testDB(t)
	_ = db.Upsert(DocumentRow{Path: "a.md", Checksum: "1", UpdatedAt: time.Now()}, "anything")
	results, err := db.Search("a ?! to", 10)
	if err != nil || len(results) != 0 {
		t.Errorf("results = %v, err = %v", results, err)
	}
}

func TestSearchTerms(t *testing.T) {
	got := searchTerms("Can I GRAPPLE a grapple-ready ogre, or not?")
	want := []string{"can", "grapple", "ready", "ogre", "not"}
	if len(got) != len(want) {
		t.Fatalf("terms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("terms[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func writeDoc(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSync(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "conditions.md", "# Conditions\nProne, restrained.\n")
	writeDoc(t, dir, "house/rest.md", "---\ntitle: Long Rest\ntags: [house]\n---\nEight hours.\n")
	writeDoc(t, dir, "untitled.md", "no heading\n")
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	db := testDB(t)

	stats, err := Sync(db, store, quietLogger)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.Indexed != 3 || stats.Removed != 0 || stats.Total != 3 {
		t.Errorf("first sync stats = %+v", stats)
	}
	doc, err := db.GetDocument("house/rest.md")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "Long Rest" || doc.Body != "Eight hours.\n" {
		t.Errorf("doc = %+v", doc)
	}
	if doc, _ := db.GetDocument("untitled.md"); doc == nil || doc.Title != "untitled.md" {
		t.Errorf("untitled doc = %+v", doc)
	}

	stats, _ = Sync(db, store, quietLogger)
	if stats.Indexed != 0 {
		t.Errorf("unchanged sync indexed %d", stats.Indexed)
	}

	_ = os.Remove(filepath.Join(dir, "conditions.md"))
	writeDoc(t, dir, "untitled.md", "# Now Titled\n")
	stats, _ = Sync(db, store, quietLogger)
	if stats.Indexed != 1 || stats.Removed != 1 || stats.Total != 2 {
		t.Errorf("third sync stats = %+v", stats)
	}
}
