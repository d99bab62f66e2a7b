// Package testutil provides shared test helpers for rooms, reference
// indexes and document trees.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/rulekeeper/internal/index"
	"github.com/starford/rulekeeper/internal/room"
	"github.com/starford/rulekeeper/internal/storage"
)

// TestDB creates a temporary reference index that is closed on cleanup.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "references.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestDocs writes files (relative path to content) into a temporary
// directory and returns a provider rooted there.
func TestDocs(t *testing.T, files map[string]string) storage.Provider {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// TestTable starts an in-memory hub and joins a GM and one player to the
// same room. Everything is closed on cleanup, after any cleanup the test
// registers later.
func TestTable(t *testing.T, playerName string) (gm, player *room.Local) {
	t.Helper()
	hub := room.NewHub(nil, nil)
	gm = hub.Join("table", room.Player{ID: "gm", Name: "GM"})
	player = hub.Join("table", room.Player{ID: "p1", Name: playerName})
	t.Cleanup(func() {
		player.Close()
		gm.Close()
		hub.Close()
	})
	return gm, player
}
