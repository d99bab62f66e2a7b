// Package storage reads Markdown documents from a directory tree.
package storage

import "github.com/starford/rulekeeper/internal/models"

// Provider gives read access to a tree of Markdown documents. Paths are
// slash-separated and relative to the provider root.
type Provider interface {
	// List returns metadata for every .md file under dir. Hidden files and
	// directories are skipped.
	List(dir string) ([]models.DocumentMeta, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Root returns the absolute directory backing the provider.
	Root() string
}
