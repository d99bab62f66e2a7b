// Package models defines the domain types for Rulekeeper.
package models

import "time"

// Category is one node of the GM vault tree as published by the peer.
type Category struct {
	Name       string      `json:"name"`
	Pages      []PageEntry `json:"pages,omitempty"`
	Categories []Category  `json:"categories,omitempty"`
}

// PageEntry is a page inside a published Category.
type PageEntry struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Icon    string `json:"icon,omitempty"`
	Visible *bool  `json:"visible,omitempty"`
}

// VaultConfig is the payload the peer writes to room metadata and sends
// over broadcast channels.
type VaultConfig struct {
	Categories []Category `json:"categories"`
}

// Page is a flattened vault page. Category holds the fully-qualified path
// of the owning category at flatten time.
type Page struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	Icon     string `json:"icon,omitempty"`
	Category string `json:"category"`
	Visible  bool   `json:"visible"`
}

// Snapshot is the flattened, cached view of a vault. A Snapshot is never
// mutated after it has been published.
type Snapshot struct {
	Categories []string  `json:"categories"`
	Pages      []Page    `json:"pages"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DocumentMeta is a lightweight description of a Markdown file on disk.
type DocumentMeta struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
