// Package peer publishes a directory of Markdown notes as a GM vault into a
// room, the way the GM vault extension does for players.
package peer

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/starford/rulekeeper/internal/models"
	"github.com/starford/rulekeeper/internal/parser"
	"github.com/starford/rulekeeper/internal/storage"
)

// RootCategory holds pages that live directly in the vault directory.
const RootCategory = "General"

// Builder turns a document tree into a vault config: directories become
// categories and Markdown files become pages.
type Builder struct {
	docs   storage.Provider
	logger *slog.Logger
}

// NewBuilder creates a Builder reading from docs.
func NewBuilder(docs storage.Provider, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{docs: docs, logger: logger}
}

type categoryNode struct {
	name     string
	pages    []models.PageEntry
	children map[string]*categoryNode
}

func newNode(name string) *categoryNode {
	return &categoryNode{name: name, children: make(map[string]*categoryNode)}
}

func (n *categoryNode) child(name string) *categoryNode {
	c, ok := n.children[name]
	if !ok {
		c = newNode(name)
		n.children[name] = c
	}
	return c
}

func (n *categoryNode) toCategory() models.Category {
	cat := models.Category{Name: n.name, Pages: n.pages}
	for _, name := range sortedKeys(n.children) {
		cat.Categories = append(cat.Categories, n.children[name].toCategory())
	}
	return cat
}

func sortedKeys(m map[string]*categoryNode) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Build reads every document and assembles the vault. Unreadable files are
// logged and skipped.
func (b *Builder) Build() (models.VaultConfig, error) {
	metas, err := b.docs.List("")
	if err != nil {
		return models.VaultConfig{}, fmt.Errorf("peer: build vault: %w", err)
	}

	root := newNode("")
	for _, m := range metas {
		data, err := b.docs.Read(m.Path)
		if err != nil {
			b.logger.Warn("peer: read page failed",
				slog.String("path", m.Path),
				slog.String("error", err.Error()))
			continue
		}
		page, err := pageFromDocument(m.Path, data)
		if err != nil {
			b.logger.Warn("peer: parse page failed",
				slog.String("path", m.Path),
				slog.String("error", err.Error()))
			continue
		}

		node := root
		dir := path.Dir(m.Path)
		if dir == "." {
			node = root.child(RootCategory)
		} else {
			for _, part := range strings.Split(dir, "/") {
				node = node.child(part)
			}
		}
		node.pages = append(node.pages, page)
	}

	cfg := models.VaultConfig{Categories: []models.Category{}}
	for _, name := range sortedKeys(root.children) {
		cfg.Categories = append(cfg.Categories, root.children[name].toCategory())
	}
	return cfg, nil
}

func pageFromDocument(rel string, data []byte) (models.PageEntry, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return models.PageEntry{}, err
	}
	page := models.PageEntry{
		ID:      res.String("id"),
		Title:   res.Title,
		URL:     res.String("url"),
		Icon:    res.String("icon"),
		Visible: res.Bool("visible"),
	}
	if page.ID == "" {
		page.ID = rel
	}
	if page.Title == "" {
		page.Title = strings.TrimSuffix(path.Base(rel), ".md")
	}
	return page, nil
}

// VisibleOnly returns a copy of cfg without pages explicitly marked
// invisible. Categories left empty are kept so the tree shape is stable.
func VisibleOnly(cfg models.VaultConfig) models.VaultConfig {
	return models.VaultConfig{Categories: visibleCategories(cfg.Categories)}
}

func visibleCategories(in []models.Category) []models.Category {
	out := make([]models.Category, 0, len(in))
	for _, c := range in {
		vc := models.Category{Name: c.Name}
		for _, p := range c.Pages {
			if p.Visible != nil && !*p.Visible {
				continue
			}
			vc.Pages = append(vc.Pages, p)
		}
		if len(c.Categories) > 0 {
			vc.Categories = visibleCategories(c.Categories)
		}
		out = append(out, vc)
	}
	return out
}
