package vaultsync

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/starford/rulekeeper/internal/models"
)

// PathSeparator joins ancestor category names into a fully-qualified path.
const PathSeparator = " > "

const (
	defaultCategoryName = "Uncategorized"
	defaultPageTitle    = "Untitled"
)

// rawConfig is the peer-supplied vault object. Categories stays raw so that
// an absent or null collection can be told apart from an empty one, and so
// entries can be decoded one at a time. Config covers values stored in the
// {config: ...} envelope.
type rawConfig struct {
	Categories json.RawMessage `json:"categories"`
	Config     json.RawMessage `json:"config"`
}

type rawCategory struct {
	Name       string
	Pages      []rawPage
	Categories []rawCategory
}

type rawPage struct {
	ID     string
	Title  string
	URL    string
	Icon   string
	Hidden bool
}

// flexString accepts a JSON string or number. Peers have sent numeric ids.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// decodeConfig returns the category list of raw, unwrapping one level of
// {config: ...} envelope. ok is false when raw has no categories collection.
// Entries inside the collection are decoded leniently: malformed categories
// and pages are skipped and wrong-typed fields fall back to defaults.
func decodeConfig(raw json.RawMessage) ([]rawCategory, bool) {
	return decodeConfigDepth(raw, 0)
}

func decodeConfigDepth(raw json.RawMessage, depth int) ([]rawCategory, bool) {
	if isNull(raw) {
		return nil, false
	}
	var cfg rawConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, false
	}
	if !isNull(cfg.Categories) {
		var items []json.RawMessage
		if err := json.Unmarshal(cfg.Categories, &items); err != nil {
			return nil, false
		}
		return decodeCategories(items), true
	}
	if depth == 0 && !isNull(cfg.Config) {
		return decodeConfigDepth(cfg.Config, depth+1)
	}
	return nil, false
}

func decodeCategories(items []json.RawMessage) []rawCategory {
	out := make([]rawCategory, 0, len(items))
	for _, item := range items {
		fields, ok := decodeObject(item)
		if !ok {
			continue
		}
		out = append(out, rawCategory{
			Name:       stringField(fields["name"]),
			Pages:      decodePages(arrayField(fields["pages"])),
			Categories: decodeCategories(arrayField(fields["categories"])),
		})
	}
	return out
}

func decodePages(items []json.RawMessage) []rawPage {
	out := make([]rawPage, 0, len(items))
	for _, item := range items {
		fields, ok := decodeObject(item)
		if !ok {
			continue
		}
		var id flexString
		if raw, ok := fields["id"]; ok {
			if err := json.Unmarshal(raw, &id); err != nil {
				id = ""
			}
		}
		out = append(out, rawPage{
			ID:     string(id),
			Title:  stringField(fields["title"]),
			URL:    stringField(fields["url"]),
			Icon:   stringField(fields["icon"]),
			Hidden: bytes.Equal(bytes.TrimSpace(fields["visible"]), []byte("false")),
		})
	}
	return out
}

// decodeObject reports false for anything that is not a JSON object,
// including null.
func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if isNull(raw) {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	return fields, true
}

func stringField(raw json.RawMessage) string {
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

func arrayField(raw json.RawMessage) []json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// flatten walks categories depth-first and builds a new snapshot. Category
// paths are collected once each, in first-visit order. Pages explicitly
// marked invisible are dropped; a repeated page id keeps its first entry.
func flatten(categories []rawCategory, now time.Time) *models.Snapshot {
	snap := &models.Snapshot{
		Categories: []string{},
		Pages:      []models.Page{},
		UpdatedAt:  now,
	}
	seenPaths := make(map[string]struct{})
	seenIDs := make(map[string]struct{})

	var walk func(cats []rawCategory, parent string)
	walk = func(cats []rawCategory, parent string) {
		for _, c := range cats {
			name := strings.TrimSpace(c.Name)
			if name == "" {
				name = defaultCategoryName
			}
			path := name
			if parent != "" {
				path = parent + PathSeparator + name
			}
			if _, ok := seenPaths[path]; !ok {
				seenPaths[path] = struct{}{}
				snap.Categories = append(snap.Categories, path)
			}

			for _, p := range c.Pages {
				if p.Hidden {
					continue
				}
				id := p.ID
				if id != "" {
					if _, dup := seenIDs[id]; dup {
						continue
					}
					seenIDs[id] = struct{}{}
				}
				title := strings.TrimSpace(p.Title)
				if title == "" {
					title = defaultPageTitle
				}
				snap.Pages = append(snap.Pages, models.Page{
					ID:       id,
					Title:    title,
					URL:      p.URL,
					Icon:     p.Icon,
					Category: path,
					Visible:  true,
				})
			}

			walk(c.Categories, path)
		}
	}
	walk(categories, "")
	return snap
}
