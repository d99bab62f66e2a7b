// Package parser extracts frontmatter, title and tags from Markdown content.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]any
	Body        string
	Tags        []string
	Title       string
}

// Parse splits YAML frontmatter from the body and derives title and tags.
// Invalid frontmatter is not an error; the whole input is then the body.
func Parse(data []byte) (*Result, error) {
	fm, body := splitFrontmatter(data)
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(fm, body),
	}, nil
}

// String returns frontmatter key rendered as a trimmed string. Scalars of
// any YAML type are accepted so that `id: 42` reads as "42".
func (r *Result) String(key string) string {
	v, ok := r.Frontmatter[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case int, int64, uint64, float64, bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

// Bool returns frontmatter key as a bool, or nil when absent or not a bool.
func (r *Result) Bool(key string) *bool {
	v, ok := r.Frontmatter[key].(bool)
	if !ok {
		return nil
	}
	return &v
}

// Excerpt returns the first n runes of the body with whitespace collapsed.
func (r *Result) Excerpt(n int) string {
	s := strings.Join(strings.Fields(r.Body), " ")
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	body := strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data)
	}
	return fm, body
}

// extractTags collects the frontmatter "tags" list followed by inline #tags.
func extractTags(body string, fm map[string]any) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if list, ok := fm["tags"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	}
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// deriveTitle prefers frontmatter "title", then the first H1.
func deriveTitle(fm map[string]any, body string) string {
	if s, ok := fm["title"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
