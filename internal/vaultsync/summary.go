package vaultsync

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starford/rulekeeper/internal/models"
)

const (
	summaryHeader   = "## Game Master Vault (reference pages shared by the GM)"
	defaultPageIcon = "📄"
)

// renderSummary formats snap for inclusion in an LLM system prompt. The
// output is lossy and cannot be parsed back into a snapshot.
func renderSummary(snap *models.Snapshot) string {
	if snap == nil || len(snap.Pages) == 0 {
		return ""
	}

	groups := make(map[string][]models.Page)
	for _, p := range snap.Pages {
		groups[p.Category] = append(groups[p.Category], p)
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(summaryHeader)
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d pages in %d categories\n", len(snap.Pages), len(snap.Categories))
	for _, name := range names {
		fmt.Fprintf(&b, "\n### %s\n", name)
		for _, p := range groups[name] {
			icon := p.Icon
			if icon == "" {
				icon = defaultPageIcon
			}
			fmt.Fprintf(&b, "- %s %s\n", icon, p.Title)
		}
	}
	return b.String()
}
