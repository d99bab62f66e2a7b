// Package assistant answers rules questions with an LLM, grounding the
// conversation in reference documents and the GM vault.
package assistant

import (
	"fmt"
	"strings"
)

// DefaultRuleset names the game system when none is configured.
const DefaultRuleset = "Dungeons & Dragons 5th Edition"

// Reference is a document excerpt offered to the model.
type Reference struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
}

// PromptInput is everything the system prompt is assembled from.
type PromptInput struct {
	Ruleset      string
	PlayerName   string
	References   []Reference
	VaultSummary string
}

// BuildSystemPrompt renders the system prompt. The vault summary is appended
// verbatim as the last section.
func BuildSystemPrompt(in PromptInput) string {
	ruleset := strings.TrimSpace(in.Ruleset)
	if ruleset == "" {
		ruleset = DefaultRuleset
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a rules assistant for a tabletop role-playing game using %s.\n", ruleset)
	b.WriteString("Answer rules questions accurately and concisely. Cite the rule or page you rely on. ")
	b.WriteString("When the rules are ambiguous, say so and suggest how a Game Master might rule.\n")
	if name := strings.TrimSpace(in.PlayerName); name != "" {
		fmt.Fprintf(&b, "You are talking to %s.\n", name)
	}

	if len(in.References) > 0 {
		b.WriteString("\n## Reference documents\n")
		b.WriteString("Prefer these excerpts over general knowledge when they apply.\n")
		for _, r := range in.References {
			fmt.Fprintf(&b, "\n### %s (%s)\n%s\n", r.Title, r.Path, strings.TrimSpace(r.Excerpt))
		}
	}

	if in.VaultSummary != "" {
		b.WriteString("\n")
		b.WriteString(in.VaultSummary)
	}
	return b.String()
}
