package api

import (
	"time"

	"github.com/starford/rulekeeper/internal/assistant"
	"github.com/starford/rulekeeper/internal/index"
	"github.com/starford/rulekeeper/internal/models"
	"github.com/starford/rulekeeper/internal/session"
)

// VaultStatus is the cached vault state (aliased from the session layer).
type VaultStatus = session.VaultStatus

// VaultSummaryResponse carries the prompt-ready vault text.
type VaultSummaryResponse struct {
	Available bool   `json:"available" example:"true" validate:"required"`
	Summary   string `json:"summary" example:"## Game Master Vault ..." validate:"required"`
}

// PageListResponse wraps filtered vault pages.
type PageListResponse struct {
	Pages []models.Page `json:"pages" validate:"required"`
	Total int           `json:"total" example:"12" validate:"required"`
}

// SearchResult is a single reference hit (aliased from the index layer).
type SearchResult = index.SearchResult

// SearchResponse wraps reference search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// ReferenceDocument is a full reference document.
type ReferenceDocument struct {
	Path      string    `json:"path" example:"rules/combat.md" validate:"required"`
	Title     string    `json:"title" example:"Combat" validate:"required"`
	Tags      []string  `json:"tags" example:"combat,actions"`
	UpdatedAt time.Time `json:"updated_at"`
	Body      string    `json:"body" validate:"required"`
}

// ChatRequest is the request body for a chat turn. The last message must
// come from the user.
type ChatRequest struct {
	Messages []assistant.Message `json:"messages" validate:"required"`
}

// ChatResponse is the assistant reply (aliased from the assistant layer).
type ChatResponse = assistant.Reply

func toReferenceDocument(d *index.Document) ReferenceDocument {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return ReferenceDocument{
		Path:      d.Path,
		Title:     d.Title,
		Tags:      tags,
		UpdatedAt: d.UpdatedAt,
		Body:      d.Body,
	}
}
