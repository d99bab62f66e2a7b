// Package session ties the vault cache, the assistant and the event stream
// together for one player's room session. The HTTP API and the MCP server
// both work through it.
package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/rulekeeper/internal/apperr"
	"github.com/starford/rulekeeper/internal/assistant"
	"github.com/starford/rulekeeper/internal/index"
	"github.com/starford/rulekeeper/internal/models"
	"github.com/starford/rulekeeper/internal/sse"
	"github.com/starford/rulekeeper/internal/vaultsync"
)

// VaultStatus summarizes the cached vault.
type VaultStatus struct {
	Available  bool       `json:"available"`
	Pages      int        `json:"pages"`
	Categories []string   `json:"categories"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	Player     string     `json:"player"`
}

// Events receives vault change notifications.
type Events interface {
	PublishVaultEvent(typ string, state sse.VaultState)
}

// Session coordinates one player's vault cache and assistant.
type Session struct {
	vault     *vaultsync.Sync
	assistant *assistant.Service
	events    Events
	logger    *slog.Logger
}

// New creates a Session. a and events may be nil; without an assistant
// chat and reference lookups report apperr.ErrUnavailable.
func New(vault *vaultsync.Sync, a *assistant.Service, events Events, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{vault: vault, assistant: a, events: events, logger: logger}
	vault.OnVaultChanged(func() { s.publish(sse.EventVaultChanged) })
	return s
}

func (s *Session) publish(typ string) {
	if s.events == nil {
		return
	}
	st := s.Status()
	s.events.PublishVaultEvent(typ, sse.VaultState{Available: st.Available, Pages: st.Pages})
}

// Status reports the cached vault state.
func (s *Session) Status() VaultStatus {
	st := VaultStatus{
		Available:  s.vault.IsAvailable(),
		Categories: []string{},
		Player:     s.vault.Self().Name,
	}
	if snap := s.vault.Data(); snap != nil {
		st.Pages = len(snap.Pages)
		st.Categories = snap.Categories
		ts := snap.UpdatedAt
		st.UpdatedAt = &ts
	}
	return st
}

// Summary returns the prompt-ready vault text, or "".
func (s *Session) Summary() string {
	return s.vault.Summary()
}

// Pages lists cached pages. category selects a category path and its
// subcategories; query matches titles case-insensitively. Empty filters
// match everything.
func (s *Session) Pages(category, query string) []models.Page {
	out := []models.Page{}
	snap := s.vault.Data()
	if snap == nil {
		return out
	}
	query = strings.ToLower(strings.TrimSpace(query))
	category = strings.TrimSpace(category)
	for _, p := range snap.Pages {
		if category != "" && p.Category != category && !strings.HasPrefix(p.Category, category+vaultsync.PathSeparator) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Title), query) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Refresh re-reads shared state and asks the GM for the vault.
func (s *Session) Refresh(ctx context.Context) VaultStatus {
	found := s.vault.RequestVaultFromGM(ctx)
	s.logger.Info("session: vault refreshed", slog.Bool("found", found))
	s.publish(sse.EventVaultRefreshed)
	return s.Status()
}

// Clear drops the cached vault and requests a fresh copy.
func (s *Session) Clear(ctx context.Context) VaultStatus {
	found := s.vault.Invalidate(ctx)
	s.logger.Info("session: vault cache cleared", slog.Bool("found", found))
	s.publish(sse.EventVaultCleared)
	return s.Status()
}

// Chat answers the conversation as the session's player.
func (s *Session) Chat(ctx context.Context, messages []assistant.Message) (*assistant.Reply, error) {
	if s.assistant == nil {
		return nil, apperr.ErrUnavailable
	}
	return s.assistant.Chat(ctx, s.vault.Self().Name, messages)
}

// SearchReferences searches the reference index.
func (s *Session) SearchReferences(query string, limit int) ([]index.SearchResult, error) {
	if s.assistant == nil {
		return nil, apperr.ErrUnavailable
	}
	return s.assistant.SearchReferences(query, limit)
}

// ReadReference loads one reference document.
func (s *Session) ReadReference(path string) (*index.Document, error) {
	if s.assistant == nil {
		return nil, apperr.ErrUnavailable
	}
	return s.assistant.ReadReference(path)
}
