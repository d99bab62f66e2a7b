package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/rulekeeper/internal/apperr"
	"github.com/starford/rulekeeper/internal/index"
)

const (
	defaultReferenceLimit = 3
	maxExcerptRunes       = 1500
	maxHistory            = 20
)

// Completer produces a model reply for a conversation.
type Completer interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

// Vault is the cached GM vault.
type Vault interface {
	IsAvailable() bool
	Summary() string
}

// Reply is the assistant's answer to one chat turn.
type Reply struct {
	Text          string      `json:"text"`
	HTML          string      `json:"html"`
	References    []Reference `json:"references"`
	VaultIncluded bool        `json:"vault_included"`
}

// Service assembles prompts and talks to the model. The reference index and
// vault are optional.
type Service struct {
	llm      Completer
	refs     index.Searcher
	vault    Vault
	ruleset  string
	refLimit int
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithReferences enables reference lookup with at most limit excerpts per
// turn.
func WithReferences(refs index.Searcher, limit int) ServiceOption {
	return func(s *Service) {
		s.refs = refs
		if limit > 0 {
			s.refLimit = limit
		}
	}
}

// WithVault includes the vault summary in every prompt.
func WithVault(v Vault) ServiceOption {
	return func(s *Service) { s.vault = v }
}

// WithRuleset names the game system.
func WithRuleset(name string) ServiceOption {
	return func(s *Service) { s.ruleset = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service around llm.
func NewService(llm Completer, opts ...ServiceOption) *Service {
	s := &Service{
		llm:      llm,
		refLimit: defaultReferenceLimit,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Chat answers the last user message of messages. Only the most recent turns
// are sent to the model.
func (s *Service) Chat(ctx context.Context, playerName string, messages []Message) (*Reply, error) {
	if err := validateConversation(messages); err != nil {
		return nil, err
	}
	if len(messages) > maxHistory {
		messages = messages[len(messages)-maxHistory:]
		// The model requires the first turn to be from the user.
		for len(messages) > 0 && messages[0].Role != RoleUser {
			messages = messages[1:]
		}
	}

	question := messages[len(messages)-1].Content
	refs := s.lookupReferences(question)

	in := PromptInput{
		Ruleset:    s.ruleset,
		PlayerName: playerName,
		References: refs,
	}
	if s.vault != nil && s.vault.IsAvailable() {
		in.VaultSummary = s.vault.Summary()
	}

	text, err := s.llm.Complete(ctx, BuildSystemPrompt(in), messages)
	if err != nil {
		return nil, err
	}
	html, err := RenderMarkdown(text)
	if err != nil {
		s.logger.Warn("assistant: render failed", slog.String("error", err.Error()))
	}

	s.logger.Debug("assistant: answered",
		slog.Int("turns", len(messages)),
		slog.Int("references", len(refs)),
		slog.Bool("vault", in.VaultSummary != ""))

	return &Reply{
		Text:          text,
		HTML:          html,
		References:    refs,
		VaultIncluded: in.VaultSummary != "",
	}, nil
}

// SearchReferences exposes the reference index search.
func (s *Service) SearchReferences(query string, limit int) ([]index.SearchResult, error) {
	if s.refs == nil {
		return nil, fmt.Errorf("assistant: reference index: %w", apperr.ErrUnavailable)
	}
	return s.refs.Search(query, limit)
}

// ReadReference returns one reference document.
func (s *Service) ReadReference(path string) (*index.Document, error) {
	if s.refs == nil {
		return nil, fmt.Errorf("assistant: reference index: %w", apperr.ErrUnavailable)
	}
	return s.refs.GetDocument(path)
}

func (s *Service) lookupReferences(question string) []Reference {
	if s.refs == nil {
		return nil
	}
	hits, err := s.refs.Search(question, s.refLimit)
	if err != nil {
		s.logger.Warn("assistant: reference search failed", slog.String("error", err.Error()))
		return nil
	}
	refs := make([]Reference, 0, len(hits))
	for _, h := range hits {
		excerpt := h.Snippet
		if doc, err := s.refs.GetDocument(h.Path); err == nil {
			excerpt = doc.Body
		}
		refs = append(refs, Reference{
			Path:    h.Path,
			Title:   h.Title,
			Excerpt: clip(excerpt, maxExcerptRunes),
		})
	}
	return refs
}

func validateConversation(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("assistant: empty conversation: %w", apperr.ErrInvalidInput)
	}
	for i, m := range messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("assistant: message %d has role %q: %w", i, m.Role, apperr.ErrInvalidInput)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("assistant: message %d is empty: %w", i, apperr.ErrInvalidInput)
		}
	}
	if messages[len(messages)-1].Role != RoleUser {
		return fmt.Errorf("assistant: last message must come from the user: %w", apperr.ErrInvalidInput)
	}
	return nil
}

func clip(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}
