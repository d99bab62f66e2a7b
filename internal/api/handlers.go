package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/rulekeeper/internal/apperr"
	"github.com/starford/rulekeeper/internal/assistant"
	"github.com/starford/rulekeeper/internal/session"
)

// Handler holds API route handlers.
type Handler struct {
	sess *session.Session
}

// NewHandler creates a new Handler.
func NewHandler(sess *session.Session) *Handler {
	return &Handler{sess: sess}
}

// referencePath extracts the document path from the URL (everything after
// /api/references/). Encoded slashes are accepted.
func referencePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// GetVault handles GET /api/vault.
//
//	@Summary		Cached vault status
//	@Tags			vault
//	@Produce		json
//	@Success		200	{object}	VaultStatus
//	@Security		BearerAuth
//	@Router			/vault [get]
func (h *Handler) GetVault(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Status())
}

// GetSummary handles GET /api/vault/summary.
//
//	@Summary		Vault summary as injected into assistant prompts
//	@Tags			vault
//	@Produce		json
//	@Success		200	{object}	VaultSummaryResponse
//	@Security		BearerAuth
//	@Router			/vault/summary [get]
func (h *Handler) GetSummary(w http.ResponseWriter, _ *http.Request) {
	summary := h.sess.Summary()
	writeJSON(w, http.StatusOK, VaultSummaryResponse{
		Available: summary != "",
		Summary:   summary,
	})
}

// ListPages handles GET /api/vault/pages.
//
//	@Summary		List cached vault pages
//	@Tags			vault
//	@Produce		json
//	@Param			category	query		string	false	"Category path; includes subcategories"
//	@Param			q			query		string	false	"Case-insensitive title filter"
//	@Success		200			{object}	PageListResponse
//	@Security		BearerAuth
//	@Router			/vault/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pages := h.sess.Pages(q.Get("category"), q.Get("q"))
	writeJSON(w, http.StatusOK, PageListResponse{Pages: pages, Total: len(pages)})
}

// RefreshVault handles POST /api/vault/refresh.
//
//	@Summary		Re-read shared state and ask the GM for the vault
//	@Tags			vault
//	@Produce		json
//	@Success		200	{object}	VaultStatus
//	@Security		BearerAuth
//	@Router			/vault/refresh [post]
func (h *Handler) RefreshVault(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Refresh(r.Context()))
}

// ClearVault handles DELETE /api/vault/cache.
//
//	@Summary		Drop the cached vault and fetch it again
//	@Tags			vault
//	@Produce		json
//	@Success		200	{object}	VaultStatus
//	@Security		BearerAuth
//	@Router			/vault/cache [delete]
func (h *Handler) ClearVault(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Clear(r.Context()))
}

// SearchReferences handles GET /api/references/search.
//
//	@Summary		Search rules references
//	@Tags			references
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/references/search [get]
func (h *Handler) SearchReferences(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("q is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := h.sess.SearchReferences(q, limit)
	if err != nil {
		h.writeError(w, "search references", err)
		return
	}
	if results == nil {
		results = []SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// GetReference handles GET /api/references/*.
//
//	@Summary		Read one rules reference
//	@Tags			references
//	@Produce		json
//	@Param			path	path		string	true	"Reference path"
//	@Success		200		{object}	ReferenceDocument
//	@Failure		404		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/references/{path} [get]
func (h *Handler) GetReference(w http.ResponseWriter, r *http.Request) {
	path := referencePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	doc, err := h.sess.ReadReference(path)
	if err != nil {
		h.writeError(w, "read reference", err)
		return
	}
	writeJSON(w, http.StatusOK, toReferenceDocument(doc))
}

// Chat handles POST /api/chat.
//
//	@Summary		Ask the rules assistant
//	@Tags			assistant
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ChatRequest	true	"Conversation so far"
//	@Success		200		{object}	ChatResponse
//	@Failure		400		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/chat [post]
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	reply, err := h.sess.Chat(r.Context(), req.Messages)
	if err != nil {
		h.writeError(w, "chat", err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// writeError maps domain errors to HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var retryable *assistant.RetryableError
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("not available"))
	case errors.As(err, &retryable):
		slog.Warn(op+" failed", slog.Int("status", retryable.StatusCode), slog.String("error", err.Error()))
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, errorBody("assistant busy, retry later"))
	case op == "chat":
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("assistant request failed"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
