package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/rulekeeper/internal/session"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(sess *session.Session, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(sess)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Vault cache.
	r.Get("/vault", h.GetVault)
	r.Get("/vault/summary", h.GetSummary)
	r.Get("/vault/pages", h.ListPages)
	r.Post("/vault/refresh", h.RefreshVault)
	r.Delete("/vault/cache", h.ClearVault)

	// Rules references.
	r.Get("/references/search", h.SearchReferences)
	r.Get("/references/*", h.GetReference)

	r.Post("/chat", h.Chat)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
