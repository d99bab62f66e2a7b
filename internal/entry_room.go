package internal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/rulekeeper/internal/room"
)

// RunRoom hosts rooms over websocket for players and GM peers to join.
func RunRoom(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config.RoomHost
	logger := app.logger()

	var store room.Store
	if cfg.SQLitePath != "" {
		s, err := room.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("init room store: %w", err)
		}
		defer s.Close()
		store = s
	} else {
		logger.Warn("room metadata is kept in memory and lost on restart")
		store = room.NewMemoryStore()
	}

	hub := room.NewHub(store, logger)
	defer hub.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Mount("/", room.NewServer(hub, logger).Handler())

	logger.Info("Room host configured",
		slog.String("address", cfg.Address()),
		slog.String("sqlite_path", cfg.SQLitePath))

	return serve(ctx, logger, &http.Server{
		Addr:              cfg.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	})
}
