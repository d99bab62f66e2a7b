// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/rulekeeper/internal/api"
	"github.com/starford/rulekeeper/internal/index"
	"github.com/starford/rulekeeper/internal/mcpserver"
	"github.com/starford/rulekeeper/internal/sse"
)

const shutdownTimeout = 10 * time.Second

// Run starts the player assistant: it joins the room, keeps the vault cache
// and serves the HTTP API, event stream and MCP endpoint.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("room_url", cfg.Room.URL),
		slog.String("room_id", cfg.Room.RoomID),
		slog.String("namespace", cfg.Sync.Namespace),
		slog.Bool("references", cfg.References.Enabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	stack, err := newPlayerStack(ctx, cfg, broker, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	apiRouter := api.NewRouter(stack.session, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)
	mcp := mcpserver.New(stack.session, app.version)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	mountHealth(r)
	r.Mount("/api", apiRouter)
	r.With(api.AuthMiddleware(cfg.Auth.AuthEnabled(), cfg.Auth.Token)).Handle("/mcp", mcp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var background []func(context.Context) error
	if stack.refs != nil && cfg.References.Watch {
		background = append(background, func(ctx context.Context) error {
			err := index.Watch(ctx, stack.refs, stack.docs, logger, broker.PublishReferenceEvent)
			if err != nil {
				logger.Warn("reference watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	return serve(ctx, logger, httpServer, background...)
}

func mountHealth(r chi.Router) {
	ok := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
	r.Get("/health/live", ok)
	r.Get("/health/ready", ok)
}

// serve runs httpServer and background tasks until a shutdown signal
// arrives, ctx is cancelled or a task fails.
func serve(ctx context.Context, logger *slog.Logger, httpServer *http.Server, background ...func(context.Context) error) error {
	g, gCtx := errgroup.WithContext(ctx)

	for _, task := range background {
		g.Go(func() error { return task(gCtx) })
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group's context so background tasks stop once
// the HTTP server is down.
var errShutdown = errors.New("shutdown")
