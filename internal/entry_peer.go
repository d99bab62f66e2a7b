package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/starford/rulekeeper/internal/peer"
	"github.com/starford/rulekeeper/internal/room"
	"github.com/starford/rulekeeper/internal/storage"
)

// RunPeer shares a directory of Markdown notes as the GM vault of a room
// until interrupted.
func RunPeer(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config
	logger := app.logger()

	docs, err := storage.NewFS(cfg.Peer.VaultDir)
	if err != nil {
		return fmt.Errorf("open vault dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := room.Dial(ctx, cfg.Room.URL, cfg.Room.RoomID,
		room.Player{Name: cfg.Peer.OwnerName},
		room.WithClientLogger(logger),
		room.WithClientTimeout(cfg.Sync.RequestTimeout))
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	defer client.Close()

	pub := peer.NewPublisher(client, peer.NewBuilder(docs, logger),
		peer.WithLogger(logger),
		peer.WithNamespace(cfg.Sync.Namespace),
		peer.WithDebounce(cfg.Peer.Debounce))

	watchDir := ""
	if cfg.Peer.Watch {
		watchDir = docs.Root()
	}
	logger.Info("Sharing vault",
		slog.String("vault_dir", docs.Root()),
		slog.String("room_id", cfg.Room.RoomID),
		slog.Bool("watch", cfg.Peer.Watch))

	if err := pub.Run(ctx, watchDir); err != nil {
		return fmt.Errorf("publish vault: %w", err)
	}
	logger.Info("Peer stopped")
	return nil
}
