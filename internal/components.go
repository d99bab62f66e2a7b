package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/rulekeeper/internal/assistant"
	"github.com/starford/rulekeeper/internal/index"
	"github.com/starford/rulekeeper/internal/room"
	"github.com/starford/rulekeeper/internal/session"
	"github.com/starford/rulekeeper/internal/storage"
	"github.com/starford/rulekeeper/internal/vaultsync"
)

// playerStack is everything a player-side process runs: the room
// connection, the vault cache, the optional reference index and the model
// client, tied together by a session.
type playerStack struct {
	client  *room.Client
	vault   *vaultsync.Sync
	refs    *index.DB
	docs    storage.Provider
	llm     *assistant.Client
	session *session.Session
}

func newPlayerStack(ctx context.Context, cfg *Config, events session.Events, logger *slog.Logger) (*playerStack, error) {
	ps := &playerStack{}

	client, err := room.Dial(ctx, cfg.Room.URL, cfg.Room.RoomID,
		room.Player{ID: cfg.Room.PlayerID, Name: cfg.Room.PlayerName},
		room.WithClientLogger(logger),
		room.WithClientTimeout(cfg.Sync.RequestTimeout))
	if err != nil {
		return nil, fmt.Errorf("join room: %w", err)
	}
	ps.client = client

	ps.vault = vaultsync.New(client,
		vaultsync.WithLogger(logger),
		vaultsync.WithNamespace(cfg.Sync.Namespace),
		vaultsync.WithPollInterval(cfg.Sync.PollInterval),
		vaultsync.WithRequestTimeout(cfg.Sync.RequestTimeout))

	svcOpts := []assistant.ServiceOption{
		assistant.WithVault(ps.vault),
		assistant.WithRuleset(cfg.Assistant.Ruleset),
		assistant.WithLogger(logger),
	}

	if cfg.References.Enabled() {
		if err := ps.openReferences(cfg.References, logger); err != nil {
			ps.Close()
			return nil, err
		}
		svcOpts = append(svcOpts, assistant.WithReferences(ps.refs, cfg.References.SearchLimit))
	}

	ps.llm = assistant.NewClient(cfg.Assistant.Endpoint, cfg.Assistant.APIKey, cfg.Assistant.Model,
		cfg.Assistant.MaxTokens, cfg.Assistant.Timeout)
	ps.session = session.New(ps.vault, assistant.NewService(ps.llm, svcOpts...), events, logger)

	ps.vault.Init(ctx)
	return ps, nil
}

func (ps *playerStack) openReferences(cfg ReferencesConfig, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create references dir: %w", err)
	}
	docs, err := storage.NewFS(cfg.Dir)
	if err != nil {
		return fmt.Errorf("init references storage: %w", err)
	}
	db, err := index.Open(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("init references index: %w", err)
	}
	ps.docs, ps.refs = docs, db

	stats, err := index.Sync(db, docs, logger)
	if err != nil {
		logger.Warn("initial reference sync failed", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("references indexed",
		slog.Int("indexed", stats.Indexed),
		slog.Int("removed", stats.Removed),
		slog.Int("total", stats.Total))
	return nil
}

// Close releases the stack in reverse dependency order.
func (ps *playerStack) Close() {
	if ps.vault != nil {
		ps.vault.Close()
	}
	if ps.client != nil {
		_ = ps.client.Close()
	}
	if ps.llm != nil {
		ps.llm.Close()
	}
	if ps.refs != nil {
		_ = ps.refs.Close()
	}
}
