package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/rulekeeper/internal/checksum"
	"github.com/starford/rulekeeper/internal/models"
	"github.com/starford/rulekeeper/internal/room"
	"github.com/starford/rulekeeper/internal/vaultsync"
)

// DefaultDebounce delays republishing after a burst of file changes.
const DefaultDebounce = 300 * time.Millisecond

// Room is the part of the room environment the publisher writes to.
type Room interface {
	Self(ctx context.Context) (room.Player, error)
	SetMetadata(ctx context.Context, values map[string]any) error
	Broadcast(ctx context.Context, channel string, data any) error
	Subscribe(channel string, fn room.Handler) (unsubscribe func())
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithNamespace selects the key namespace shared with readers.
func WithNamespace(ns string) Option {
	return func(p *Publisher) { p.keys = vaultsync.NewKeys(ns) }
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.debounce = d
		}
	}
}

// Publisher writes the vault into room metadata, answers vault requests and
// pushes the visible pages after every change.
type Publisher struct {
	room     Room
	builder  *Builder
	keys     vaultsync.Keys
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	full     json.RawMessage
	checksum string
}

// NewPublisher creates a Publisher for r.
func NewPublisher(r Room, b *Builder, opts ...Option) *Publisher {
	p := &Publisher{
		room:     r,
		builder:  b,
		keys:     vaultsync.NewKeys(vaultsync.DefaultNamespace),
		logger:   slog.Default(),
		debounce: DefaultDebounce,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Keys returns the metadata keys and channels in use.
func (p *Publisher) Keys() vaultsync.Keys { return p.keys }

// Publish rebuilds the vault and, when it differs from the last published
// one, writes it to room metadata and pushes the visible pages. It reports
// whether anything was written.
func (p *Publisher) Publish(ctx context.Context) (bool, error) {
	cfg, err := p.builder.Build()
	if err != nil {
		return false, err
	}
	full, err := json.Marshal(cfg)
	if err != nil {
		return false, fmt.Errorf("peer: encode vault: %w", err)
	}
	visibleCfg := VisibleOnly(cfg)
	visible, err := json.Marshal(visibleCfg)
	if err != nil {
		return false, fmt.Errorf("peer: encode visible vault: %w", err)
	}
	sum := checksum.Sum(full)

	p.mu.Lock()
	unchanged := sum == p.checksum
	p.mu.Unlock()
	if unchanged {
		return false, nil
	}

	err = p.room.SetMetadata(ctx, map[string]any{
		p.keys.Config:        json.RawMessage(full),
		p.keys.VisibleConfig: json.RawMessage(visible),
		p.keys.Summary:       json.RawMessage(visible),
	})
	if err != nil {
		return false, fmt.Errorf("peer: write metadata: %w", err)
	}

	p.mu.Lock()
	p.full = full
	p.checksum = sum
	p.mu.Unlock()

	if err := p.room.Broadcast(ctx, p.keys.VisibleChannel, vaultsync.VaultMessage{Config: visible}); err != nil {
		p.logger.Warn("peer: visible push failed", slog.String("error", err.Error()))
	}

	p.logger.Info("peer: vault published",
		slog.Int("pages", countPages(cfg.Categories)),
		slog.Int("visible_pages", countPages(visibleCfg.Categories)),
		slog.String("checksum", sum[:12]))
	return true, nil
}

func countPages(cats []models.Category) int {
	n := 0
	for _, c := range cats {
		n += len(c.Pages) + countPages(c.Categories)
	}
	return n
}

// handleRequest answers a vault request with the full config.
func (p *Publisher) handleRequest(msg room.Message) {
	var req vaultsync.VaultRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		p.logger.Debug("peer: ignoring malformed vault request", slog.String("error", err.Error()))
		return
	}
	p.mu.Lock()
	full := p.full
	p.mu.Unlock()
	if full == nil {
		return
	}

	requester := req.RequesterID
	if requester == "" {
		requester = msg.SenderID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.room.Broadcast(ctx, p.keys.ResponseChannel, vaultsync.VaultMessage{Config: full, RequesterID: requester})
	if err != nil {
		p.logger.Warn("peer: vault response failed",
			slog.String("requester", requester),
			slog.String("error", err.Error()))
		return
	}
	p.logger.Debug("peer: answered vault request",
		slog.String("requester", requester),
		slog.String("name", req.RequesterName))
}

// Run publishes the vault, answers requests and, when watchDir is set,
// republishes on file changes under it until ctx is done.
func (p *Publisher) Run(ctx context.Context, watchDir string) error {
	unsub := p.room.Subscribe(p.keys.RequestChannel, p.handleRequest)
	defer unsub()

	if self, err := p.room.Self(ctx); err == nil {
		p.logger.Info("peer: publishing vault", slog.String("as", self.Name), slog.String("id", self.ID))
	}

	if _, err := p.Publish(ctx); err != nil {
		return err
	}

	if watchDir == "" {
		<-ctx.Done()
		return nil
	}
	return p.watch(ctx, watchDir)
}
