// Package vaultsync keeps a local cache of the GM vault published by a peer
// extension in the same room.
//
// Three channels feed the cache: persistent room metadata, a request/response
// broadcast exchange, and a periodic re-read of the metadata. Every
// successful parse builds a new snapshot and swaps it in with a single atomic
// store. The last writer wins.
//
// Nothing in this package returns errors to callers. A missing transport,
// unreadable metadata, malformed payloads and broadcast timeouts all degrade
// to "vault unavailable" and leave any previous snapshot in place.
package vaultsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/rulekeeper/internal/models"
	"github.com/starford/rulekeeper/internal/room"
)

const (
	// DefaultPollInterval is the period of the background metadata re-read.
	DefaultPollInterval = 20 * time.Second
	// DefaultRequestTimeout bounds the wait for a broadcast reply.
	DefaultRequestTimeout = 5 * time.Second

	defaultPlayerName = "Player"
)

// Room is the host room environment used by Sync.
type Room interface {
	Self(ctx context.Context) (room.Player, error)
	Metadata(ctx context.Context) (map[string]json.RawMessage, error)
	Broadcast(ctx context.Context, channel string, data any) error
	Subscribe(channel string, fn room.Handler) (unsubscribe func())
}

// Ticker delivers poll ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Option configures a Sync.
type Option func(*Sync)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sync) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNamespace selects the metadata/channel namespace shared with the peer.
func WithNamespace(ns string) Option {
	return func(s *Sync) { s.keys = NewKeys(ns) }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Sync) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Sync) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithTicker replaces the ticker factory used by the poll loop.
func WithTicker(fn func(time.Duration) Ticker) Option {
	return func(s *Sync) {
		if fn != nil {
			s.newTicker = fn
		}
	}
}

// WithClock replaces the time source used to stamp snapshots and requests.
func WithClock(now func() time.Time) Option {
	return func(s *Sync) {
		if now != nil {
			s.now = now
		}
	}
}

// pendingRequest is the single outstanding broadcast wait. done is closed
// exactly once, by whoever takes it out of Sync.pending. abandoned is set
// before done is closed when Close ends the wait.
type pendingRequest struct {
	done      chan struct{}
	abandoned bool
}

// Sync maintains the best available vault snapshot for one room session.
type Sync struct {
	room           Room
	keys           Keys
	logger         *slog.Logger
	pollInterval   time.Duration
	requestTimeout time.Duration
	newTicker      func(time.Duration) Ticker
	now            func() time.Time

	snapshot atomic.Pointer[models.Snapshot]

	mu        sync.Mutex
	self      room.Player
	unsubs    []func()
	pending   *pendingRequest
	pollStop  context.CancelFunc
	pollDone  chan struct{}
	onChanged func()
	closed    bool
}

// New creates a Sync bound to r. A nil r is allowed: every operation then
// logs a warning and reports that no vault is available.
func New(r Room, opts ...Option) *Sync {
	s := &Sync{
		room:           r,
		keys:           NewKeys(DefaultNamespace),
		logger:         slog.Default(),
		pollInterval:   DefaultPollInterval,
		requestTimeout: DefaultRequestTimeout,
		newTicker:      newTimeTicker,
		now:            time.Now,
		self:           room.Player{Name: defaultPlayerName},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Keys returns the metadata keys and channels this Sync uses.
func (s *Sync) Keys() Keys { return s.keys }

// Self returns the resolved local participant.
func (s *Sync) Self() room.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// OnVaultChanged registers fn to run whenever a background poll observes a
// different page count. fn must not call StopPolling or Close.
func (s *Sync) OnVaultChanged(fn func()) {
	s.mu.Lock()
	s.onChanged = fn
	s.mu.Unlock()
}

// Init resolves the local player, subscribes to the inbound broadcast
// channels, loads the shared state and starts the poll. Calling Init again
// does not add subscriptions or pollers. It reports whether shared state
// held a vault.
func (s *Sync) Init(ctx context.Context) bool {
	if s.room == nil {
		s.logger.Warn("vaultsync: no room transport, vault sync disabled")
		return false
	}

	s.resolveSelf(ctx)
	s.subscribe()
	found := s.LoadFromSharedState(ctx)
	s.StartPolling()

	s.logger.Info("vaultsync: initialized",
		slog.String("player", s.Self().Name),
		slog.Bool("found", found))
	return found
}

func (s *Sync) resolveSelf(ctx context.Context) {
	p, err := s.room.Self(ctx)
	if err != nil {
		s.logger.Warn("vaultsync: resolve player failed", slog.String("error", err.Error()))
		p = room.Player{}
	}
	if p.Name == "" {
		p.Name = defaultPlayerName
	}
	s.mu.Lock()
	s.self = p
	s.mu.Unlock()
}

func (s *Sync) subscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.unsubs) > 0 || s.closed {
		return
	}
	s.unsubs = append(s.unsubs,
		s.room.Subscribe(s.keys.ResponseChannel, s.handleMessage),
		s.room.Subscribe(s.keys.VisibleChannel, s.handleMessage),
	)
}

// handleMessage serves both inbound channels.
func (s *Sync) handleMessage(msg room.Message) {
	var payload VaultMessage
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		s.logger.Debug("vaultsync: ignoring undecodable broadcast",
			slog.String("channel", msg.Channel),
			slog.String("error", err.Error()))
		return
	}
	if !s.ProcessVaultConfig(payload.Config) {
		s.logger.Debug("vaultsync: ignoring broadcast without vault", slog.String("channel", msg.Channel))
		return
	}
	s.resolvePending(payload.RequesterID)
}

// resolvePending completes the outstanding wait, if any. A reply naming a
// different requester leaves the wait in place.
func (s *Sync) resolvePending(requesterID string) {
	s.mu.Lock()
	p := s.pending
	if p == nil {
		s.mu.Unlock()
		return
	}
	if requesterID != "" && s.self.ID != "" && requesterID != s.self.ID {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.mu.Unlock()
	close(p.done)
}

func (s *Sync) clearPending(p *pendingRequest) {
	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
	}
	s.mu.Unlock()
}

// LoadFromSharedState reads room metadata and parses the first usable key
// in priority order. It reports whether a snapshot was produced.
func (s *Sync) LoadFromSharedState(ctx context.Context) bool {
	if s.room == nil {
		s.logger.Warn("vaultsync: no room transport, cannot read shared state")
		return false
	}

	meta, err := s.room.Metadata(ctx)
	if err != nil {
		s.logger.Warn("vaultsync: read shared state failed", slog.String("error", err.Error()))
		return false
	}

	for _, key := range s.keys.MetadataOrder() {
		raw, ok := meta[key]
		if !ok || isNull(raw) {
			continue
		}
		if s.ProcessVaultConfig(raw) {
			s.logger.Debug("vaultsync: loaded shared state", slog.String("key", key))
			return true
		}
		s.logger.Debug("vaultsync: malformed shared state", slog.String("key", key))
	}
	return false
}

// RequestVaultFromGM refreshes from shared state and then asks any listening
// peer for its full vault, waiting up to the request timeout for a reply.
// Concurrent callers share one outstanding request. It reports whether
// either source produced a snapshot.
func (s *Sync) RequestVaultFromGM(ctx context.Context) bool {
	if s.room == nil {
		s.logger.Warn("vaultsync: no room transport, cannot request vault")
		return false
	}

	found := s.LoadFromSharedState(ctx)
	received := s.awaitBroadcast(ctx)
	return found || received
}

func (s *Sync) awaitBroadcast(ctx context.Context) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	p := s.pending
	owner := p == nil
	if owner {
		p = &pendingRequest{done: make(chan struct{})}
		s.pending = p
	}
	self := s.self
	s.mu.Unlock()

	if owner {
		req := VaultRequest{
			RequesterID:   self.ID,
			RequesterName: self.Name,
			Timestamp:     s.now().UnixMilli(),
		}
		if err := s.room.Broadcast(ctx, s.keys.RequestChannel, req); err != nil {
			s.logger.Debug("vaultsync: vault request not sent", slog.String("error", err.Error()))
			s.clearPending(p)
			return false
		}
	}

	timer := time.NewTimer(s.requestTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return !p.abandoned
	case <-timer.C:
		s.clearPending(p)
		s.logger.Debug("vaultsync: no broadcast reply", slog.Duration("timeout", s.requestTimeout))
		return false
	case <-ctx.Done():
		s.clearPending(p)
		return false
	}
}

// ProcessVaultConfig parses a peer-supplied vault object and replaces the
// cached snapshot. Input without a categories collection is rejected and the
// cache is left untouched.
func (s *Sync) ProcessVaultConfig(raw json.RawMessage) bool {
	categories, ok := decodeConfig(raw)
	if !ok {
		return false
	}
	snap := flatten(categories, s.now())
	s.snapshot.Store(snap)
	s.logger.Debug("vaultsync: snapshot replaced",
		slog.Int("pages", len(snap.Pages)),
		slog.Int("categories", len(snap.Categories)))
	return true
}

// IsAvailable reports whether a snapshot with at least one page is cached.
func (s *Sync) IsAvailable() bool {
	snap := s.snapshot.Load()
	return snap != nil && len(snap.Pages) > 0
}

// Data returns the cached snapshot, or nil. Callers must not modify it.
func (s *Sync) Data() *models.Snapshot {
	return s.snapshot.Load()
}

// Summary renders the cached snapshot for prompt injection, or returns ""
// when no vault is available.
func (s *Sync) Summary() string {
	return renderSummary(s.snapshot.Load())
}

// Invalidate drops the cached snapshot and immediately requests a fresh one.
func (s *Sync) Invalidate(ctx context.Context) bool {
	s.snapshot.Store(nil)
	return s.RequestVaultFromGM(ctx)
}

func (s *Sync) pageCount() int {
	if snap := s.snapshot.Load(); snap != nil {
		return len(snap.Pages)
	}
	return 0
}

// StartPolling starts the background re-read of shared state. It is a no-op
// while a poll is already running.
func (s *Sync) StartPolling() {
	if s.room == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollStop != nil || s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.pollStop = cancel
	s.pollDone = done
	go s.poll(ctx, s.newTicker(s.pollInterval), done)
}

func (s *Sync) poll(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.pollOnce(ctx)
		}
	}
}

func (s *Sync) pollOnce(ctx context.Context) {
	before := s.pageCount()
	s.LoadFromSharedState(ctx)
	after := s.pageCount()
	if after == before {
		return
	}
	s.logger.Info("vaultsync: vault changed",
		slog.Int("previous_pages", before),
		slog.Int("pages", after))

	s.mu.Lock()
	cb := s.onChanged
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// StopPolling stops the background poll and waits for it to exit.
func (s *Sync) StopPolling() {
	s.mu.Lock()
	stop, done := s.pollStop, s.pollDone
	s.pollStop, s.pollDone = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

// Close stops polling and drops the broadcast subscriptions. A caller still
// waiting for a broadcast reply returns false. The cached snapshot stays
// readable.
func (s *Sync) Close() {
	s.StopPolling()

	s.mu.Lock()
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	p := s.pending
	s.pending = nil
	if p != nil {
		p.abandoned = true
	}
	s.mu.Unlock()

	if p != nil {
		close(p.done)
	}
	for _, unsub := range unsubs {
		unsub()
	}
}
