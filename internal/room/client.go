package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/starford/rulekeeper/internal/apperr"
)

const (
	defaultClientTimeout = 10 * time.Second
	clientInboxSize      = 256
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithClientTimeout bounds every request/ack round trip.
func WithClientTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithOrigin overrides the Origin header sent on the handshake.
func WithOrigin(origin string) ClientOption {
	return func(c *Client) { c.origin = origin }
}

// Client is a participant connected to a remote room server.
//
// Handlers registered with Subscribe run on a single dispatcher goroutine,
// separate from the connection reader, so a handler may issue requests of
// its own. Close must not be called from inside a handler.
type Client struct {
	logger  *slog.Logger
	timeout time.Duration
	origin  string

	conn   *websocket.Conn
	peer   *wsPeer
	roomID string
	player Player

	mu        sync.Mutex
	pending   map[string]chan frame
	handlers  map[string]map[uint64]Handler
	handlerID uint64

	inbox        chan Message
	readDone     chan struct{}
	dispatchDone chan struct{}
	closeOnce    sync.Once
}

// Dial connects to the room server at url (ws:// or wss://) and joins
// roomID as p.
func Dial(ctx context.Context, url, roomID string, p Player, opts ...ClientOption) (*Client, error) {
	c := &Client{
		logger:       slog.Default(),
		timeout:      defaultClientTimeout,
		origin:       "http://localhost/",
		roomID:       roomID,
		pending:      make(map[string]chan frame),
		handlers:     make(map[string]map[uint64]Handler),
		inbox:        make(chan Message, clientInboxSize),
		readDone:     make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	cfg, err := websocket.NewConfig(url, c.origin)
	if err != nil {
		return nil, fmt.Errorf("room: dial config: %w", err)
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("room: dial %s: %w", url, err)
	}
	c.conn = conn
	c.peer = &wsPeer{encoder: json.NewEncoder(conn)}

	go c.readLoop()
	go c.dispatch()

	ack, err := c.request(ctx, FrameJoin, joinPayload{RoomID: roomID, Player: p})
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := json.Unmarshal(ack, &c.player); err != nil {
		c.Close()
		return nil, fmt.Errorf("room: decode join ack: %w", err)
	}
	return c, nil
}

// RoomID returns the joined room.
func (c *Client) RoomID() string { return c.roomID }

// Self returns the identity assigned by the server on join.
func (c *Client) Self(context.Context) (Player, error) {
	return c.player, nil
}

// Metadata fetches the room's persistent metadata.
func (c *Client) Metadata(ctx context.Context) (map[string]json.RawMessage, error) {
	ack, err := c.request(ctx, FrameMetadataGet, struct{}{})
	if err != nil {
		return nil, err
	}
	var p metadataPayload
	if err := json.Unmarshal(ack, &p); err != nil {
		return nil, fmt.Errorf("room: decode metadata: %w", err)
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]json.RawMessage)
	}
	return p.Metadata, nil
}

// SetMetadata merges values into the room metadata. A nil value deletes the
// key.
func (c *Client) SetMetadata(ctx context.Context, values map[string]any) error {
	encoded, err := encodeValues(values)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, FrameMetadataSet, metadataPayload{Metadata: encoded})
	return err
}

// Broadcast sends data to the other participants listening on channel.
func (c *Client) Broadcast(ctx context.Context, channel string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("room: encode broadcast: %w", err)
	}
	_, err = c.request(ctx, FrameBroadcast, broadcastPayload{Channel: channel, Data: raw})
	return err
}

// Subscribe registers fn for broadcasts on channel. The server-side
// subscription is in place when Subscribe returns, unless the connection
// failed, in which case the error is logged and fn never runs.
func (c *Client) Subscribe(channel string, fn Handler) func() {
	c.mu.Lock()
	c.handlerID++
	id := c.handlerID
	first := len(c.handlers[channel]) == 0
	if first {
		c.handlers[channel] = make(map[uint64]Handler)
	}
	c.handlers[channel][id] = fn
	c.mu.Unlock()

	if first {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		_, err := c.request(ctx, FrameSubscribe, channelPayload{Channel: channel})
		cancel()
		if err != nil {
			c.logger.Warn("room: subscribe failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()))
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(channel, id) })
	}
}

func (c *Client) unsubscribe(channel string, id uint64) {
	c.mu.Lock()
	delete(c.handlers[channel], id)
	last := len(c.handlers[channel]) == 0
	if last {
		delete(c.handlers, channel)
	}
	c.mu.Unlock()

	if !last {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if _, err := c.request(ctx, FrameUnsubscribe, channelPayload{Channel: channel}); err != nil && !errors.Is(err, apperr.ErrClosed) {
		c.logger.Debug("room: unsubscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
	}
}

// Close disconnects from the server and stops the dispatcher.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		<-c.readDone
		<-c.dispatchDone
	})
	return err
}

func (c *Client) request(ctx context.Context, typ string, payload any) (json.RawMessage, error) {
	id := uuid.NewString()
	reply := make(chan frame, 1)

	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case <-c.readDone:
		return nil, apperr.ErrClosed
	default:
	}

	if err := c.peer.writeFrame(frame{Type: typ, RequestID: id, Payload: mustJSON(payload)}); err != nil {
		return nil, fmt.Errorf("room: send %s: %w", typ, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case f := <-reply:
		if f.Type == FrameError {
			var e errorPayload
			_ = json.Unmarshal(f.Payload, &e)
			return nil, fmt.Errorf("room: %s rejected: %s (%s): %w", typ, e.Message, e.Code, apperr.ErrUnavailable)
		}
		return f.Payload, nil
	case <-c.readDone:
		return nil, apperr.ErrClosed
	case <-timer.C:
		return nil, fmt.Errorf("room: %s timed out: %w", typ, context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer close(c.readDone)

	decoder := json.NewDecoder(c.conn)
	for {
		var f frame
		if err := decoder.Decode(&f); err != nil {
			return
		}
		switch f.Type {
		case FrameAck, FrameError:
			c.mu.Lock()
			reply, ok := c.pending[f.RequestID]
			c.mu.Unlock()
			if ok {
				reply <- f
			} else if f.Type == FrameError {
				var e errorPayload
				_ = json.Unmarshal(f.Payload, &e)
				c.logger.Warn("room: server error",
					slog.String("code", e.Code),
					slog.String("message", e.Message))
			}
		case FrameMessage:
			var msg Message
			if err := json.Unmarshal(f.Payload, &msg); err != nil {
				c.logger.Warn("room: malformed message frame", slog.String("error", err.Error()))
				continue
			}
			select {
			case c.inbox <- msg:
			default:
				c.logger.Warn("room: inbox full, dropping broadcast", slog.String("channel", msg.Channel))
			}
		}
	}
}

func (c *Client) dispatch() {
	defer close(c.dispatchDone)
	for {
		select {
		case msg := <-c.inbox:
			c.deliver(msg)
		case <-c.readDone:
			return
		}
	}
}

func (c *Client) deliver(msg Message) {
	c.mu.Lock()
	fns := make([]Handler, 0, len(c.handlers[msg.Channel]))
	for _, fn := range c.handlers[msg.Channel] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}
