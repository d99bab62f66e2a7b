package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/rulekeeper/internal/apperr"
)

// Local is a participant attached directly to a Hub.
type Local struct {
	hub    *Hub
	roomID string
	player Player

	mu     sync.Mutex
	subs   map[*subscription]chan struct{}
	closed bool
}

// Join adds a participant to roomID. An empty player id is replaced by a
// generated one.
func (h *Hub) Join(roomID string, p Player) *Local {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return &Local{
		hub:    h,
		roomID: roomID,
		player: p,
		subs:   make(map[*subscription]chan struct{}),
	}
}

// RoomID returns the joined room.
func (l *Local) RoomID() string { return l.roomID }

// Self returns the participant identity.
func (l *Local) Self(context.Context) (Player, error) {
	return l.player, nil
}

// Metadata returns the room's persistent metadata.
func (l *Local) Metadata(ctx context.Context) (map[string]json.RawMessage, error) {
	return l.hub.store.Get(ctx, l.roomID)
}

// SetMetadata merges values into the room metadata. A nil value deletes the
// key.
func (l *Local) SetMetadata(ctx context.Context, values map[string]any) error {
	encoded, err := encodeValues(values)
	if err != nil {
		return err
	}
	return l.hub.store.Set(ctx, l.roomID, encoded)
}

// Broadcast sends data to every other participant listening on channel.
func (l *Local) Broadcast(_ context.Context, channel string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("room: encode broadcast: %w", err)
	}
	if !l.hub.publish(l.roomID, Message{Channel: channel, SenderID: l.player.ID, Data: raw}) {
		return apperr.ErrClosed
	}
	return nil
}

// Subscribe runs fn for every broadcast on channel until the returned
// function is called. Handlers of one subscription run sequentially.
func (l *Local) Subscribe(channel string, fn Handler) func() {
	sub := l.hub.subscribe(l.roomID, l.player.ID, channel)
	done := make(chan struct{})

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.hub.unsubscribe(sub)
		return func() {}
	}
	l.subs[sub] = done
	l.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range sub.ch {
			fn(msg)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { l.drop(sub) })
	}
}

func (l *Local) drop(sub *subscription) {
	l.mu.Lock()
	done, ok := l.subs[sub]
	delete(l.subs, sub)
	l.mu.Unlock()
	if !ok {
		return
	}
	l.hub.unsubscribe(sub)
	<-done
}

// Close drops every subscription of this participant.
func (l *Local) Close() {
	l.mu.Lock()
	l.closed = true
	subs := make([]*subscription, 0, len(l.subs))
	for sub := range l.subs {
		subs = append(subs, sub)
	}
	l.mu.Unlock()
	for _, sub := range subs {
		l.drop(sub)
	}
}

func encodeValues(values map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("room: encode metadata %s: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}
