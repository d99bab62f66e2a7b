// Package sse streams vault and reference changes to browser clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	EventVaultChanged    = "vault.changed"
	EventVaultRefreshed  = "vault.refreshed"
	EventVaultCleared    = "vault.cleared"
	EventSettingsRefresh = "settings.refresh"
	EventReferencePrefix = "reference."
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// VaultState is the payload of vault events.
type VaultState struct {
	Available bool `json:"available"`
	Pages     int  `json:"pages"`
}

type vaultEventReq struct {
	typ   string
	state VaultState
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop goroutine owns the client set and the settings
// throttle timestamp. Public methods reach it through channels.
type Broker struct {
	settingsMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	vaultEventCh  chan vaultEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits settings.refresh at most once per
// settingsThrottle.
func NewBroker(settingsThrottle time.Duration) *Broker {
	if settingsThrottle <= 0 {
		settingsThrottle = 2 * time.Second
	}

	b := &Broker{
		settingsMin:   settingsThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		vaultEventCh:  make(chan vaultEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastSettings time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.vaultEventCh:
			broadcast(Event{Type: req.typ, Data: req.state})

			now := time.Now()
			if now.Sub(lastSettings) >= b.settingsMin {
				lastSettings = now
				broadcast(Event{Type: EventSettingsRefresh, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the event loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishVaultEvent sends a vault event of type typ followed by a throttled
// settings.refresh.
func (b *Broker) PublishVaultEvent(typ string, state VaultState) {
	if b.closed.Load() {
		return
	}
	select {
	case b.vaultEventCh <- vaultEventReq{typ: typ, state: state}:
	case <-b.stopped:
	}
}

// PublishReferenceEvent reports a reference document change. kind is one of
// "created", "updated", "deleted".
func (b *Broker) PublishReferenceEvent(kind, path string) {
	b.Publish(Event{Type: EventReferencePrefix + kind, Data: map[string]string{"path": path}})
}

// ServeHTTP is the SSE endpoint handler.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
