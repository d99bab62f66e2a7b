package room

import (
	"log/slog"
	"sync/atomic"
)

// subscriberBuffer is the per-subscription queue length. Broadcasts to a
// full queue are dropped.
const subscriberBuffer = 64

type subscription struct {
	roomID   string
	playerID string
	channel  string
	ch       chan Message
}

type publishReq struct {
	roomID string
	msg    Message
}

type countReq struct {
	roomID  string
	channel string
	resp    chan int
}

// Hub routes broadcasts between participants of in-process rooms and gives
// them access to the metadata Store.
//
// A single event loop goroutine owns the subscription table. Public methods
// talk to it through channels, so no mutexes guard the table.
type Hub struct {
	store  Store
	logger *slog.Logger

	subscribeCh   chan *subscription
	unsubscribeCh chan *subscription
	publishCh     chan publishReq
	countReqCh    chan countReq

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewHub starts a hub backed by store. A nil store selects a MemoryStore.
func NewHub(store Store, logger *slog.Logger) *Hub {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		store:         store,
		logger:        logger,
		subscribeCh:   make(chan *subscription),
		unsubscribeCh: make(chan *subscription),
		publishCh:     make(chan publishReq, 256),
		countReqCh:    make(chan countReq),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)

	// room id -> channel -> subscriptions
	rooms := make(map[string]map[string]map[*subscription]struct{})

	for {
		select {
		case <-h.stopCh:
			for _, channels := range rooms {
				for _, subs := range channels {
					for sub := range subs {
						close(sub.ch)
					}
				}
			}
			return

		case sub := <-h.subscribeCh:
			channels, ok := rooms[sub.roomID]
			if !ok {
				channels = make(map[string]map[*subscription]struct{})
				rooms[sub.roomID] = channels
			}
			if channels[sub.channel] == nil {
				channels[sub.channel] = make(map[*subscription]struct{})
			}
			channels[sub.channel][sub] = struct{}{}

		case sub := <-h.unsubscribeCh:
			subs := rooms[sub.roomID][sub.channel]
			if _, ok := subs[sub]; !ok {
				continue
			}
			delete(subs, sub)
			close(sub.ch)
			if len(subs) == 0 {
				delete(rooms[sub.roomID], sub.channel)
			}
			if len(rooms[sub.roomID]) == 0 {
				delete(rooms, sub.roomID)
			}

		case req := <-h.publishCh:
			for sub := range rooms[req.roomID][req.msg.Channel] {
				if sub.playerID == req.msg.SenderID {
					continue
				}
				select {
				case sub.ch <- req.msg:
				default:
					h.logger.Warn("room: subscriber queue full, dropping broadcast",
						slog.String("room", req.roomID),
						slog.String("channel", req.msg.Channel),
						slog.String("player", sub.playerID))
				}
			}

		case req := <-h.countReqCh:
			req.resp <- len(rooms[req.roomID][req.channel])
		}
	}
}

// Close stops the event loop and closes every subscription queue.
func (h *Hub) Close() {
	if h.closed.CompareAndSwap(false, true) {
		close(h.stopCh)
	}
	<-h.stopped
}

// Store returns the metadata store shared by the hub's rooms.
func (h *Hub) Store() Store { return h.store }

// subscribe registers a queue for channel. The returned queue is closed on
// unsubscribe or hub shutdown.
func (h *Hub) subscribe(roomID, playerID, channel string) *subscription {
	sub := &subscription{
		roomID:   roomID,
		playerID: playerID,
		channel:  channel,
		ch:       make(chan Message, subscriberBuffer),
	}
	if h.closed.Load() {
		close(sub.ch)
		return sub
	}
	select {
	case h.subscribeCh <- sub:
	case <-h.stopped:
		close(sub.ch)
	}
	return sub
}

func (h *Hub) unsubscribe(sub *subscription) {
	if h.closed.Load() {
		return
	}
	select {
	case h.unsubscribeCh <- sub:
	case <-h.stopped:
	}
}

// publish delivers msg to every subscriber of its channel except the sender.
// It reports false once the hub is closed.
func (h *Hub) publish(roomID string, msg Message) bool {
	if h.closed.Load() {
		return false
	}
	select {
	case h.publishCh <- publishReq{roomID: roomID, msg: msg}:
		return true
	case <-h.stopped:
		return false
	}
}

// SubscriberCount returns the number of listeners on a room channel.
func (h *Hub) SubscriberCount(roomID, channel string) int {
	if h.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case h.countReqCh <- countReq{roomID: roomID, channel: channel, resp: resp}:
	case <-h.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-h.stopped:
		return 0
	}
}
