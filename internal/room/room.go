// Package room models the shared room of the virtual tabletop: persistent
// room metadata readable by every participant and best-effort broadcast
// channels delivered to participants that are listening at send time.
package room

import "encoding/json"

// Player identifies a participant in a room.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is a broadcast received on a channel.
type Message struct {
	Channel  string          `json:"channel"`
	SenderID string          `json:"sender_id"`
	Data     json.RawMessage `json:"data"`
}

// Handler receives broadcast messages for a subscribed channel.
type Handler func(Message)
