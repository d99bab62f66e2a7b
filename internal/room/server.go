package room

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"
)

// Frame types exchanged over the room websocket.
const (
	FrameJoin        = "join"
	FrameMetadataGet = "metadata.get"
	FrameMetadataSet = "metadata.set"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameBroadcast   = "broadcast"

	FrameAck     = "ack"
	FrameError   = "error"
	FrameMessage = "message"
)

const (
	maxFramePayloadBytes   = 1 << 20
	maxDecodeErrorsPerConn = 5
)

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type joinPayload struct {
	RoomID string `json:"room_id"`
	Player Player `json:"player"`
}

type metadataPayload struct {
	Metadata map[string]json.RawMessage `json:"metadata"`
}

type channelPayload struct {
	Channel string `json:"channel"`
}

type broadcastPayload struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server exposes a Hub over websocket.
type Server struct {
	hub    *Hub
	logger *slog.Logger
}

// NewServer creates a websocket front for hub.
func NewServer(hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{hub: hub, logger: logger}
}

// Handler returns the room routes: GET /ws plus health checks.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health/live", healthOK)
	r.Get("/health/ready", healthOK)
	r.Get("/ws", websocket.Handler(s.serveConn).ServeHTTP)
	return r
}

func healthOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// wsPeer serializes frame writes to one connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func (p *wsPeer) writeFrame(f frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(f)
}

type connSession struct {
	peer  *wsPeer
	local *Local
	subs  map[string]func()
}

func (s *Server) serveConn(conn *websocket.Conn) {
	defer conn.Close()
	conn.MaxPayloadBytes = maxFramePayloadBytes

	session := &connSession{
		peer: &wsPeer{encoder: json.NewEncoder(conn)},
		subs: make(map[string]func()),
	}
	defer func() {
		if session.local != nil {
			s.logger.Debug("room: participant left",
				slog.String("room", session.local.RoomID()),
				slog.String("player", session.local.player.ID))
			session.local.Close()
		}
	}()

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var f frame
		if err := decoder.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeError(session.peer, "", "invalid_argument", "invalid frame")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			// The decoder cannot resynchronize after a syntax error.
			decoder = json.NewDecoder(conn)
			continue
		}
		decodeErrors = 0
		s.handleFrame(conn, session, f)
	}
}

func (s *Server) handleFrame(conn *websocket.Conn, session *connSession, f frame) {
	ctx := conn.Request().Context()

	if f.Type != FrameJoin && session.local == nil {
		_ = writeError(session.peer, f.RequestID, "failed_precondition", "must join a room first")
		return
	}

	switch f.Type {
	case FrameJoin:
		var p joinPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			_ = writeError(session.peer, f.RequestID, "invalid_argument", "invalid join payload")
			return
		}
		roomID := strings.TrimSpace(p.RoomID)
		if roomID == "" {
			_ = writeError(session.peer, f.RequestID, "invalid_argument", "room_id is required")
			return
		}
		if session.local != nil {
			_ = writeError(session.peer, f.RequestID, "failed_precondition", "already joined")
			return
		}
		session.local = s.hub.Join(roomID, p.Player)
		s.logger.Debug("room: participant joined",
			slog.String("room", roomID),
			slog.String("player", session.local.player.ID),
			slog.String("name", session.local.player.Name))
		_ = writeAck(session.peer, f.RequestID, session.local.player)

	case FrameMetadataGet:
		meta, err := session.local.Metadata(ctx)
		if err != nil {
			s.logger.Error("room: metadata get failed", slog.String("error", err.Error()))
			_ = writeError(session.peer, f.RequestID, "unavailable", "metadata unavailable")
			return
		}
		_ = writeAck(session.peer, f.RequestID, metadataPayload{Metadata: meta})

	case FrameMetadataSet:
		var p metadataPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			_ = writeError(session.peer, f.RequestID, "invalid_argument", "invalid metadata payload")
			return
		}
		if err := s.hub.store.Set(ctx, session.local.RoomID(), p.Metadata); err != nil {
			s.logger.Error("room: metadata set failed", slog.String("error", err.Error()))
			_ = writeError(session.peer, f.RequestID, "unavailable", "metadata unavailable")
			return
		}
		_ = writeAck(session.peer, f.RequestID, struct{}{})

	case FrameSubscribe:
		var p channelPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.Channel == "" {
			_ = writeError(session.peer, f.RequestID, "invalid_argument", "channel is required")
			return
		}
		if _, ok := session.subs[p.Channel]; !ok {
			peer := session.peer
			session.subs[p.Channel] = session.local.Subscribe(p.Channel, func(m Message) {
				_ = peer.writeFrame(frame{Type: FrameMessage, Payload: mustJSON(m)})
			})
		}
		_ = writeAck(session.peer, f.RequestID, struct{}{})

	case FrameUnsubscribe:
		var p channelPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			_ = writeError(session.peer, f.RequestID, "invalid_argument", "invalid unsubscribe payload")
			return
		}
		if unsub, ok := session.subs[p.Channel]; ok {
			delete(session.subs, p.Channel)
			unsub()
		}
		_ = writeAck(session.peer, f.RequestID, struct{}{})

	case FrameBroadcast:
		var p broadcastPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.Channel == "" {
			_ = writeError(session.peer, f.RequestID, "invalid_argument", "channel is required")
			return
		}
		if err := session.local.Broadcast(ctx, p.Channel, p.Data); err != nil {
			_ = writeError(session.peer, f.RequestID, "unavailable", "room closed")
			return
		}
		_ = writeAck(session.peer, f.RequestID, struct{}{})

	default:
		_ = writeError(session.peer, f.RequestID, "invalid_argument", "unsupported frame type")
	}
}

func writeAck(peer *wsPeer, requestID string, payload any) error {
	return peer.writeFrame(frame{Type: FrameAck, RequestID: requestID, Payload: mustJSON(payload)})
}

func writeError(peer *wsPeer, requestID, code, message string) error {
	return peer.writeFrame(frame{
		Type:      FrameError,
		RequestID: requestID,
		Payload:   mustJSON(errorPayload{Code: code, Message: message}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("room: marshal frame payload failed", slog.String("error", err.Error()))
		return nil
	}
	return b
}
