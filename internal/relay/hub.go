package relay

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/codesynclabs/codesync/internal/rooms"
)

// Hub relays events between room members. A single goroutine running Run
// owns the registry and all membership mutation, so no event is ever
// processed in parallel with another.
type Hub struct {
	registry   *rooms.Registry
	logger     *zap.Logger
	register   chan *session
	unregister chan *session
	inbound    chan inboundFrame
	done       chan struct{}
	sessions   map[string]*session
}

type inboundFrame struct {
	sender   *session
	envelope Envelope
}

// NewHub constructs a hub over the given registry. A nil logger is
// replaced with a nop logger.
func NewHub(registry *rooms.Registry, logger *zap.Logger) *Hub {
	if registry == nil {
		registry = rooms.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		registry:   registry,
		logger:     logger,
		register:   make(chan *session),
		unregister: make(chan *session),
		inbound:    make(chan inboundFrame),
		done:       make(chan struct{}),
		sessions:   make(map[string]*session),
	}
}

// Run processes connection and event traffic until the context is
// cancelled, at which point every live connection is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, active := range h.sessions {
				active.conn.Close()
				close(active.send)
			}
			h.sessions = make(map[string]*session)
			return
		case joining := <-h.register:
			h.sessions[joining.id] = joining
			h.logger.Debug("session connected", zap.String("session_id", joining.id))
		case leaving := <-h.unregister:
			h.dropSession(leaving)
		case frame := <-h.inbound:
			h.dispatch(frame)
		}
	}
}

func (h *Hub) dispatch(frame inboundFrame) {
	switch frame.envelope.Event {
	case EventJoin:
		h.handleJoin(frame)
	case EventCodeChange:
		var payload CodeChangePayload
		if h.decode(frame, &payload) && payload.Path != "" {
			h.forward(frame.sender, payload.RoomID, EventCodeChange, CodeChangePayload{Path: payload.Path, Content: payload.Content})
		}
	case EventFileCreated:
		var payload FileCreatedPayload
		if h.decode(frame, &payload) && payload.Path != "" {
			h.forward(frame.sender, payload.RoomID, EventFileCreated, FileCreatedPayload{Path: payload.Path, Language: payload.Language, Content: payload.Content})
		}
	case EventFileDeleted:
		var payload FileDeletedPayload
		if h.decode(frame, &payload) && payload.Path != "" {
			h.forward(frame.sender, payload.RoomID, EventFileDeleted, FileDeletedPayload{Path: payload.Path})
		}
	default:
		h.logger.Debug("ignoring unknown event",
			zap.String("session_id", frame.sender.id),
			zap.String("event", frame.envelope.Event))
	}
}

func (h *Hub) handleJoin(frame inboundFrame) {
	var payload JoinPayload
	if !h.decode(frame, &payload) {
		return
	}
	if payload.RoomID == "" || payload.DisplayName == "" {
		h.logger.Debug("ignoring join with missing fields", zap.String("session_id", frame.sender.id))
		return
	}

	previousRoom, moved := h.registry.Join(frame.sender.id, payload.RoomID, payload.DisplayName)
	if moved {
		h.broadcast(previousRoom, "", EventDisconnected, DisconnectedPayload{
			SocketID:    frame.sender.id,
			DisplayName: payload.DisplayName,
		})
	}

	members := h.registry.Members(payload.RoomID)
	clients := make([]ClientInfo, 0, len(members))
	for _, member := range members {
		clients = append(clients, ClientInfo{SocketID: member.SessionID, DisplayName: member.DisplayName})
	}
	// The joiner is included so it learns the full member list.
	h.broadcast(payload.RoomID, "", EventJoined, JoinedPayload{
		Clients:     clients,
		DisplayName: payload.DisplayName,
		SocketID:    frame.sender.id,
	})
	h.logger.Info("session joined room",
		zap.String("session_id", frame.sender.id),
		zap.String("room_id", payload.RoomID),
		zap.Int("members", len(members)))
}

// forward relays an event to every member of the room except the sender.
// Events referencing a room the sender has not joined are dropped.
func (h *Hub) forward(sender *session, roomID, event string, payload any) {
	joinedRoom, _, ok := h.registry.Lookup(sender.id)
	if !ok || joinedRoom != roomID {
		h.logger.Debug("dropping event outside sender's room",
			zap.String("session_id", sender.id),
			zap.String("event", event),
			zap.String("room_id", roomID))
		return
	}
	h.broadcast(roomID, sender.id, event, payload)
}

func (h *Hub) broadcast(roomID, excludeSessionID, event string, payload any) {
	envelope, err := NewEnvelope(event, payload)
	if err != nil {
		h.logger.Error("failed to build envelope", zap.String("event", event), zap.Error(err))
		return
	}
	data, err := envelope.Encode()
	if err != nil {
		h.logger.Error("failed to encode envelope", zap.String("event", event), zap.Error(err))
		return
	}
	for _, member := range h.registry.Members(roomID) {
		if member.SessionID == excludeSessionID {
			continue
		}
		receiver, connected := h.sessions[member.SessionID]
		if !connected {
			continue
		}
		select {
		case receiver.send <- data:
		default:
			// Receiver's buffer is full; drop rather than stall the room.
			h.logger.Warn("dropping event for slow session",
				zap.String("session_id", member.SessionID),
				zap.String("event", event))
		}
	}
}

func (h *Hub) dropSession(leaving *session) {
	if _, connected := h.sessions[leaving.id]; !connected {
		return
	}
	delete(h.sessions, leaving.id)
	close(leaving.send)

	roomID, displayName, wasMember := h.registry.Remove(leaving.id)
	if !wasMember {
		return
	}
	h.broadcast(roomID, "", EventDisconnected, DisconnectedPayload{
		SocketID:    leaving.id,
		DisplayName: displayName,
	})
	h.logger.Info("session disconnected",
		zap.String("session_id", leaving.id),
		zap.String("room_id", roomID))
}

func (h *Hub) decode(frame inboundFrame, payload any) bool {
	if err := json.Unmarshal(frame.envelope.Payload, payload); err != nil {
		h.logger.Debug("ignoring malformed payload",
			zap.String("session_id", frame.sender.id),
			zap.String("event", frame.envelope.Event),
			zap.Error(err))
		return false
	}
	return true
}
