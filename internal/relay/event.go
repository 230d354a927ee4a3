package relay

import "encoding/json"

// Event names exchanged over a session's websocket. Inbound events carry
// a roomId that is stripped before fan-out; joined and disconnected are
// outbound only.
const (
	EventJoin         = "join"
	EventJoined       = "joined"
	EventCodeChange   = "code_change"
	EventFileCreated  = "file_created"
	EventFileDeleted  = "file_deleted"
	EventDisconnected = "disconnected"
)

// Envelope frames every message on the wire.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload binds a session to a room under a display name.
type JoinPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

// CodeChangePayload replaces the whole content of one file.
type CodeChangePayload struct {
	RoomID  string `json:"roomId,omitempty"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileCreatedPayload announces a new file.
type FileCreatedPayload struct {
	RoomID   string `json:"roomId,omitempty"`
	Path     string `json:"path"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// FileDeletedPayload removes a file or folder subtree.
type FileDeletedPayload struct {
	RoomID string `json:"roomId,omitempty"`
	Path   string `json:"path"`
}

// ClientInfo is one member entry in a joined notification.
type ClientInfo struct {
	SocketID    string `json:"socketId"`
	DisplayName string `json:"displayName"`
}

// JoinedPayload carries the full member list to every room member when a
// session joins, naming the newcomer.
type JoinedPayload struct {
	Clients     []ClientInfo `json:"clients"`
	DisplayName string       `json:"displayName"`
	SocketID    string       `json:"socketId"`
}

// DisconnectedPayload notifies remaining members that a session left.
type DisconnectedPayload struct {
	SocketID    string `json:"socketId"`
	DisplayName string `json:"displayName"`
}

// NewEnvelope wraps a payload value under an event name.
func NewEnvelope(event string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Payload: raw}, nil
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a wire frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, err
	}
	return envelope, nil
}
