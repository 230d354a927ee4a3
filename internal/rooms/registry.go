// Package rooms tracks which live sessions belong to which room.
//
// A room has no explicit lifecycle: it exists while at least one session
// is registered under its identifier and vanishes when the last one
// leaves. Nothing is persisted; the registry is rebuilt implicitly as
// connections come and go.
package rooms

// Member is one session's entry in a room snapshot.
type Member struct {
	SessionID   string
	DisplayName string
}

type sessionRecord struct {
	roomID      string
	displayName string
}

// Registry maps room identifiers to their member sessions.
//
// It is not safe for concurrent use. At runtime the relay hub goroutine
// is its sole owner; tests may drive it directly from one goroutine.
type Registry struct {
	sessions map[string]sessionRecord
	rooms    map[string][]string // join-ordered session ids per room
}

// NewRegistry constructs an empty in-process registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]sessionRecord),
		rooms:    make(map[string][]string),
	}
}

// Join registers the session under the room. Joining again with the same
// room only updates the display name; membership is never duplicated.
// Joining a different room moves the session, and the previous room's
// identifier is returned with moved set so callers can notify it.
func (r *Registry) Join(sessionID, roomID, displayName string) (previousRoom string, moved bool) {
	record, known := r.sessions[sessionID]
	if known && record.roomID != roomID {
		r.detach(sessionID, record.roomID)
		previousRoom = record.roomID
		moved = true
		known = false
	}
	r.sessions[sessionID] = sessionRecord{roomID: roomID, displayName: displayName}
	if !known {
		r.rooms[roomID] = append(r.rooms[roomID], sessionID)
	}
	return previousRoom, moved
}

// Members returns the current membership snapshot in join order. An
// unknown room yields an empty slice, never an error.
func (r *Registry) Members(roomID string) []Member {
	ids := r.rooms[roomID]
	members := make([]Member, 0, len(ids))
	for _, id := range ids {
		members = append(members, Member{
			SessionID:   id,
			DisplayName: r.sessions[id].displayName,
		})
	}
	return members
}

// Lookup returns the room and display name bound to a session.
func (r *Registry) Lookup(sessionID string) (roomID, displayName string, ok bool) {
	record, known := r.sessions[sessionID]
	if !known {
		return "", "", false
	}
	return record.roomID, record.displayName, true
}

// Remove deletes the session from whichever room it belonged to and
// reports that room. Removing an unknown session is a no-op.
func (r *Registry) Remove(sessionID string) (roomID, displayName string, ok bool) {
	record, known := r.sessions[sessionID]
	if !known {
		return "", "", false
	}
	delete(r.sessions, sessionID)
	r.detach(sessionID, record.roomID)
	return record.roomID, record.displayName, true
}

func (r *Registry) detach(sessionID, roomID string) {
	ids := r.rooms[roomID]
	for index, id := range ids {
		if id == sessionID {
			r.rooms[roomID] = append(ids[:index], ids[index+1:]...)
			break
		}
	}
	if len(r.rooms[roomID]) == 0 {
		delete(r.rooms, roomID)
	}
}
