package relay

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// session is one live websocket connection. The read pump feeds decoded
// frames to the hub; the write pump drains the hub-owned send buffer.
type session struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
}

func (s *session) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("read failed", zap.String("session_id", s.id), zap.Error(err))
			}
			return
		}
		envelope, err := DecodeEnvelope(data)
		if err != nil {
			// Malformed frames are tolerated, never fatal to the relay.
			s.logger.Debug("ignoring malformed frame", zap.String("session_id", s.id), zap.Error(err))
			continue
		}
		select {
		case s.hub.inbound <- inboundFrame{sender: s, envelope: envelope}:
		case <-s.hub.done:
			return
		}
	}
}

func (s *session) writePump() {
	defer s.conn.Close()
	for data := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
