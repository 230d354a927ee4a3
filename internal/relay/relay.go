// Package relay fans edit events out across room membership. The server
// holds no file state; it only rebroadcasts what one session emits to
// the other sessions in the same room.
package relay

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errMissingHub = errors.New("relay: hub dependency required")

// IDProvider issues opaque session identifiers on upgrade.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Config bundles the dependencies required to construct a Relay.
type Config struct {
	Hub        *Hub
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Relay upgrades HTTP requests into relay sessions.
type Relay struct {
	hub      *Hub
	ids      IDProvider
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New constructs a Relay with validated configuration.
func New(cfg Config) (*Relay, error) {
	if cfg.Hub == nil {
		return nil, errMissingHub
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		hub: cfg.Hub,
		ids: ids,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from any origin, matching the
			// wildcard CORS policy on the HTTP surface.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}, nil
}

// HandleConnection upgrades the request and hands the connection to the
// hub. The session lives until the peer disconnects.
func (r *Relay) HandleConnection(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sessionID, err := r.ids.NewID()
	if err != nil {
		r.logger.Error("failed to issue session id", zap.Error(err))
		conn.Close()
		return
	}
	connected := &session{
		id:     sessionID,
		hub:    r.hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: r.logger,
	}
	select {
	case r.hub.register <- connected:
	case <-r.hub.done:
		conn.Close()
		return
	}
	go connected.writePump()
	go connected.readPump()
}
