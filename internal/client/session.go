// Package client implements the editor side of a room: a websocket
// session holding the local FileSet, emitting local mutations to the
// relay and applying remote ones as they arrive.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codesynclabs/codesync/internal/execution"
	"github.com/codesynclabs/codesync/internal/relay"
	"github.com/codesynclabs/codesync/internal/workspace"
)

const (
	defaultDialAttempts = 5
	defaultDialBackoff  = time.Second
)

var (
	// ErrConnectFailed indicates the relay could not be reached within
	// the capped number of dial attempts.
	ErrConnectFailed = errors.New("client: connection failed")
	// ErrNotConnected indicates an operation that needs a live session.
	ErrNotConnected = errors.New("client: not connected")
	// ErrNoActiveFile indicates an edit or run with nothing selected.
	ErrNoActiveFile = errors.New("client: no active file")

	errMissingServerURL = errors.New("client: server url required")
	errMissingRoom      = errors.New("client: room id required")
	errMissingName      = errors.New("client: display name required")
)

// Config bundles what a session needs to join a room.
type Config struct {
	ServerURL    string // http(s) base of the relay server
	RoomID       string
	DisplayName  string
	Workspace    *workspace.FileSet // nil seeds the default starter files
	HTTPClient   *http.Client
	Dialer       *websocket.Dialer
	Logger       *zap.Logger
	DialAttempts int
	DialBackoff  time.Duration
}

// RunResult is what the output pane shows after a run.
type RunResult struct {
	Output  string
	IsError bool
}

// Session is one editor's live connection to a room. Local operations
// mutate the FileSet and emit the matching event; the read loop applies
// remote events under the same lock and never re-emits them.
type Session struct {
	serverURL    string
	roomID       string
	displayName  string
	httpClient   *http.Client
	dialer       *websocket.Dialer
	logger       *zap.Logger
	dialAttempts int
	dialBackoff  time.Duration

	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla allows a single concurrent writer

	mu            sync.Mutex
	fileSet       *workspace.FileSet
	activeFile    string
	peers         []relay.ClientInfo
	output        string
	outputIsError bool

	done chan struct{}
}

// New constructs a session with validated configuration.
func New(cfg Config) (*Session, error) {
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return nil, errMissingServerURL
	}
	if strings.TrimSpace(cfg.RoomID) == "" {
		return nil, errMissingRoom
	}
	if strings.TrimSpace(cfg.DisplayName) == "" {
		return nil, errMissingName
	}

	fileSet := cfg.Workspace
	if fileSet == nil {
		fileSet = workspace.NewDefault()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialAttempts := cfg.DialAttempts
	if dialAttempts <= 0 {
		dialAttempts = defaultDialAttempts
	}
	dialBackoff := cfg.DialBackoff
	if dialBackoff <= 0 {
		dialBackoff = defaultDialBackoff
	}

	return &Session{
		serverURL:    strings.TrimSuffix(cfg.ServerURL, "/"),
		roomID:       cfg.RoomID,
		displayName:  cfg.DisplayName,
		httpClient:   httpClient,
		dialer:       dialer,
		logger:       logger,
		dialAttempts: dialAttempts,
		dialBackoff:  dialBackoff,
		fileSet:      fileSet,
		done:         make(chan struct{}),
	}, nil
}

// Connect dials the relay with capped retries, joins the configured
// room, and starts applying remote events.
func (s *Session) Connect(ctx context.Context) error {
	wsURL := "ws" + strings.TrimPrefix(s.serverURL, "http") + "/ws"

	var conn *websocket.Conn
	var lastErr error
	for attempt := 1; attempt <= s.dialAttempts; attempt++ {
		var err error
		conn, _, err = s.dialer.DialContext(ctx, wsURL, nil)
		if err == nil {
			break
		}
		lastErr = err
		s.logger.Warn("relay dial failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrConnectFailed, ctx.Err())
		case <-time.After(s.dialBackoff):
		}
	}
	if conn == nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, lastErr)
	}
	s.conn = conn

	if err := s.emit(relay.EventJoin, relay.JoinPayload{RoomID: s.roomID, DisplayName: s.displayName}); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	go s.readLoop()
	return nil
}

// Close tears down the connection. Remote events stop applying; any
// in-flight run result is orphaned.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Done is closed when the read loop exits, i.e. on disconnect.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SetActiveFile selects the file shown in the editor.
func (s *Session) SetActiveFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fileSet.Contains(path) {
		return fmt.Errorf("%w: %s", workspace.ErrFileNotFound, path)
	}
	s.activeFile = path
	return nil
}

// ActiveFile returns the currently selected path, empty when nothing is
// selected.
func (s *Session) ActiveFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeFile
}

// EditActiveFile replaces the active file's content and emits the change
// to the room. Every edit is emitted; there is no debounce.
func (s *Session) EditActiveFile(content string) error {
	s.mu.Lock()
	path := s.activeFile
	if path == "" {
		s.mu.Unlock()
		return ErrNoActiveFile
	}
	s.fileSet.SetContent(path, content)
	s.mu.Unlock()

	return s.emit(relay.EventCodeChange, relay.CodeChangePayload{
		RoomID:  s.roomID,
		Path:    path,
		Content: content,
	})
}

// CreateFile inserts a new file, makes it active, and announces it to
// the room. A collision is surfaced to the caller only, never broadcast.
func (s *Session) CreateFile(path, content string) error {
	s.mu.Lock()
	file, err := s.fileSet.Create(path, content)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.activeFile = path
	s.mu.Unlock()

	return s.emit(relay.EventFileCreated, relay.FileCreatedPayload{
		RoomID:   s.roomID,
		Path:     file.Path,
		Language: file.Language,
		Content:  file.Content,
	})
}

// DeleteNode removes a file or folder subtree and announces the delete.
// If the active file is inside the removed subtree the selection and the
// output pane are cleared.
func (s *Session) DeleteNode(path string) error {
	s.mu.Lock()
	removed, err := s.fileSet.Delete(path)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.clearActiveIfRemoved(removed)
	s.mu.Unlock()

	return s.emit(relay.EventFileDeleted, relay.FileDeletedPayload{
		RoomID: s.roomID,
		Path:   path,
	})
}

// Run submits the FileSet for execution with the active file as entry
// point and surfaces the result in the output pane. Room state is never
// affected.
func (s *Session) Run(ctx context.Context) (RunResult, error) {
	s.mu.Lock()
	active, known := s.fileSet.Get(s.activeFile)
	files := s.fileSet.Snapshot()
	s.mu.Unlock()
	if !known {
		return RunResult{}, ErrNoActiveFile
	}

	request := execution.Request{
		Files:    make([]execution.FileEntry, 0, len(files)),
		MainFile: execution.FileEntry{Name: active.Path, Value: active.Content},
		Language: active.Language,
	}
	for _, file := range files {
		request.Files = append(request.Files, execution.FileEntry{Name: file.Path, Value: file.Content})
	}

	result := s.postExecute(ctx, request)
	s.mu.Lock()
	s.output = result.Output
	s.outputIsError = result.IsError
	s.mu.Unlock()
	return result, nil
}

// Output returns the output pane content and its error flag.
func (s *Session) Output() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output, s.outputIsError
}

// Files returns a path-sorted snapshot of the local FileSet.
func (s *Session) Files() []workspace.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileSet.Snapshot()
}

// Peers returns the members last announced for the room.
func (s *Session) Peers() []relay.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]relay.ClientInfo, len(s.peers))
	copy(peers, s.peers)
	return peers
}

func (s *Session) postExecute(ctx context.Context, request execution.Request) RunResult {
	payload, err := json.Marshal(request)
	if err != nil {
		return RunResult{Output: "Error: Failed to execute code.", IsError: true}
	}
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return RunResult{Output: "Error: Failed to execute code.", IsError: true}
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := s.httpClient.Do(httpRequest)
	if err != nil {
		s.logger.Warn("execute request failed", zap.Error(err))
		return RunResult{Output: "Error: Failed to execute code.", IsError: true}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return RunResult{Output: "Error: Failed to execute code.", IsError: true}
	}

	var outcome execution.RunOutcome
	if err := json.NewDecoder(response.Body).Decode(&outcome); err != nil {
		return RunResult{Output: "Error: Failed to execute code.", IsError: true}
	}
	if outcome.Run.Signal != "" {
		return RunResult{Output: "Error: " + outcome.Run.Signal, IsError: true}
	}
	output := outcome.Run.Output
	if output == "" {
		output = outcome.Run.Stderr
	}
	if output == "" {
		output = "No Output"
	}
	return RunResult{Output: output, IsError: outcome.Run.Stderr != ""}
}

func (s *Session) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("session read loop ended", zap.Error(err))
			return
		}
		envelope, err := relay.DecodeEnvelope(data)
		if err != nil {
			s.logger.Debug("ignoring malformed server frame", zap.Error(err))
			continue
		}
		s.applyRemote(envelope)
	}
}

// applyRemote applies an inbound event to local state. Nothing on this
// path emits back to the relay, so events never echo.
func (s *Session) applyRemote(envelope relay.Envelope) {
	switch envelope.Event {
	case relay.EventJoined:
		var payload relay.JoinedPayload
		if json.Unmarshal(envelope.Payload, &payload) != nil {
			return
		}
		s.mu.Lock()
		s.peers = payload.Clients
		s.mu.Unlock()
		if payload.DisplayName != s.displayName {
			s.logger.Info("peer joined room", zap.String("display_name", payload.DisplayName))
		}
	case relay.EventDisconnected:
		var payload relay.DisconnectedPayload
		if json.Unmarshal(envelope.Payload, &payload) != nil {
			return
		}
		s.mu.Lock()
		remaining := s.peers[:0]
		for _, peer := range s.peers {
			if peer.SocketID != payload.SocketID {
				remaining = append(remaining, peer)
			}
		}
		s.peers = remaining
		s.mu.Unlock()
	case relay.EventCodeChange:
		var payload relay.CodeChangePayload
		if json.Unmarshal(envelope.Payload, &payload) != nil {
			return
		}
		s.mu.Lock()
		// Unknown paths are dropped; the racing creation will carry
		// its own content when it lands.
		s.fileSet.SetContent(payload.Path, payload.Content)
		s.mu.Unlock()
	case relay.EventFileCreated:
		var payload relay.FileCreatedPayload
		if json.Unmarshal(envelope.Payload, &payload) != nil {
			return
		}
		s.mu.Lock()
		s.fileSet.Insert(workspace.File{Path: payload.Path, Language: payload.Language, Content: payload.Content})
		s.mu.Unlock()
	case relay.EventFileDeleted:
		var payload relay.FileDeletedPayload
		if json.Unmarshal(envelope.Payload, &payload) != nil {
			return
		}
		s.mu.Lock()
		if removed, err := s.fileSet.Delete(payload.Path); err == nil {
			s.clearActiveIfRemoved(removed)
		}
		s.mu.Unlock()
	default:
		s.logger.Debug("ignoring unknown server event", zap.String("event", envelope.Event))
	}
}

// clearActiveIfRemoved resets the selection and output pane when the
// active file was deleted. Callers hold s.mu.
func (s *Session) clearActiveIfRemoved(removed []string) {
	for _, path := range removed {
		if path == s.activeFile {
			s.activeFile = ""
			s.output = ""
			s.outputIsError = false
			return
		}
	}
}

func (s *Session) emit(event string, payload any) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	envelope, err := relay.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(envelope)
}
