package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/codesynclabs/codesync/internal/config"
	"github.com/codesynclabs/codesync/internal/execution"
	"github.com/codesynclabs/codesync/internal/logging"
	"github.com/codesynclabs/codesync/internal/relay"
	"github.com/codesynclabs/codesync/internal/rooms"
	"github.com/codesynclabs/codesync/internal/server"
)

// buildStack assembles the server the way cmd/codesync-api does, with
// the execution upstream stubbed out.
func buildStack(t *testing.T, upstreamBody string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	appConfig, err := config.Load(config.NewViper())
	if err != nil {
		t.Fatalf("failed to load default config: %v", err)
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		t.Fatalf("failed to construct logger: %v", err)
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(upstreamBody))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	hub := relay.NewHub(rooms.NewRegistry(), logger)
	go hub.Run(ctx)

	wsRelay, err := relay.New(relay.Config{Hub: hub, Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct relay: %v", err)
	}
	proxy, err := execution.NewProxy(execution.Config{
		BaseURL: upstream.URL,
		Timeout: appConfig.ExecutionTimeout,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("failed to construct proxy: %v", err)
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Relay:    wsRelay,
		Executor: proxy,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(func() {
		testServer.Close()
		upstream.Close()
		cancel()
	})
	return testServer
}

func dial(t *testing.T, testServer *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial relay: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	envelope, err := relay.NewEnvelope(event, payload)
	if err != nil {
		t.Fatalf("failed to build %s: %v", event, err)
	}
	if err := conn.WriteJSON(envelope); err != nil {
		t.Fatalf("failed to send %s: %v", event, err)
	}
}

func receive(t *testing.T, conn *websocket.Conn, expectedEvent string, payload any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope relay.Envelope
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("expected %s within deadline: %v", expectedEvent, err)
	}
	if envelope.Event != expectedEvent {
		t.Fatalf("expected %s, got %s", expectedEvent, envelope.Event)
	}
	if payload != nil {
		if err := json.Unmarshal(envelope.Payload, payload); err != nil {
			t.Fatalf("failed to decode %s payload: %v", expectedEvent, err)
		}
	}
}

func TestRoomSessionLifecycleOverTheWire(t *testing.T) {
	testServer := buildStack(t, `{"run":{"output":"1\n","stderr":"","signal":""}}`)

	alice := dial(t, testServer)
	send(t, alice, relay.EventJoin, relay.JoinPayload{RoomID: "R1", DisplayName: "alice"})
	var aliceJoined relay.JoinedPayload
	receive(t, alice, relay.EventJoined, &aliceJoined)
	if len(aliceJoined.Clients) != 1 {
		t.Fatalf("expected 1 client after first join, got %d", len(aliceJoined.Clients))
	}

	bob := dial(t, testServer)
	send(t, bob, relay.EventJoin, relay.JoinPayload{RoomID: "R1", DisplayName: "bob"})
	var bobJoined relay.JoinedPayload
	receive(t, bob, relay.EventJoined, &bobJoined)
	var aliceView relay.JoinedPayload
	receive(t, alice, relay.EventJoined, &aliceView)
	if len(bobJoined.Clients) != 2 || len(aliceView.Clients) != 2 {
		t.Fatalf("both members must see 2 clients, got %d and %d", len(bobJoined.Clients), len(aliceView.Clients))
	}

	// Alice creates main.py; bob gains an identical copy.
	send(t, alice, relay.EventFileCreated, relay.FileCreatedPayload{
		RoomID: "R1", Path: "main.py", Language: "python", Content: "print(1)",
	})
	var created relay.FileCreatedPayload
	receive(t, bob, relay.EventFileCreated, &created)
	if created.Path != "main.py" || created.Content != "print(1)" || created.Language != "python" {
		t.Fatalf("unexpected file_created payload: %+v", created)
	}

	// Alice deletes it again; bob is told.
	send(t, alice, relay.EventFileDeleted, relay.FileDeletedPayload{RoomID: "R1", Path: "main.py"})
	var deleted relay.FileDeletedPayload
	receive(t, bob, relay.EventFileDeleted, &deleted)
	if deleted.Path != "main.py" {
		t.Fatalf("unexpected file_deleted payload: %+v", deleted)
	}

	// Alice leaves; bob is notified with her socket id.
	alice.Close()
	var gone relay.DisconnectedPayload
	receive(t, bob, relay.EventDisconnected, &gone)
	if gone.SocketID != aliceJoined.SocketID || gone.DisplayName != "alice" {
		t.Fatalf("unexpected disconnected payload: %+v", gone)
	}
}

func TestExecuteEndpointProxiesBundles(t *testing.T) {
	testServer := buildStack(t, `{"run":{"output":"1\n","stderr":"","signal":""}}`)

	body := `{"files":[{"name":"a.js","value":"console.log(1)"}],"mainFile":{"name":"a.js","value":"console.log(1)"},"language":"javascript"}`
	response, err := http.Post(testServer.URL+"/execute", "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("execute request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected ok status, got %d", response.StatusCode)
	}
	var outcome execution.RunOutcome
	if err := json.NewDecoder(response.Body).Decode(&outcome); err != nil {
		t.Fatalf("failed to decode run outcome: %v", err)
	}
	if outcome.Run.Output != "1\n" {
		t.Fatalf("unexpected run output: %q", outcome.Run.Output)
	}

	missing, err := http.Post(testServer.URL+"/execute", "application/json", bytes.NewReader([]byte(`{"language":"javascript"}`)))
	if err != nil {
		t.Fatalf("execute request failed: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request for missing bundle, got %d", missing.StatusCode)
	}
}
