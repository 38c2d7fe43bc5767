package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaoscope/chaoscope/pkg/logger"
)

func testWSLogger() logger.Logger {
	return logger.New(&logger.Config{
		Level:  logger.ErrorLevel,
		Format: "json",
		Output: "stdout",
	})
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func waitForConnections(t *testing.T, handler *WebSocketHandler, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if handler.ConnectionCount() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connection count never reached %d", want)
}

func TestWebSocketHandlerRejectsNonUpgrade(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()
	handler := NewWebSocketHandler(testWSLogger(), WebSocketConfig{}, b)
	defer handler.Close()

	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestWebSocketHandlerStreamsBroadcasts(t *testing.T) {
	b := NewBroadcaster(4)
	handler := NewWebSocketHandler(testWSLogger(), WebSocketConfig{MaxConnections: 5}, b)

	server := httptest.NewServer(handler)
	defer server.Close()
	defer handler.Close()
	defer b.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL), nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	waitForConnections(t, handler, 1)
	b.Broadcast(Event{Event: "started", Payload: map[string]any{"title": "t"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read broadcast event: %v", err)
	}
	if got.Event != "started" {
		t.Fatalf("event = %q, want started", got.Event)
	}
}

func TestWebSocketHandlerFiltersBySubscription(t *testing.T) {
	b := NewBroadcaster(16)
	handler := NewWebSocketHandler(testWSLogger(), WebSocketConfig{MaxConnections: 5}, b)

	server := httptest.NewServer(handler)
	defer server.Close()
	defer handler.Close()
	defer b.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL), nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	waitForConnections(t, handler, 1)
	if err := conn.WriteJSON(map[string]any{
		"type":  "subscribe",
		"event": "finished",
	}); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	// Give the server a moment to apply the subscription.
	time.Sleep(100 * time.Millisecond)

	b.Broadcast(Event{Event: "start_activity"})
	b.Broadcast(Event{Event: "finished"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if got.Event != "finished" {
		t.Fatalf("event = %q, want finished (start_activity should be filtered)", got.Event)
	}
}

func TestWebSocketHandlerConnectionLimit(t *testing.T) {
	b := NewBroadcaster(4)
	handler := NewWebSocketHandler(testWSLogger(), WebSocketConfig{MaxConnections: 1}, b)

	server := httptest.NewServer(handler)
	defer server.Close()
	defer handler.Close()
	defer b.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL), nil)
	if err != nil {
		t.Fatalf("failed to open first websocket: %v", err)
	}
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server.URL), nil)
	if err == nil {
		t.Fatal("expected second websocket dial to fail")
	}
	if resp == nil {
		t.Fatal("expected HTTP response for failed upgrade")
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestWebSocketHandlerOriginCheck(t *testing.T) {
	b := NewBroadcaster(4)
	handler := NewWebSocketHandler(testWSLogger(), WebSocketConfig{
		AllowedOrigins: []string{"http://allowed.example"},
	}, b)

	server := httptest.NewServer(handler)
	defer server.Close()
	defer handler.Close()
	defer b.Close()

	dialer := websocket.Dialer{}
	headers := http.Header{}
	headers.Set("Origin", "http://blocked.example")

	_, resp, err := dialer.Dial(wsURL(server.URL), headers)
	if err == nil {
		t.Fatal("expected websocket dial with blocked origin to fail")
	}
	if resp == nil {
		t.Fatal("expected HTTP response for blocked origin")
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestConnectionManagerSubscriptionRouting(t *testing.T) {
	manager := newConnectionManager(2)
	clientA := newWSClient(nil)
	clientB := newWSClient(nil)

	clientA.subscribe("finished")

	if err := manager.register(clientA); err != nil {
		t.Fatalf("register clientA failed: %v", err)
	}
	if err := manager.register(clientB); err != nil {
		t.Fatalf("register clientB failed: %v", err)
	}
	if manager.count() != 2 {
		t.Fatalf("count = %d, want 2", manager.count())
	}

	if err := manager.broadcast(Event{Event: "finished"}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	select {
	case <-clientA.send:
	case <-time.After(time.Second):
		t.Fatal("expected subscribed clientA to receive finished event")
	}
	select {
	case <-clientB.send:
	case <-time.After(time.Second):
		t.Fatal("expected unfiltered clientB to receive finished event")
	}

	if err := manager.broadcast(Event{Event: "start_method"}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	select {
	case <-clientA.send:
		t.Fatal("did not expect clientA subscription to receive start_method event")
	case <-time.After(200 * time.Millisecond):
	}
	select {
	case <-clientB.send:
	case <-time.After(time.Second):
		t.Fatal("expected unfiltered clientB to receive start_method event")
	}

	manager.unregister(clientA)
	if manager.count() != 1 {
		t.Fatalf("count after unregister = %d, want 1", manager.count())
	}
}
