package server_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/domain"
	"github.com/Tyrowin/roomchat/internal/realtime"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/testhelpers"
)

// TestWebSocketHandshakeRejections tests that unauthenticated or
// cross-origin upgrade attempts are refused before admission.
func TestWebSocketHandshakeRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.user(t, "alice")

	tests := []struct {
		name           string
		url            string
		header         http.Header
		expectedStatus int
	}{
		{
			name:           "Missing credential",
			url:            env.wsURL,
			header:         http.Header{"Origin": {testhelpers.TestOrigin}},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Invalid credential",
			url:            env.wsURL,
			header:         http.Header{"Origin": {testhelpers.TestOrigin}, "Authorization": {"Bearer nope"}},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Disallowed origin",
			url:            env.wsURL,
			header:         http.Header{"Origin": {"http://evil.example"}, "Authorization": {"Bearer " + token}},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "Missing origin",
			url:            env.wsURL + "?token=" + token,
			header:         http.Header{},
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(tt.url, tt.header)
			if err == nil {
				_ = conn.Close()
				t.Fatal("Expected handshake to fail")
			}
			if resp == nil {
				t.Fatalf("Expected an HTTP response, got error %v", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, resp.StatusCode)
			}
		})
	}

	if n := env.server.Gateway().ClientCount(); n != 0 {
		t.Errorf("Expected no admitted clients, got %d", n)
	}
}

// TestWebSocketTokenQueryParameter tests the query-string credential used
// by browsers.
func TestWebSocketTokenQueryParameter(t *testing.T) {
	env := newTestEnv(t, nil)
	alice, token := env.user(t, "alice")

	client := testhelpers.Dial(t, env.wsURL+"?token="+token, "")
	var online domain.Identity
	client.Expect(t, realtime.EventIdentityOnline, &online)
	if online.ID != alice.ID {
		t.Errorf("Expected own identity_online, got %+v", online)
	}
}

// TestWebSocketHandlerMethodValidation tests that only GET reaches the
// upgrade handler.
func TestWebSocketHandlerMethodValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			resp := testhelpers.MakeRequest(t, method, env.http.URL+"/ws", "", nil)
			defer func() { _ = resp.Body.Close() }()
			testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
		})
	}
}

// TestWebSocketMessageFlow walks the subscribed and notified delivery paths.
func TestWebSocketMessageFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	alice, aliceToken := env.user(t, "alice")
	bob, bobToken := env.user(t, "bob")
	room := env.directRoom(t, alice, bob)

	aliceWS := testhelpers.Dial(t, env.wsURL, aliceToken)
	bobWS := testhelpers.Dial(t, env.wsURL, bobToken)
	waitFor(t, "both identities online", func() bool {
		return env.hub.IsOnline(alice.ID) && env.hub.IsOnline(bob.ID)
	})

	if err := aliceWS.Send(server.InboundEvent{Type: "join_room", RoomID: room.ID}); err != nil {
		t.Fatal(err)
	}
	content := "hello bob, this preview will definitely be truncated"
	if err := aliceWS.Send(server.InboundEvent{Type: "submit_message", RoomID: room.ID, Content: content}); err != nil {
		t.Fatal(err)
	}

	var received domain.Message
	aliceWS.Expect(t, realtime.EventMessageReceived, &received)
	if received.Content != content || received.Sender.ID != alice.ID {
		t.Errorf("Unexpected message_received: %+v", received)
	}

	var note realtime.Notification
	bobWS.Expect(t, realtime.EventMessageNotification, &note)
	if note.RoomID != room.ID || note.SenderName != "alice" {
		t.Errorf("Unexpected notification: %+v", note)
	}
	if want := realtime.Preview(content); note.Preview != want || !strings.HasSuffix(want, "...") {
		t.Errorf("Expected preview %q, got %q", want, note.Preview)
	}

	if err := bobWS.Send(server.InboundEvent{Type: "join_room", RoomID: room.ID}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob subscribed", func() bool {
		return len(env.hub.Rooms().SubscribersOf(room.ID)) == 2
	})

	if err := aliceWS.Send(server.InboundEvent{Type: "submit_message", RoomID: room.ID, Content: "second"}); err != nil {
		t.Fatal(err)
	}
	bobWS.Expect(t, realtime.EventMessageReceived, &received)
	if received.Content != "second" {
		t.Errorf("Expected bob to receive %q, got %q", "second", received.Content)
	}

	if err := bobWS.Send(server.InboundEvent{Type: "leave_room"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob unsubscribed", func() bool {
		return len(env.hub.Rooms().SubscribersOf(room.ID)) == 1
	})
}

// TestWebSocketErrorEvents tests that failed requests produce error events
// for the originating connection only.
func TestWebSocketErrorEvents(t *testing.T) {
	env := newTestEnv(t, func(cfg *server.Config) {
		cfg.RateLimit.Burst = 100
	})
	alice, aliceToken := env.user(t, "alice")
	bob, _ := env.user(t, "bob")
	carol, _ := env.user(t, "carol")
	foreign := env.directRoom(t, bob, carol)
	own := env.directRoom(t, alice, bob)

	client := testhelpers.Dial(t, env.wsURL, aliceToken)

	tests := []struct {
		name     string
		frame    []byte
		wantCode string
	}{
		{name: "Malformed JSON", frame: []byte("{not json"), wantCode: "invalid_event"},
		{name: "Unknown type", frame: []byte(`{"type":"dance"}`), wantCode: "invalid_event"},
		{name: "Join foreign room", frame: []byte(`{"type":"join_room","room_id":"` + foreign.ID + `"}`), wantCode: "not_a_participant"},
		{name: "Join missing room", frame: []byte(`{"type":"join_room","room_id":"missing"}`), wantCode: "room_not_found"},
		{name: "Submit to foreign room", frame: []byte(`{"type":"submit_message","room_id":"` + foreign.ID + `","content":"hi"}`), wantCode: "room_not_found"},
		{name: "Submit empty message", frame: []byte(`{"type":"submit_message","room_id":"` + own.ID + `","content":"  "}`), wantCode: "invalid_message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Conn.WriteMessage(websocket.TextMessage, tt.frame); err != nil {
				t.Fatal(err)
			}
			var payload realtime.ErrorPayload
			client.Expect(t, realtime.EventError, &payload)
			if payload.Code != tt.wantCode {
				t.Errorf("Expected error code %q, got %q (%s)", tt.wantCode, payload.Code, payload.Message)
			}
		})
	}
}

// TestWebSocketPresenceAcrossConnections tests that a second connection for
// the same identity produces no additional presence events.
func TestWebSocketPresenceAcrossConnections(t *testing.T) {
	env := newTestEnv(t, nil)
	alice, aliceToken := env.user(t, "alice")
	bob, bobToken := env.user(t, "bob")

	watcher := testhelpers.Dial(t, env.wsURL, aliceToken)
	waitFor(t, "alice online", func() bool { return env.hub.IsOnline(alice.ID) })

	first := testhelpers.Dial(t, env.wsURL, bobToken)
	second := testhelpers.Dial(t, env.wsURL, bobToken)
	waitFor(t, "two bob connections", func() bool { return env.hub.Registry().Count(bob.ID) == 2 })

	if err := testhelpers.CloseWebSocket(first.Conn); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "one bob connection", func() bool { return env.hub.Registry().Count(bob.ID) == 1 })
	if err := testhelpers.CloseWebSocket(second.Conn); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob offline", func() bool { return !env.hub.IsOnline(bob.ID) })

	var onlineEvents, offlineEvents int
	for offlineEvents == 0 {
		ev, err := watcher.Next(3 * time.Second)
		if err != nil {
			t.Fatalf("Failed reading presence events: %v", err)
		}
		switch ev.Type {
		case realtime.EventIdentityOnline:
			if strings.Contains(string(ev.Data), bob.ID) {
				onlineEvents++
			}
		case realtime.EventIdentityOffline:
			if strings.Contains(string(ev.Data), bob.ID) {
				offlineEvents++
			}
		}
	}
	if onlineEvents != 1 {
		t.Errorf("Expected exactly one identity_online for bob, got %d", onlineEvents)
	}
}

// TestWebSocketRateLimiting tests that events beyond the burst are rejected.
func TestWebSocketRateLimiting(t *testing.T) {
	env := newTestEnv(t, func(cfg *server.Config) {
		cfg.RateLimit.Burst = 2
		cfg.RateLimit.RefillInterval = time.Minute
	})
	_, token := env.user(t, "alice")
	client := testhelpers.Dial(t, env.wsURL, token)

	for i := 0; i < 4; i++ {
		if err := client.Send(server.InboundEvent{Type: "leave_room"}); err != nil {
			t.Fatal(err)
		}
	}

	var payload realtime.ErrorPayload
	client.Expect(t, realtime.EventError, &payload)
	if payload.Code != "rate_limited" {
		t.Errorf("Expected rate_limited error, got %q", payload.Code)
	}
}

// TestWebSocketMessageSizeLimit tests that oversized frames close the
// connection and evict the client.
func TestWebSocketMessageSizeLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = 64
	})
	alice, token := env.user(t, "alice")
	client := testhelpers.Dial(t, env.wsURL, token)
	waitFor(t, "alice online", func() bool { return env.hub.IsOnline(alice.ID) })

	oversized := `{"type":"submit_message","content":"` + strings.Repeat("x", 256) + `"}`
	if err := client.Conn.WriteMessage(websocket.TextMessage, []byte(oversized)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "alice evicted", func() bool { return !env.hub.IsOnline(alice.ID) })
	for {
		if _, err := client.Next(3 * time.Second); err != nil {
			break
		}
	}
}

// TestGracefulShutdownWithClients tests that shutdown closes every client
// and evicts it from the hub.
func TestGracefulShutdownWithClients(t *testing.T) {
	env := newTestEnv(t, nil)

	clients := make([]*testhelpers.WSClient, 0, 3)
	for _, name := range []string{"alice", "bob", "carol"} {
		_, token := env.user(t, name)
		clients = append(clients, testhelpers.Dial(t, env.wsURL, token))
	}
	waitFor(t, "three clients", func() bool { return env.server.Gateway().ClientCount() == 3 })

	if err := env.server.Gateway().Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Gateway shutdown failed: %v", err)
	}

	if n := env.server.Gateway().ClientCount(); n != 0 {
		t.Errorf("Expected no clients after shutdown, got %d", n)
	}
	if n := env.hub.Registry().Len(); n != 0 {
		t.Errorf("Expected empty registry after shutdown, got %d", n)
	}
	for _, c := range clients {
		for {
			if _, err := c.Next(3 * time.Second); err != nil {
				break
			}
		}
	}

	_, token := env.user(t, "dave")
	conn, _, err := testhelpers.ConnectWebSocket(env.wsURL, token)
	if err == nil {
		// The upgrade may succeed, but the gateway refuses the client.
		_, _, readErr := conn.ReadMessage()
		if readErr == nil {
			t.Error("Expected connection to be closed after shutdown")
		}
		_ = conn.Close()
	}
}
