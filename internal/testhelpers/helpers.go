// Package testhelpers provides common utilities shared by the package tests.
//
// It offers a recording realtime.Sink, HTTP request and assertion helpers,
// and a WebSocket client that understands the server's newline-coalesced
// frames.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/realtime"
)

// TestOrigin is the Origin header sent by WSClient.
const TestOrigin = "http://localhost:8080"

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks that the response Content-Type starts with
// expected, ignoring parameters such as charset.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest executes an HTTP request with an optional JSON body and bearer
// token. It fails the test if the request cannot be made.
func MakeRequest(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

// DecodeJSON decodes and closes a response body.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
}

// WebSocketURL converts an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials url with the test Origin. When token is set it is
// sent as a bearer header. The handshake response is returned for status
// assertions; its body is already closed.
func ConnectWebSocket(url, token string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// WSClient reads events from a connection, splitting frames that carry
// several newline-separated events.
type WSClient struct {
	Conn *websocket.Conn

	mu      sync.Mutex
	pending []RecordedEvent
}

// Dial connects a WSClient, failing the test on error.
func Dial(t *testing.T, url, token string) *WSClient {
	t.Helper()
	conn, _, err := ConnectWebSocket(url, token)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	c := &WSClient{Conn: conn}
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

// Send writes v as one JSON frame.
func (c *WSClient) Send(v any) error {
	return c.Conn.WriteJSON(v)
}

// Next returns the next event, waiting at most timeout. After a timeout the
// connection cannot be read again.
func (c *WSClient) Next(timeout time.Duration) (RecordedEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.pending) == 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return RecordedEvent{}, err
		}
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			return RecordedEvent{}, err
		}
		for _, line := range bytes.Split(raw, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var ev RecordedEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				return RecordedEvent{}, err
			}
			c.pending = append(c.pending, ev)
		}
	}

	ev := c.pending[0]
	c.pending = c.pending[1:]
	return ev, nil
}

// Expect reads events until one of type typ arrives and decodes its data
// into v. Other events are discarded. The test fails on timeout.
func (c *WSClient) Expect(t *testing.T, typ realtime.EventType, v any) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %s event", typ)
		}
		ev, err := c.Next(remaining)
		if err != nil {
			t.Fatalf("Failed waiting for %s event: %v", typ, err)
		}
		if ev.Type != typ {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(ev.Data, v); err != nil {
				t.Fatalf("Failed to decode %s data: %v", typ, err)
			}
		}
		return
	}
}

// ExpectNone asserts that no event of type typ arrives within wait. A read
// that times out leaves the connection unreadable, so call it last.
func (c *WSClient) ExpectNone(t *testing.T, typ realtime.EventType, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		ev, err := c.Next(remaining)
		if err != nil {
			return
		}
		if ev.Type == typ {
			t.Fatalf("Unexpected %s event: %s", typ, string(ev.Data))
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
