package testutil

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one decoded server message: its type tag plus the raw payload.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// WSClient is a simple WebSocket test client for gateway integration tests.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials the http(s) URL of a test server, rewriting it to ws(s).
//
// Precondition: rawURL must point at a listening WebSocket endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, rawURL string, header http.Header) *WSClient {
	t.Helper()
	start := time.Now()

	wsURL := "ws" + strings.TrimPrefix(rawURL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dialing %s: %v (status %d) [%s]", wsURL, err, status, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("ws client connected to %s [%s]", wsURL, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Send writes v as a JSON text frame.
func (c *WSClient) Send(v any) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("sending %+v: %v", v, err)
	}
}

// ReadUntil reads frames until one with the given type arrives or timeout
// elapses, returning that frame and every frame read before it.
//
// Precondition: typ must be non-empty.
// Postcondition: Returns the matching frame, or fails the test on timeout.
func (c *WSClient) ReadUntil(typ string, timeout time.Duration) (Frame, []Frame) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	var seen []Frame
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			types := make([]string, len(seen))
			for i, s := range seen {
				types[i] = s.Type
			}
			c.t.Fatalf("reading until %q: saw %v, error: %v", typ, types, err)
		}
		if f.Type == typ {
			return f, seen
		}
		seen = append(seen, f)
	}
}

// Close closes the underlying connection.
func (c *WSClient) Close() {
	c.conn.Close()
}
