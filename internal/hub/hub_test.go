package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/user/ptyhost/internal/pty"
)

type fakeTerminals struct {
	mu    sync.Mutex
	calls []string
	live  map[string]bool
}

func newFakeTerminals() *fakeTerminals {
	return &fakeTerminals{live: make(map[string]bool)}
}

func (f *fakeTerminals) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTerminals) Spawn(_ context.Context, id, cwd string) error {
	f.record("spawn " + id + " " + cwd)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live[id] {
		return fmt.Errorf("%w: %q", pty.ErrExists, id)
	}
	f.live[id] = true
	return nil
}

func (f *fakeTerminals) Write(id, data string) error {
	f.record(fmt.Sprintf("write %s %q", id, data))
	return f.check(id)
}

func (f *fakeTerminals) Resize(id string, cols, rows uint16) error {
	f.record(fmt.Sprintf("resize %s %dx%d", id, cols, rows))
	return f.check(id)
}

func (f *fakeTerminals) Kill(id string) error {
	f.record("kill " + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[id] {
		return fmt.Errorf("%w: %q", pty.ErrNotFound, id)
	}
	delete(f.live, id)
	return nil
}

func (f *fakeTerminals) check(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[id] {
		return fmt.Errorf("%w: %q", pty.ErrNotFound, id)
	}
	return nil
}

func (f *fakeTerminals) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialHub(t *testing.T, h *Hub, token string) *testConn {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return &testConn{t: t, conn: conn}
}

func (c *testConn) send(msg ClientMessage) {
	c.t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, data))
}

func (c *testConn) next() map[string]any {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)
	var msg map[string]any
	require.NoError(c.t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubRoutesCommands(t *testing.T) {
	terms := newFakeTerminals()
	h := New(terms, Options{Token: "secret", DefaultDir: "/home/dev"})
	c := dialHub(t, h, "secret")

	c.send(ClientMessage{Type: TypeSpawn, SessionID: "s1"})
	ack := c.next()
	assert.Equal(t, TypeAck, ack["type"])
	assert.Equal(t, TypeSpawn, ack["op"])

	c.send(ClientMessage{Type: TypeWrite, SessionID: "s1", Data: "ls\n"})
	assert.Equal(t, TypeAck, c.next()["type"])

	c.send(ClientMessage{Type: TypeKey, SessionID: "s1", Key: "C-c"})
	assert.Equal(t, TypeAck, c.next()["type"])

	c.send(ClientMessage{Type: TypeResize, SessionID: "s1", Cols: 120, Rows: 40})
	assert.Equal(t, TypeAck, c.next()["type"])

	c.send(ClientMessage{Type: TypeKill, SessionID: "s1"})
	assert.Equal(t, TypeAck, c.next()["type"])

	assert.Equal(t, []string{
		"spawn s1 /home/dev",
		`write s1 "ls\n"`,
		`write s1 "\x03"`,
		"resize s1 120x40",
		"kill s1",
	}, terms.Calls())
}

func TestHubReportsErrors(t *testing.T) {
	h := New(newFakeTerminals(), Options{})
	c := dialHub(t, h, "")

	c.send(ClientMessage{Type: TypeWrite, SessionID: "ghost", Data: "x"})
	msg := c.next()
	assert.Equal(t, TypeError, msg["type"])
	assert.Equal(t, "ghost", msg["session_id"])
	assert.Contains(t, msg["message"], "not found")

	c.send(ClientMessage{Type: TypeResize, SessionID: "ghost", Cols: 0, Rows: 24})
	assert.Equal(t, TypeError, c.next()["type"])

	c.send(ClientMessage{Type: TypeKill})
	assert.Contains(t, c.next()["message"], "session_id is required")

	c.send(ClientMessage{Type: "bogus"})
	assert.Contains(t, c.next()["message"], "unknown message type")
}

func TestHubDeliversDataBeforeExit(t *testing.T) {
	h := New(newFakeTerminals(), Options{BatchInterval: time.Hour})
	c := dialHub(t, h, "")

	// Wait until the client is registered.
	c.send(ClientMessage{Type: TypeSubscribe})
	require.Equal(t, TypeAck, c.next()["type"])

	h.NotifyData(pty.DataEvent{SessionID: "s1", Data: "hel"})
	h.NotifyData(pty.DataEvent{SessionID: "s1", Data: "lo"})
	h.NotifyExit(pty.ExitEvent{SessionID: "s1", Code: 7})

	data := c.next()
	assert.Equal(t, TypeData, data["type"])
	assert.Equal(t, "hello", data["data"])

	exit := c.next()
	assert.Equal(t, TypeExit, exit["type"])
	assert.Equal(t, "s1", exit["session_id"])
	assert.Equal(t, float64(7), exit["code"])
}

func TestHubSubscriptionFilters(t *testing.T) {
	h := New(newFakeTerminals(), Options{})
	c := dialHub(t, h, "")

	c.send(ClientMessage{Type: TypeSubscribe, SessionID: "wanted"})
	require.Equal(t, TypeAck, c.next()["type"])

	h.NotifyData(pty.DataEvent{SessionID: "other", Data: "skip"})
	h.NotifyData(pty.DataEvent{SessionID: "wanted", Data: "keep"})

	msg := c.next()
	assert.Equal(t, "wanted", msg["session_id"])
	assert.Equal(t, "keep", msg["data"])
}

func TestHubRejectsBadToken(t *testing.T) {
	h := New(newFakeTerminals(), Options{Token: "secret"})
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=wrong"
	_, resp, err := websocket.Dial(context.Background(), url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 401, resp.StatusCode)
	}
}

func TestMapNamedKey(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"Enter", "\r"},
		{"C-c", "\x03"},
		{"C-d", "\x04"},
		{"escape", "\x1b"},
		{"tab", "\t"},
		{"up", "\x1b[A"},
		{"down", "\x1b[B"},
		{"left", "\x1b[D"},
		{"right", "\x1b[C"},
		{"backspace", "\x7f"},
		{"unknown", "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, mapNamedKey(tt.key), tt.key)
	}
}
