package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/user/ptyhost/internal/pty"
)

// terminals is the command surface the hub routes client messages to.
type terminals interface {
	Spawn(ctx context.Context, id, cwd string) error
	Write(id, data string) error
	Resize(id string, cols, rows uint16) error
	Kill(id string) error
}

type Options struct {
	Token string
	// DefaultDir is used for spawn requests without a cwd.
	DefaultDir string
	// BatchInterval coalesces output per session; zero sends every chunk.
	BatchInterval time.Duration
	Logger        *zap.Logger
}

// Hub fans session notifications out to websocket clients and accepts
// terminal commands from them. It implements pty.Notifier.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan hubBroadcast

	terms      terminals
	token      string
	defaultDir string
	batcher    *Batcher
	logger     *zap.Logger

	mu      sync.RWMutex
	ctxMu   sync.RWMutex
	ctx     context.Context
	running atomic.Bool
}

var _ pty.Notifier = (*Hub)(nil)

func New(terms terminals, opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan hubBroadcast, 256),
		terms:      terms,
		token:      opts.Token,
		defaultDir: opts.DefaultDir,
		logger:     logger,
		ctx:        context.Background(),
	}
	h.batcher = NewBatcher(opts.BatchInterval, func(ev pty.DataEvent) {
		h.sendBroadcast(ev.SessionID, DataMessage{Type: TypeData, SessionID: ev.SessionID, Data: ev.Data})
	})
	return h
}

func (h *Hub) getContext() context.Context {
	h.ctxMu.RLock()
	defer h.ctxMu.RUnlock()
	return h.ctx
}

func (h *Hub) Run(ctx context.Context) {
	h.ctxMu.Lock()
	h.ctx = ctx
	h.ctxMu.Unlock()
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.batcher.FlushAll()
			h.mu.Lock()
			for _, c := range h.clients {
				c.closeSend()
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			go client.writePump(ctx)
			go client.readPump(ctx)
			h.logger.Info("client connected", zap.String("client_id", client.id), zap.Int("total", h.ClientCount()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.closeSend()
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", zap.String("client_id", client.id), zap.Int("total", h.ClientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				if !c.wantsSession(msg.sessionID) {
					continue
				}
				if !c.trySend(msg.data) {
					h.logger.Warn("client send buffer full, dropping message", zap.String("client_id", c.id))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if h.token != "" && token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept error", zap.Error(err))
		return
	}

	client := newClient(conn, h)
	select {
	case h.register <- client:
	default:
		h.logger.Warn("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
	}
}

// NotifyData queues an output chunk for the session's subscribers.
func (h *Hub) NotifyData(ev pty.DataEvent) {
	h.batcher.Add(ev)
}

// NotifyExit flushes the session's pending output, then sends the exit.
func (h *Hub) NotifyExit(ev pty.ExitEvent) {
	h.batcher.Flush(ev.SessionID)
	h.sendBroadcast(ev.SessionID, ExitMessage{Type: TypeExit, SessionID: ev.SessionID, Code: ev.Code})
}

// sendBroadcast blocks until Run accepts the message so per-session order is
// kept. Messages are dropped while the hub is not running.
func (h *Hub) sendBroadcast(sessionID string, msg any) {
	if !h.running.Load() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("error marshaling message", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- hubBroadcast{data: data, sessionID: sessionID}:
	case <-h.getContext().Done():
	}
}

func (h *Hub) send(client *Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("error marshaling message", zap.Error(err))
		return
	}
	client.trySend(data)
}

func (h *Hub) SendError(client *Client, msg ClientMessage, err error) {
	h.send(client, ErrorMessage{Type: TypeError, SessionID: msg.SessionID, Op: msg.Type, Message: err.Error()})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleCommand runs a terminal command from a client and replies with an
// ack or an error.
func (h *Hub) handleCommand(ctx context.Context, client *Client, msg ClientMessage) {
	if msg.SessionID == "" {
		h.SendError(client, msg, errors.New("session_id is required"))
		return
	}

	var err error
	switch msg.Type {
	case TypeSpawn:
		cwd := msg.Cwd
		if cwd == "" {
			cwd = h.defaultDir
		}
		err = h.terms.Spawn(ctx, msg.SessionID, cwd)
		if err == nil {
			// Spawning implies interest in the new session's output.
			client.addSubscription(msg.SessionID)
		}
	case TypeWrite:
		err = h.terms.Write(msg.SessionID, msg.Data)
	case TypeKey:
		err = h.terms.Write(msg.SessionID, mapNamedKey(msg.Key))
	case TypeResize:
		if msg.Cols <= 0 || msg.Rows <= 0 || msg.Cols > 0xffff || msg.Rows > 0xffff {
			err = errors.New("cols and rows must be between 1 and 65535")
			break
		}
		err = h.terms.Resize(msg.SessionID, uint16(msg.Cols), uint16(msg.Rows))
	case TypeKill:
		err = h.terms.Kill(msg.SessionID)
	}

	if err != nil {
		h.SendError(client, msg, err)
		return
	}
	h.send(client, AckMessage{Type: TypeAck, SessionID: msg.SessionID, Op: msg.Type})
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.running.Load() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		h.logger.Warn("unregister channel full, forcing close", zap.String("client_id", c.id))
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
