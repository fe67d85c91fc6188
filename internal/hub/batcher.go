package hub

import (
	"strings"
	"sync"
	"time"

	"github.com/user/ptyhost/internal/pty"
)

// Batcher coalesces output chunks per session for a short interval so slow
// terminals are not flooded with tiny frames. Flush for a session returns
// only after any in-flight flush of that session has been handed on, which
// lets callers send an exit message strictly after the session's data.
type Batcher struct {
	mu       sync.Mutex
	flushMu  sync.Mutex
	pending  map[string]*pendingOutput
	interval time.Duration
	onFlush  func(pty.DataEvent)
}

type pendingOutput struct {
	chunks []string
	timer  *time.Timer
}

func NewBatcher(interval time.Duration, onFlush func(pty.DataEvent)) *Batcher {
	return &Batcher{
		pending:  make(map[string]*pendingOutput),
		interval: interval,
		onFlush:  onFlush,
	}
}

func (b *Batcher) Add(ev pty.DataEvent) {
	if b.interval <= 0 {
		b.flushMu.Lock()
		b.onFlush(ev)
		b.flushMu.Unlock()
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sessionID := ev.SessionID
	p, exists := b.pending[sessionID]
	if !exists {
		p = &pendingOutput{}
		b.pending[sessionID] = p
	}
	p.chunks = append(p.chunks, ev.Data)

	if p.timer == nil {
		p.timer = time.AfterFunc(b.interval, func() {
			b.Flush(sessionID)
		})
	}
}

// Flush hands on everything pending for sessionID.
func (b *Batcher) Flush(sessionID string) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	p, exists := b.pending[sessionID]
	if !exists {
		b.mu.Unlock()
		return
	}
	delete(b.pending, sessionID)
	if p.timer != nil {
		p.timer.Stop()
	}
	b.mu.Unlock()

	if len(p.chunks) > 0 {
		b.onFlush(pty.DataEvent{SessionID: sessionID, Data: strings.Join(p.chunks, "")})
	}
}

func (b *Batcher) FlushAll() {
	b.mu.Lock()
	sessions := make([]string, 0, len(b.pending))
	for id := range b.pending {
		sessions = append(sessions, id)
	}
	b.mu.Unlock()

	for _, id := range sessions {
		b.Flush(id)
	}
}
