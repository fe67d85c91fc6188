package pty

import (
	"errors"
	"io"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const readChunkSize = 4096

// pump drains a session's terminal until it closes, then retires the session
// and emits its single exit event. Runs on its own goroutine.
func (m *Manager) pump(id string, r io.Reader) {
	defer m.wg.Done()

	// The decoder replaces invalid bytes with U+FFFD and holds back a rune
	// that is split across two reads.
	decoded := transform.NewReader(r, unicode.UTF8.NewDecoder())

	var total uint64
	buf := make([]byte, readChunkSize)
	for {
		n, err := decoded.Read(buf)
		if n > 0 {
			total += uint64(n)
			if !m.emit(Event{Type: EventData, Data: DataEvent{SessionID: id, Data: string(buf[:n])}}) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.logger.Debug("pty read ended", zap.String("session_id", id), zap.Error(err))
			}
			break
		}
		if n == 0 {
			break
		}
	}

	code := ExitUnknown
	if h, err := m.registry.remove(id); err == nil {
		code = h.reap()
	}

	m.logger.Info("pty session exited",
		zap.String("session_id", id),
		zap.Int32("code", code),
		zap.String("output", humanize.Bytes(total)),
	)
	m.emit(Event{Type: EventExit, Exit: ExitEvent{SessionID: id, Code: code}})
}

// emit blocks until the event is queued. It reports false once the manager
// is closed and nobody is left to receive.
func (m *Manager) emit(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}
