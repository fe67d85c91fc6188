package pty

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	creackpty "github.com/creack/pty"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
)

// Initial terminal geometry of every session.
const (
	DefaultCols uint16 = 80
	DefaultRows uint16 = 24
)

const (
	defaultEventBuffer  = 1024
	defaultWriteTimeout = 5 * time.Second
)

// Options configures a Manager.
type Options struct {
	// Command is the program started in every session, shell-quoted.
	Command string
	// Env is appended to the current environment of the child.
	Env []string
	// WriteTimeout bounds a single Write. Zero uses the default, negative
	// disables the deadline.
	WriteTimeout time.Duration
	// EventBuffer is the capacity of the event channel.
	EventBuffer int
	// OnStart is called after a session has been registered and before its
	// pump starts. It runs on the caller's goroutine, outside the registry lock.
	OnStart func(SessionInfo)
	Logger  *zap.Logger
}

// Manager is the command surface over the session registry. Create one with
// NewManager and release it with Close.
type Manager struct {
	argv         []string
	command      string
	env          []string
	writeTimeout time.Duration
	onStart      func(SessionInfo)
	logger       *zap.Logger

	registry *registry
	events   chan Event

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager parses the configured command and returns an empty Manager.
func NewManager(opts Options) (*Manager, error) {
	argv, err := shellquote.Split(strings.TrimSpace(opts.Command))
	if err != nil {
		return nil, fmt.Errorf("pty: parse command %q: %w", opts.Command, err)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultWriteTimeout
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	return &Manager{
		argv:         argv,
		command:      shellquote.Join(argv...),
		env:          append([]string{"TERM=xterm-256color"}, opts.Env...),
		writeTimeout: writeTimeout,
		onStart:      opts.OnStart,
		logger:       logger,
		registry:     newRegistry(),
		events:       make(chan Event, buffer),
		done:         make(chan struct{}),
	}, nil
}

// Spawn starts the configured program in a new pseudo-terminal under id and
// starts its output pump. It returns once the session is registered.
func (m *Manager) Spawn(ctx context.Context, id, cwd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.isClosed() {
		return ErrClosed
	}
	if m.registry.contains(id) {
		return fmt.Errorf("%w: %q", ErrExists, id)
	}

	cmd := exec.Command(m.argv[0], m.argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), m.env...)

	// StartWithSize releases both ends of the pty when the start fails.
	raw, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Cols: DefaultCols, Rows: DefaultRows})
	if err != nil {
		return fmt.Errorf("pty: start %q in %q: %w", m.argv[0], cwd, err)
	}
	ptmx, err := pollable(raw)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("pty: prepare terminal for %q: %w", m.argv[0], err)
	}

	h := newHandle(id, m.command, cwd, cmd, ptmx, DefaultCols, DefaultRows)
	// Taken while Spawn is still the only owner of h.
	info := h.info()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.discard(h)
		return ErrClosed
	}
	if err := m.registry.insert(id, h); err != nil {
		m.mu.Unlock()
		m.discard(h)
		return err
	}
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("pty session spawned",
		zap.String("session_id", id),
		zap.String("command", m.command),
		zap.String("cwd", cwd),
		zap.Int("pid", info.Pid),
	)
	// OnStart sees the session before any of its events can be dispatched.
	if m.onStart != nil {
		m.onStart(info)
	}
	go m.pump(id, ptmx)
	return nil
}

// Write sends data to the session's terminal and flushes it.
func (m *Manager) Write(id, data string) error {
	return m.registry.with(id, func(h *handle) error {
		if err := h.write([]byte(data), m.writeTimeout); err != nil {
			return fmt.Errorf("pty: write %q: %w", id, err)
		}
		return nil
	})
}

// Resize changes the session's terminal geometry.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	return m.registry.with(id, func(h *handle) error {
		if err := h.resize(cols, rows); err != nil {
			return fmt.Errorf("pty: resize %q: %w", id, err)
		}
		return nil
	})
}

// Kill removes the session and forcefully terminates its process. The exit
// event still comes from the session's pump. A kill error is returned, but
// the session is gone from the registry either way.
func (m *Manager) Kill(id string) error {
	h, err := m.registry.remove(id)
	if err != nil {
		return err
	}
	killErr := h.kill()
	go h.reap()

	if killErr != nil {
		m.logger.Warn("pty kill failed", zap.String("session_id", id), zap.Error(killErr))
		return fmt.Errorf("pty: kill %q: %w", id, killErr)
	}
	m.logger.Info("pty session killed", zap.String("session_id", id))
	return nil
}

// List returns the live sessions ordered by start time.
func (m *Manager) List() []SessionInfo {
	return m.registry.snapshot()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.registry.len()
}

// Events returns the channel every pump writes to. Use either Events or
// Dispatch, not both.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Dispatch delivers events to n until ctx is done or the manager is closed.
func (m *Manager) Dispatch(ctx context.Context, n Notifier) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case ev := <-m.events:
			deliver(n, ev)
		}
	}
}

// Close kills every live session and stops the pumps. Spawn fails with
// ErrClosed afterwards. Close waits for the pumps to finish.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		for _, h := range m.registry.drain() {
			if err := h.kill(); err != nil {
				m.logger.Warn("pty kill failed", zap.String("session_id", h.id), zap.Error(err))
			}
			go h.reap()
		}
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// discard tears down a session that never made it into the registry.
func (m *Manager) discard(h *handle) {
	_ = h.kill()
	h.reap()
}
