package pty

import "time"

// EventType distinguishes the kind of event produced by an output pump.
type EventType int

const (
	// EventData carries a decoded chunk of terminal output.
	EventData EventType = iota
	// EventExit is the final event of a session.
	EventExit
)

// Wire names of the two notifications.
const (
	DataEventName = "pty-data"
	ExitEventName = "pty-exit"
)

// ExitUnknown is reported when the exit status could not be determined.
const ExitUnknown int32 = -1

// DataEvent is one chunk of output read from a session's terminal.
type DataEvent struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

// ExitEvent is emitted exactly once per session, after all of its data.
type ExitEvent struct {
	SessionID string `json:"session_id"`
	Code      int32  `json:"code"`
}

// Event is a single notification emitted by a pump.
type Event struct {
	Type EventType
	Data DataEvent
	Exit ExitEvent
}

// SessionID returns the id of the session the event belongs to.
func (e Event) SessionID() string {
	if e.Type == EventExit {
		return e.Exit.SessionID
	}
	return e.Data.SessionID
}

// SessionInfo is a read-only snapshot of a live session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Cwd       string    `json:"cwd"`
	Pid       int       `json:"pid"`
	Cols      uint16    `json:"cols"`
	Rows      uint16    `json:"rows"`
	StartedAt time.Time `json:"started_at"`
}
