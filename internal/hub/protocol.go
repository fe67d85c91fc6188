package hub

import "github.com/user/ptyhost/internal/pty"

// Server → client message types.
const (
	TypeData  = pty.DataEventName
	TypeExit  = pty.ExitEventName
	TypeAck   = "ack"
	TypeError = "error"
)

// Client → server message types.
const (
	TypeSpawn     = "spawn"
	TypeWrite     = "write"
	TypeKey       = "key"
	TypeResize    = "resize"
	TypeKill      = "kill"
	TypeSubscribe = "subscribe"
)

type DataMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

type ExitMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Code      int32  `json:"code"`
}

// AckMessage confirms that a client command succeeded.
type AckMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Op        string `json:"op"`
}

type ErrorMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Op        string `json:"op,omitempty"`
	Message   string `json:"message"`
}

type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Cwd       string `json:"cwd,omitempty"`
	Data      string `json:"data,omitempty"`
	Key       string `json:"key,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

type hubBroadcast struct {
	data      []byte
	sessionID string
}
