package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one run of a pty session. ExitedAt and ExitCode are nil
// while the session is still live.
type HistoryEntry struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Command     string     `json:"command"`
	Cwd         string     `json:"cwd"`
	Pid         int        `json:"pid"`
	StartedAt   time.Time  `json:"started_at"`
	ExitedAt    *time.Time `json:"exited_at,omitempty"`
	ExitCode    *int32     `json:"exit_code,omitempty"`
	OutputBytes int64      `json:"output_bytes"`
}

// timestampLayout keeps a fixed width so stored values sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func NewID() string {
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(timestampLayout)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(timestampLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}
