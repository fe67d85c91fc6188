package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/ptyhost/internal/pty"
)

const historyWriteTimeout = 5 * time.Second

// HistoryRepo records every session run. It is an audit trail only; nothing
// in it is used to bring sessions back.
type HistoryRepo struct {
	db     *sql.DB
	logger *zap.Logger

	mu          sync.Mutex
	outputBytes map[string]int64
}

type HistoryFilter struct {
	SessionID string
	Limit     int
}

func NewHistoryRepo(db *sql.DB, logger *zap.Logger) *HistoryRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryRepo{
		db:          db,
		logger:      logger,
		outputBytes: make(map[string]int64),
	}
}

func (r *HistoryRepo) RecordStart(ctx context.Context, info pty.SessionInfo) (*HistoryEntry, error) {
	entry := &HistoryEntry{
		ID:        NewID(),
		SessionID: info.ID,
		Command:   info.Command,
		Cwd:       info.Cwd,
		Pid:       info.Pid,
		StartedAt: info.StartedAt,
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = nowUTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO session_history (id, session_id, command, cwd, pid, started_at)
VALUES (?, ?, ?, ?, ?, ?)
`, entry.ID, entry.SessionID, entry.Command, entry.Cwd, entry.Pid, formatTimestamp(entry.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to record start of session %q: %w", info.ID, err)
	}
	entry.StartedAt = entry.StartedAt.UTC()
	return entry, nil
}

// MarkExited closes the most recent open run of sessionID. It reports
// whether a run was updated.
func (r *HistoryRepo) MarkExited(ctx context.Context, sessionID string, code int32, outputBytes int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE session_history
SET exited_at = ?, exit_code = ?, output_bytes = ?
WHERE id = (
	SELECT id FROM session_history
	WHERE session_id = ? AND exited_at IS NULL
	ORDER BY started_at DESC
	LIMIT 1
)
`, formatTimestamp(nowUTC()), code, outputBytes, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to record exit of session %q: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record exit of session %q: %w", sessionID, err)
	}
	return n > 0, nil
}

func (r *HistoryRepo) Get(ctx context.Context, id string) (*HistoryEntry, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, session_id, command, cwd, pid, started_at, exited_at, exit_code, output_bytes
FROM session_history
WHERE id = ?
`, id)
	entry, err := scanHistory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get history %q: %w", id, err)
	}
	return entry, nil
}

// List returns runs newest first.
func (r *HistoryRepo) List(ctx context.Context, filter HistoryFilter) ([]*HistoryEntry, error) {
	query := `SELECT id, session_id, command, cwd, pid, started_at, exited_at, exit_code, output_bytes FROM session_history`
	args := []any{}
	where := []string{}

	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := []*HistoryEntry{}
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return entries, nil
}

// OnStart is meant for pty.Options.OnStart.
func (r *HistoryRepo) OnStart(info pty.SessionInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	r.mu.Lock()
	r.outputBytes[info.ID] = 0
	r.mu.Unlock()

	if _, err := r.RecordStart(ctx, info); err != nil {
		r.logger.Warn("history start not recorded", zap.String("session_id", info.ID), zap.Error(err))
	}
}

func (r *HistoryRepo) NotifyData(ev pty.DataEvent) {
	r.mu.Lock()
	r.outputBytes[ev.SessionID] += int64(len(ev.Data))
	r.mu.Unlock()
}

func (r *HistoryRepo) NotifyExit(ev pty.ExitEvent) {
	r.mu.Lock()
	total := r.outputBytes[ev.SessionID]
	delete(r.outputBytes, ev.SessionID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	if _, err := r.MarkExited(ctx, ev.SessionID, ev.Code, total); err != nil {
		r.logger.Warn("history exit not recorded", zap.String("session_id", ev.SessionID), zap.Error(err))
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (*HistoryEntry, error) {
	var (
		entry        HistoryEntry
		startedAtRaw string
		exitedAtRaw  sql.NullString
		exitCode     sql.NullInt32
	)
	if err := row.Scan(&entry.ID, &entry.SessionID, &entry.Command, &entry.Cwd, &entry.Pid, &startedAtRaw, &exitedAtRaw, &exitCode, &entry.OutputBytes); err != nil {
		return nil, err
	}

	startedAt, err := parseTimestamp(startedAtRaw)
	if err != nil {
		return nil, err
	}
	entry.StartedAt = startedAt

	if exitedAtRaw.Valid {
		exitedAt, err := parseTimestamp(exitedAtRaw.String)
		if err != nil {
			return nil, err
		}
		entry.ExitedAt = &exitedAt
	}
	if exitCode.Valid {
		code := exitCode.Int32
		entry.ExitCode = &code
	}
	return &entry, nil
}
