package pty

import (
	"bufio"
	"errors"
	"os"
	"os/exec"
	"time"
)

// handle owns the live resources of one session. It has no locking of its
// own; every access goes through the registry.
type handle struct {
	id        string
	command   string
	cwd       string
	startedAt time.Time

	cmd   *exec.Cmd
	ptmx  *os.File
	input *bufio.Writer

	cols uint16
	rows uint16
}

func newHandle(id, command, cwd string, cmd *exec.Cmd, ptmx *os.File, cols, rows uint16) *handle {
	return &handle{
		id:        id,
		command:   command,
		cwd:       cwd,
		startedAt: time.Now(),
		cmd:       cmd,
		ptmx:      ptmx,
		input:     bufio.NewWriter(ptmx),
		cols:      cols,
		rows:      rows,
	}
}

// write commits data to the terminal before returning. A non-zero timeout
// bounds how long a child that stopped reading can stall the caller.
func (h *handle) write(data []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := h.ptmx.SetWriteDeadline(time.Now().Add(timeout)); err != nil && !errors.Is(err, os.ErrNoDeadline) {
			return err
		}
		defer h.ptmx.SetWriteDeadline(time.Time{})
	}
	if _, err := h.input.Write(data); err != nil {
		h.input.Reset(h.ptmx)
		return err
	}
	if err := h.input.Flush(); err != nil {
		// Drop whatever is left so the next write starts clean.
		h.input.Reset(h.ptmx)
		return err
	}
	return nil
}

func (h *handle) resize(cols, rows uint16) error {
	if err := setWinsize(h.ptmx, cols, rows); err != nil {
		return err
	}
	h.cols = cols
	h.rows = rows
	return nil
}

func (h *handle) kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// reap waits for the process, releases the terminal and returns the exit code.
func (h *handle) reap() int32 {
	err := h.cmd.Wait()
	_ = h.ptmx.Close()
	return exitCode(h.cmd, err)
}

func (h *handle) info() SessionInfo {
	pid := 0
	if h.cmd.Process != nil {
		pid = h.cmd.Process.Pid
	}
	return SessionInfo{
		ID:        h.id,
		Command:   h.command,
		Cwd:       h.cwd,
		Pid:       pid,
		Cols:      h.cols,
		Rows:      h.rows,
		StartedAt: h.startedAt,
	}
}

// exitCode maps the result of Wait to a status; signals and wait failures
// yield ExitUnknown.
func exitCode(cmd *exec.Cmd, err error) int32 {
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
	default:
		return ExitUnknown
	}
	if cmd.ProcessState == nil {
		return ExitUnknown
	}
	return int32(cmd.ProcessState.ExitCode())
}
