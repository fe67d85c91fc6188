package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/user/ptyhost/internal/db"
	"github.com/user/ptyhost/internal/pty"
)

type spawnRequest struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
}

type inputRequest struct {
	Data string `json:"data"`
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (h *handler) spawnSession(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		h.fail(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if req.Cwd == "" {
		req.Cwd = h.defaultDir
	}

	if err := h.terms.Spawn(r.Context(), req.SessionID, req.Cwd); err != nil {
		h.commandError(w, "spawn", req.SessionID, err)
		return
	}
	h.respond(w, http.StatusCreated, spawnRequest{SessionID: req.SessionID, Cwd: req.Cwd})
}

func (h *handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, h.terms.List())
}

func (h *handler) writeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req inputRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.terms.Write(id, req.Data); err != nil {
		h.commandError(w, "write", id, err)
		return
	}
	h.respond(w, http.StatusNoContent, nil)
}

func (h *handler) resizeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req resizeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Cols <= 0 || req.Rows <= 0 || req.Cols > 0xffff || req.Rows > 0xffff {
		h.fail(w, http.StatusBadRequest, "cols and rows must be between 1 and 65535")
		return
	}
	if err := h.terms.Resize(id, uint16(req.Cols), uint16(req.Rows)); err != nil {
		h.commandError(w, "resize", id, err)
		return
	}
	h.respond(w, http.StatusNoContent, nil)
}

func (h *handler) killSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.terms.Kill(id); err != nil {
		h.commandError(w, "kill", id, err)
		return
	}
	h.respond(w, http.StatusNoContent, nil)
}

func (h *handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.fail(w, http.StatusNotFound, "history is disabled")
		return
	}

	filter := db.HistoryFilter{SessionID: r.URL.Query().Get("session_id"), Limit: 100}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.fail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	entries, err := h.history.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list history failed", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	h.respond(w, http.StatusOK, entries)
}

func (h *handler) getHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.fail(w, http.StatusNotFound, "history is disabled")
		return
	}
	entry, err := h.history.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.Error("get history failed", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to get history")
		return
	}
	if entry == nil {
		h.fail(w, http.StatusNotFound, "history entry not found")
		return
	}
	h.respond(w, http.StatusOK, entry)
}

// commandError maps command surface errors to HTTP statuses.
func (h *handler) commandError(w http.ResponseWriter, op, id string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pty.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pty.ErrExists):
		status = http.StatusConflict
	case errors.Is(err, pty.ErrClosed):
		status = http.StatusServiceUnavailable
	default:
		h.logger.Warn("session command failed", zap.String("op", op), zap.String("session_id", id), zap.Error(err))
	}
	h.fail(w, status, err.Error())
}
