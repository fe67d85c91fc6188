package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

type errorBody struct {
	Error string `json:"error"`
}

// writeJSON sends status and, unless the status carries no body, data.
func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil || status == http.StatusNoContent {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

func (h *handler) respond(w http.ResponseWriter, status int, data any) {
	if err := writeJSON(w, status, data); err != nil {
		h.logger.Warn("encode response failed", zap.Int("status", status), zap.Error(err))
	}
}

func (h *handler) fail(w http.ResponseWriter, status int, message string) {
	h.respond(w, status, errorBody{Error: message})
}
