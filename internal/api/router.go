package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/user/ptyhost/internal/db"
	"github.com/user/ptyhost/internal/pty"
)

// terminals is the command surface exposed over HTTP.
type terminals interface {
	Spawn(ctx context.Context, id, cwd string) error
	Write(id, data string) error
	Resize(id string, cols, rows uint16) error
	Kill(id string) error
	List() []pty.SessionInfo
}

type historyStore interface {
	List(ctx context.Context, filter db.HistoryFilter) ([]*db.HistoryEntry, error)
	Get(ctx context.Context, id string) (*db.HistoryEntry, error)
}

type Options struct {
	Token      string
	DefaultDir string
	// History is optional; /api/history answers 404 without it.
	History historyStore
	Logger  *zap.Logger
}

type handler struct {
	terms      terminals
	history    historyStore
	defaultDir string
	logger     *zap.Logger
}

func NewRouter(terms terminals, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &handler{
		terms:      terms,
		history:    opts.History,
		defaultDir: opts.DefaultDir,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", handler.spawnSession)
	mux.HandleFunc("GET /api/sessions", handler.listSessions)
	mux.HandleFunc("POST /api/sessions/{id}/input", handler.writeSession)
	mux.HandleFunc("POST /api/sessions/{id}/resize", handler.resizeSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", handler.killSession)
	mux.HandleFunc("GET /api/history", handler.listHistory)
	mux.HandleFunc("GET /api/history/{id}", handler.getHistory)

	return authMiddleware(opts.Token)(corsMiddleware(mux))
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			_ = writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}
