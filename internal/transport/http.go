// Package transport exposes the hub over HTTP: a JSON ingestion endpoint,
// an SSE event stream, a WebSocket stream, and operational endpoints.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	server "eyefield/server"
	"eyefield/server/internal/observability"
)

const maxEventBytes = 1 << 20

// Handler bundles the HTTP surface around one hub.
type Handler struct {
	hub     *server.Hub
	metrics *observability.HubMetrics
	logger  *zap.Logger
	mux     *http.ServeMux
}

// NewHandler wires all routes. metrics may be nil, in which case the
// /metrics route is omitted.
func NewHandler(hub *server.Hub, metrics *observability.HubMetrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{hub: hub, metrics: metrics, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /api/events", h.handleIngest)
	h.mux.HandleFunc("GET /api/events", h.handleSSE)
	h.mux.HandleFunc("GET /ws", h.handleWebSocket)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /diagnostics", h.handleDiagnostics)
	if metrics != nil {
		h.mux.Handle("GET /metrics", metrics.Handler())
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable request body"})
		return
	}

	if err := h.hub.Ingest(body); err != nil {
		var verr *server.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "Invalid event data",
				"details": verr.Fields,
			})
		case errors.Is(err, server.ErrInvalidJSON):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON payload"})
		default:
			h.logger.Error("ingest failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.DiagnosticsSnapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
