package handler

import (
	"net/http"

	"bulktok/internal/logbuf"
)

// LogsHandler exposes the in-memory diagnostic log buffer.
type LogsHandler struct {
	buf *logbuf.Buffer
}

// NewLogsHandler creates a new LogsHandler.
func NewLogsHandler(buf *logbuf.Buffer) *LogsHandler {
	return &LogsHandler{buf: buf}
}

// RegisterRoutes mounts the log inspection endpoints.
func (h *LogsHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/logs", authMw(http.HandlerFunc(h.handleLogs)))
}

func (h *LogsHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string][]logbuf.Entry{"logs": h.buf.Snapshot()})
	case http.MethodDelete:
		h.buf.Drain()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}
