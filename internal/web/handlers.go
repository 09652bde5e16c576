package web

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/cropbase/brapi-mcp/internal/cache"
	"github.com/cropbase/brapi-mcp/internal/session"
)

// Handlers contains HTTP route handlers for the download server.
type Handlers struct {
	sessions *session.Manager
	version  string
	log      *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sessions *session.Manager, version string, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handlers{sessions: sessions, version: version, log: log}
}

// HandleIndex handles GET / and describes the available routes.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "brapi-mcp download server",
		"version": h.version,
		"routes": []string{
			"GET /sessions",
			"GET /sessions/{sessionID}",
			"GET /download/{sessionID}/{resultID}",
		},
	})
}

// HandleSessions handles GET /sessions.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// HandleSessionResults handles GET /sessions/{sessionID}.
func (h *Handlers) HandleSessionResults(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	c, ok := h.sessions.Cache(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("session not found: %s", sessionID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"results":    c.List(),
	})
}

// HandleDownload handles GET /download/{sessionID}/{resultID} and streams
// the cached data file as an attachment.
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	resultID := r.PathValue("resultID")

	c, ok := h.sessions.Cache(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("session not found: %s", sessionID))
		return
	}

	info, ok := c.Info(resultID)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("result not found: %s", resultID))
		return
	}

	if _, err := os.Stat(info.FilePath); err != nil {
		h.log.Error("cached data file missing", "result_id", resultID, "path", info.FilePath)
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("data file missing for result: %s", resultID))
		return
	}

	filename := fmt.Sprintf("%s.%s", info.ResultID, info.Format)
	w.Header().Set("Content-Type", contentType(info.Format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	h.log.Info("serving download", "session_id", sessionID, "result_id", resultID, "bytes", info.SizeBytes)
	http.ServeFile(w, r, info.FilePath)
}

func contentType(f cache.Format) string {
	switch f {
	case cache.FormatCSV:
		return "text/csv; charset=utf-8"
	case cache.FormatJSONL:
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}
