package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Pauser is the orchestrator's pause control.
type Pauser interface {
	SetPaused(ctx context.Context, paused bool) error
}

// AdminHandler serves operator actions.
type AdminHandler struct {
	pauser Pauser
	logger *slog.Logger
}

func NewAdminHandler(p Pauser, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{pauser: p, logger: logger.With(slog.String("handler", "admin"))}
}

type pauseRequest struct {
	Paused *bool `json:"paused"`
}

// Pause sets the pause flag from {"paused": bool}.
// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil || req.Paused == nil {
		writeError(w, http.StatusBadRequest, `body must be {"paused": true|false}`)
		return
	}
	if err := h.pauser.SetPaused(r.Context(), *req.Paused); err != nil {
		h.logger.ErrorContext(r.Context(), "pause failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "pause failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": *req.Paused})
}
