package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ExecutionHandler lists execution records.
type ExecutionHandler struct {
	store  domain.ExecutionStore
	logger *slog.Logger
}

func NewExecutionHandler(store domain.ExecutionStore, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{store: store, logger: logger.With(slog.String("handler", "executions"))}
}

// List returns records newest first.
// GET /api/executions?limit=&offset=&since=&until=
func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list executions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if recs == nil {
		recs = []domain.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": recs,
		"limit":      opts.Limit,
		"offset":     opts.Offset,
	})
}
