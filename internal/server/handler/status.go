package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/flasharb/internal/orchestrator"
	"github.com/alanyoungcy/flasharb/internal/risk"
	"github.com/alanyoungcy/flasharb/internal/unit"
)

// VenueLister reports the unit's venue registry.
type VenueLister interface {
	Venues() []unit.VenueStatus
}

// StatusHandler serves the controller state.
type StatusHandler struct {
	mode      string
	state     *orchestrator.State
	venues    VenueLister
	cal       *risk.Calibrator
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler. venues may be nil in live mode,
// where the registry lives on chain.
func NewStatusHandler(mode string, state *orchestrator.State, venues VenueLister, cal *risk.Calibrator) *StatusHandler {
	return &StatusHandler{mode: mode, state: state, venues: venues, cal: cal, startedAt: time.Now()}
}

// GetStatus returns the loop snapshot, venues, gas and risk level.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"state":          h.state.Snapshot(),
		"risk_level":     h.cal.Level(),
	}
	if h.venues != nil {
		body["venues"] = h.venues.Venues()
	}
	writeJSON(w, http.StatusOK, body)
}
