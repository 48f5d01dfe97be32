package handler

import (
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/risk"
)

// RiskHandler exposes the calibrator.
type RiskHandler struct {
	cal *risk.Calibrator
}

func NewRiskHandler(cal *risk.Calibrator) *RiskHandler {
	return &RiskHandler{cal: cal}
}

// GetRisk returns the window stats, recommendation, active thresholds and
// the most recent samples.
// GET /api/risk
func (h *RiskHandler) GetRisk(w http.ResponseWriter, _ *http.Request) {
	samples := h.cal.Samples()
	if len(samples) > 20 {
		samples = samples[len(samples)-20:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":          h.cal.Stats(),
		"recommendation": h.cal.Recommendation(),
		"thresholds":     h.cal.Thresholds(),
		"recent_samples": samples,
	})
}
