package domain

// RiskLevel is the calibrator's rolling verdict on estimate quality.
type RiskLevel string

const (
	RiskUnknown RiskLevel = "unknown"
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
)

// Rank orders levels so that a higher rank means more risk. Unknown ranks
// below low.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// Recommendation is the advisory policy derived from a risk level.
type Recommendation struct {
	Level             RiskLevel `json:"level"`
	SlippageBps       int64     `json:"slippage_bps"`
	MinProfitMultiple float64   `json:"min_profit_multiple"`
	// MEVProtection is nil when the operator's baseline should apply.
	MEVProtection *bool `json:"mev_protection,omitempty"`
}
