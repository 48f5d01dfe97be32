// Package risk compares estimated with realized profits and turns the error
// history into advisory execution thresholds.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Accuracy classifies a single sample.
type Accuracy string

const (
	Accurate   Accuracy = "accurate"
	Inaccurate Accuracy = "inaccurate"
	Critical   Accuracy = "critical"
)

// Config tunes the calibrator.
type Config struct {
	Tolerance  float64
	Critical   float64
	Volatility float64
	// MinSamples below which the level is unknown.
	MinSamples int
	// LevelWindow is how many recent samples the level is computed over.
	LevelWindow int
	// History bounds the retained sample ring (and the persisted table).
	History        int
	FrontRunFactor float64
	// Defaults are the thresholds used when the level is unknown, and the
	// base every recommendation is applied to.
	Defaults domain.Thresholds
}

// DefaultConfig returns the standard bounds.
func DefaultConfig() Config {
	return Config{
		Tolerance:      0.10,
		Critical:       0.30,
		Volatility:     0.15,
		MinSamples:     5,
		LevelWindow:    20,
		History:        500,
		FrontRunFactor: 1.5,
		Defaults: domain.Thresholds{
			SlippageBps:       50,
			MinProfitMultiple: 1.0,
		},
	}
}

// Stats summarises the level window.
type Stats struct {
	Count int              `json:"count"`
	Mean  float64          `json:"mean"`
	Std   float64          `json:"std"`
	Level domain.RiskLevel `json:"level"`
}

// Calibrator owns the profit sample history. It is the only writer of the
// thresholds the simulator reads.
type Calibrator struct {
	cfg    Config
	store  domain.ProfitSampleStore
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	samples   []domain.ProfitSample
	sinceTrim int
}

// New creates a calibrator. store may be nil for an in-memory history.
func New(cfg Config, store domain.ProfitSampleStore, logger *slog.Logger) *Calibrator {
	if cfg.History <= 0 {
		cfg.History = 500
	}
	if cfg.LevelWindow <= 0 {
		cfg.LevelWindow = cfg.History
	}
	if cfg.FrontRunFactor <= 0 {
		cfg.FrontRunFactor = 1.5
	}
	return &Calibrator{
		cfg:    cfg,
		store:  store,
		logger: logger.With(slog.String("component", "risk")),
		now:    time.Now,
	}
}

// Load restores the most recent history from the store.
func (c *Calibrator) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	samples, err := c.store.LoadRecent(ctx, c.cfg.History)
	if err != nil {
		return fmt.Errorf("risk: load samples: %w", err)
	}
	c.mu.Lock()
	c.samples = samples
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "profit history loaded", slog.Int("samples", len(samples)))
	return nil
}

// ErrorRatio is |est-act|/est. A non-positive estimate yields 0 when the
// outcome matched it exactly and 1 otherwise.
func ErrorRatio(estimated, actual float64) float64 {
	if estimated <= 0 {
		if estimated == actual {
			return 0
		}
		return 1
	}
	return math.Abs(estimated-actual) / estimated
}

// Classify grades one error ratio.
func (c *Calibrator) Classify(ratio float64) Accuracy {
	switch {
	case ratio > c.cfg.Critical:
		return Critical
	case ratio > c.cfg.Tolerance:
		return Inaccurate
	default:
		return Accurate
	}
}

// Observe records one execution outcome and persists it.
func (c *Calibrator) Observe(ctx context.Context, pairID string, estimated, actual *big.Int) domain.ProfitSample {
	est, act := toFloat(estimated), toFloat(actual)
	s := domain.ProfitSample{
		Timestamp:  c.now(),
		PairID:     pairID,
		Estimated:  est,
		Actual:     act,
		ErrorRatio: ErrorRatio(est, act),
	}

	c.mu.Lock()
	c.samples = append(c.samples, s)
	if over := len(c.samples) - c.cfg.History; over > 0 {
		c.samples = append([]domain.ProfitSample(nil), c.samples[over:]...)
	}
	c.sinceTrim++
	trim := c.sinceTrim >= c.cfg.History
	if trim {
		c.sinceTrim = 0
	}
	c.mu.Unlock()

	if acc := c.Classify(s.ErrorRatio); acc == Critical {
		c.logger.WarnContext(ctx, "profit estimate far off",
			slog.String("pair", pairID),
			slog.Float64("estimated", est),
			slog.Float64("actual", act),
			slog.Float64("error_ratio", s.ErrorRatio),
		)
	}

	if c.store != nil {
		if err := c.store.Append(ctx, s); err != nil {
			c.logger.ErrorContext(ctx, "persist profit sample", slog.String("error", err.Error()))
		}
		if trim {
			if err := c.store.Trim(ctx, c.cfg.History); err != nil {
				c.logger.ErrorContext(ctx, "trim profit samples", slog.String("error", err.Error()))
			}
		}
	}
	return s
}

// Samples returns a copy of the retained history, oldest first.
func (c *Calibrator) Samples() []domain.ProfitSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.ProfitSample(nil), c.samples...)
}

// Stats computes mean and standard deviation of the error ratio over the
// level window.
func (c *Calibrator) Stats() Stats {
	c.mu.RLock()
	window := c.samples
	if len(window) > c.cfg.LevelWindow {
		window = window[len(window)-c.cfg.LevelWindow:]
	}
	ratios := make([]float64, len(window))
	for i, s := range window {
		ratios[i] = s.ErrorRatio
	}
	c.mu.RUnlock()

	st := Stats{Count: len(ratios), Level: domain.RiskUnknown}
	if len(ratios) == 0 {
		return st
	}
	st.Mean, st.Std = meanStd(ratios)
	if len(ratios) >= c.cfg.MinSamples {
		st.Level = c.LevelFor(st.Mean, st.Std)
	}
	return st
}

// Level returns the current risk level.
func (c *Calibrator) Level() domain.RiskLevel {
	return c.Stats().Level
}

// LevelFor maps window statistics to a level.
func (c *Calibrator) LevelFor(mean, std float64) domain.RiskLevel {
	switch {
	case mean > c.cfg.Critical:
		return domain.RiskHigh
	case mean > c.cfg.Tolerance:
		return domain.RiskMedium
	case std > c.cfg.Volatility:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Recommend is the fixed level -> parameter table. Unknown falls back to
// defaults and leaves MEV protection at its baseline.
func Recommend(level domain.RiskLevel, defaults domain.Thresholds) domain.Recommendation {
	on := true
	switch level {
	case domain.RiskLow:
		return domain.Recommendation{Level: level, SlippageBps: 50, MinProfitMultiple: 1.0}
	case domain.RiskMedium:
		return domain.Recommendation{Level: level, SlippageBps: 30, MinProfitMultiple: 1.5, MEVProtection: &on}
	case domain.RiskHigh:
		return domain.Recommendation{Level: level, SlippageBps: 10, MinProfitMultiple: 2.0, MEVProtection: &on}
	default:
		return domain.Recommendation{
			Level:             domain.RiskUnknown,
			SlippageBps:       defaults.SlippageBps,
			MinProfitMultiple: defaults.MinProfitMultiple,
		}
	}
}

// Recommendation returns the advice for the current level.
func (c *Calibrator) Recommendation() domain.Recommendation {
	return Recommend(c.Level(), c.cfg.Defaults)
}

// Thresholds implements route.ThresholdSource.
func (c *Calibrator) Thresholds() domain.Thresholds {
	rec := c.Recommendation()
	t := c.cfg.Defaults
	t.SlippageBps = rec.SlippageBps
	t.MinProfitMultiple = rec.MinProfitMultiple
	if rec.MEVProtection != nil {
		t.MEVProtection = *rec.MEVProtection
	}
	return t
}

// SuspectFrontRun reports whether the realized gas price exceeds the
// expected one by more than the front-running factor.
func (c *Calibrator) SuspectFrontRun(expected, realized *big.Int) bool {
	if expected == nil || realized == nil || expected.Sign() <= 0 {
		return false
	}
	return toFloat(realized) > toFloat(expected)*c.cfg.FrontRunFactor
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
