// Package sizing turns an accepted proposal into a position size and
// leverage, bounded by confidence tiers, the Kelly guard and the
// engine's remaining allocation.
package sizing

import (
	"errors"
	"fmt"

	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"go.uber.org/zap"
)

// ErrBelowMinimum is returned when confidence does not reach the
// lowest sizing tier.
var ErrBelowMinimum = errors.New("confidence below minimum sizing tier")

const (
	tierTop    = 20.0 // confidence 90-100
	tierHigh   = 18.0 // 80-89
	tierMid    = 15.0 // 70-79
	tierBase   = 12.0 // 60-69
	tierFloor  = 60.0

	kellyMinTrades   = 10
	kellyFraction    = 0.25
	kellyFractionLow = 0.15 // when win rate is under 40%
	kellyWinRateCut  = 0.40

	// Hard leverage ceiling. No configuration may exceed it.
	LeverageCap = 8

	lossStreakHalving = 2
)

// Config bounds the sizer output.
type Config struct {
	MinSizePct      float64
	MaxSizePct      float64
	RewardRiskRatio float64
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		MinSizePct:      8,
		MaxSizePct:      25,
		RewardRiskRatio: 2.0,
	}
}

// Inputs collects everything one sizing decision depends on.
type Inputs struct {
	Confidence   float64
	Regime       types.Regime
	Attenuation  float64 // accumulated gate attenuation, 1.0 when none
	SizeCapPct   float64 // exposure headroom from the gate, 100 when unbounded
	WinRate      float64 // per-symbol, last 20 closed trades
	ClosedTrades int     // per-symbol closed trade count
	LossStreak   int     // consecutive losses on the symbol
	AvailableUsd float64
}

// Result is the computed size and leverage.
type Result struct {
	SizePct  float64
	SizeUsd  float64
	Leverage int
}

// Sizer computes position sizes. Stateless apart from configuration.
type Sizer struct {
	logger *zap.Logger
	config Config
}

// New creates a sizer.
func New(logger *zap.Logger, config Config) *Sizer {
	return &Sizer{logger: logger.Named("sizer"), config: config}
}

// Size runs the tier, attenuation, Kelly and clamp pipeline.
func (s *Sizer) Size(in Inputs) (Result, error) {
	if in.Confidence < tierFloor {
		return Result{}, fmt.Errorf("%w: %.1f", ErrBelowMinimum, in.Confidence)
	}

	pct := tierFor(in.Confidence)

	if in.Attenuation > 0 {
		pct *= in.Attenuation
	}

	if in.ClosedTrades >= kellyMinTrades {
		pct = kellyCap(pct, in.WinRate, s.config.RewardRiskRatio)
	}

	lev := leverageFor(in.Confidence)
	if in.Regime == types.RegimeHighVol || in.Regime == types.RegimeChoppy {
		lev /= 2
	}
	if in.LossStreak >= lossStreakHalving {
		pct /= 2
		lev /= 2
	}
	if lev < 1 {
		lev = 1
	}
	if lev > LeverageCap {
		lev = LeverageCap
	}

	pct = clamp(pct, s.config.MinSizePct, s.config.MaxSizePct)
	if in.SizeCapPct > 0 && pct > in.SizeCapPct {
		if in.SizeCapPct < s.config.MinSizePct {
			return Result{}, fmt.Errorf("exposure headroom %.1f%% below minimum size %.1f%%", in.SizeCapPct, s.config.MinSizePct)
		}
		pct = in.SizeCapPct
	}

	usd := in.AvailableUsd * pct / 100
	s.logger.Debug("sized",
		zap.Float64("confidence", in.Confidence),
		zap.Float64("sizePct", pct),
		zap.Int("leverage", lev),
	)
	return Result{SizePct: pct, SizeUsd: usd, Leverage: lev}, nil
}

func tierFor(confidence float64) float64 {
	switch {
	case confidence >= 90:
		return tierTop
	case confidence >= 80:
		return tierHigh
	case confidence >= 70:
		return tierMid
	default:
		return tierBase
	}
}

func leverageFor(confidence float64) int {
	switch {
	case confidence >= 90:
		return 8
	case confidence >= 80:
		return 6
	case confidence >= 70:
		return 5
	default:
		return 3
	}
}

// kellyCap bounds the size by a fraction of the Kelly criterion once
// the symbol has trade history.
func kellyCap(pct, winRate, rewardRisk float64) float64 {
	if rewardRisk <= 0 {
		return pct
	}
	kelly := winRate - (1-winRate)/rewardRisk
	if kelly < 0 {
		kelly = 0
	}
	fraction := kellyFraction
	if winRate < kellyWinRateCut {
		fraction = kellyFractionLow
	}
	cap := fraction * kelly * 100
	if pct > cap {
		return cap
	}
	return pct
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
