package analyzer

import (
	"math"

	"github.com/quantfleet/unified-trading-bot/internal/indicators"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
)

// TimeframeView is the derived indicator panel for one symbol at one
// timeframe, with its trend classification.
type TimeframeView struct {
	Timeframe types.Timeframe
	indicators.Snapshot
	Direction types.TrendDirection
	Strength  types.TrendStrength
}

// NewTimeframeView classifies a computed snapshot.
func NewTimeframeView(tf types.Timeframe, snap indicators.Snapshot) TimeframeView {
	return TimeframeView{
		Timeframe: tf,
		Snapshot:  snap,
		Direction: trendDirection(snap),
		Strength:  trendStrength(snap),
	}
}

// trendDirection: UP when the fast EMA leads and price confirms above
// it, DOWN when the fast EMA lags and price confirms below the mid.
func trendDirection(s indicators.Snapshot) types.TrendDirection {
	switch {
	case s.EMA9 > s.EMA21 && s.Close > s.EMA9:
		return types.TrendUp
	case s.EMA9 < s.EMA21 && s.Close < s.EMA21:
		return types.TrendDown
	default:
		return types.TrendSideways
	}
}

// trendStrength buckets the EMA spread relative to price:
// above 1% is STRONG, above 0.3% MODERATE, else WEAK.
func trendStrength(s indicators.Snapshot) types.TrendStrength {
	if s.Close <= 0 {
		return types.StrengthWeak
	}
	spread := math.Abs(s.EMA9-s.EMA21) / s.Close * 100
	switch {
	case spread > 1.0:
		return types.StrengthStrong
	case spread > 0.3:
		return types.StrengthModerate
	default:
		return types.StrengthWeak
	}
}
