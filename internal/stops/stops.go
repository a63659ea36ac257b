// Package stops computes ATR-based initial stops, runs the trailing
// state machine and plans partial take-profits.
package stops

import (
	"errors"
	"fmt"

	"github.com/quantfleet/unified-trading-bot/pkg/types"
)

// ErrNoStopForRegime is returned when the regime has no usable ATR
// multiplier. Choppy markets are rejected upstream; reaching the stop
// calculator with one is a bug in the caller.
var ErrNoStopForRegime = errors.New("no stop multiplier for regime")

const (
	minStopPct = 1.0
	maxStopPct = 5.0

	// maxRiskPct bounds the loss at the stop as a share of position
	// value; wider stops shrink size instead of tightening.
	maxRiskPct = 2.0
)

// atrMultiplier returns the regime-adaptive stop distance multiplier.
func atrMultiplier(regime types.Regime) (float64, bool) {
	switch regime {
	case types.RegimeTrending:
		return 2.5, true
	case types.RegimeHighVol:
		return 3.0, true
	case types.RegimeLowVol, types.RegimeSideways:
		return 2.0, true
	default:
		return 0, false
	}
}

// InitialStop is the computed protective stop for a new position.
type InitialStop struct {
	Price       float64 // stop price
	DistancePct float64 // stop distance as percent of entry
	SizeFactor  float64 // ≤1; shrink applied to keep risk within bounds
}

// ComputeInitialStop places the stop atrMult ATRs from entry, bounds
// the distance to [1%, 5%] of entry, and returns the size shrink
// needed to keep the at-stop loss within maxRiskPct of position value.
func ComputeInitialStop(side types.Side, entry, atr float64, regime types.Regime) (InitialStop, error) {
	mult, ok := atrMultiplier(regime)
	if !ok {
		return InitialStop{}, fmt.Errorf("%w: %s", ErrNoStopForRegime, regime)
	}
	if entry <= 0 || atr <= 0 {
		return InitialStop{}, fmt.Errorf("invalid stop inputs: entry=%v atr=%v", entry, atr)
	}

	distPct := mult * atr / entry * 100
	if distPct < minStopPct {
		distPct = minStopPct
	}
	if distPct > maxStopPct {
		distPct = maxStopPct
	}

	sizeFactor := 1.0
	if distPct > maxRiskPct {
		sizeFactor = maxRiskPct / distPct
	}

	dist := entry * distPct / 100
	price := entry - dist
	if side == types.SideShort {
		price = entry + dist
	}
	return InitialStop{Price: price, DistancePct: distPct, SizeFactor: sizeFactor}, nil
}

// EmergencyThresholds are the last-resort loss limits.
type EmergencyThresholds struct {
	PositionLossPct  float64 // close one position beyond this unrealized loss
	PortfolioLossPct float64 // close everything beyond this portfolio loss
}

// DefaultEmergencyThresholds returns the production limits.
func DefaultEmergencyThresholds() EmergencyThresholds {
	return EmergencyThresholds{PositionLossPct: 4.0, PortfolioLossPct: 5.0}
}

// PositionBreached reports whether a single position's unrealized loss
// demands an immediate close. lossPct is positive for a loss.
func (e EmergencyThresholds) PositionBreached(lossPct float64) bool {
	return lossPct > e.PositionLossPct
}

// PortfolioBreached reports whether the portfolio-wide unrealized loss
// demands closing every position.
func (e EmergencyThresholds) PortfolioBreached(lossPct float64) bool {
	return lossPct > e.PortfolioLossPct
}

// ProfitPct returns the signed unrealized profit percent for a
// position at the given mark.
func ProfitPct(side types.Side, entry, mark float64) float64 {
	if entry <= 0 {
		return 0
	}
	pct := (mark - entry) / entry * 100
	if side == types.SideShort {
		pct = -pct
	}
	return pct
}
