package stops

import "github.com/quantfleet/unified-trading-bot/pkg/types"

const (
	trailMultNormal   = 1.5
	trailMultTight    = 1.0
	trailMultBreakout = 0.5

	tightProfitPct = 3.0
)

// TrailingConfig tunes activation and trail width.
type TrailingConfig struct {
	ActivationTrendingPct float64
	ActivationSidewaysPct float64
	ActivationDefaultPct  float64
}

// DefaultTrailingConfig returns the production activation thresholds.
func DefaultTrailingConfig() TrailingConfig {
	return TrailingConfig{
		ActivationTrendingPct: 2.5,
		ActivationSidewaysPct: 1.5,
		ActivationDefaultPct:  2.0,
	}
}

func (c TrailingConfig) activationFor(regime types.Regime) float64 {
	switch regime {
	case types.RegimeTrending:
		return c.ActivationTrendingPct
	case types.RegimeSideways:
		return c.ActivationSidewaysPct
	default:
		return c.ActivationDefaultPct
	}
}

// Trailing is the per-position trailing stop state machine. The stop
// only ever tightens: non-decreasing for LONG, non-increasing for
// SHORT.
type Trailing struct {
	side       types.Side
	entry      float64
	stop       float64
	activation float64
	breakout   bool

	active    bool
	peakPrice float64
}

// NewTrailing starts the machine in the inactive state with the
// initial protective stop.
func NewTrailing(cfg TrailingConfig, side types.Side, entry, initialStop float64, regime types.Regime, breakout bool) *Trailing {
	return &Trailing{
		side:       side,
		entry:      entry,
		stop:       initialStop,
		activation: cfg.activationFor(regime),
		breakout:   breakout,
	}
}

// Active reports whether the trail has engaged.
func (t *Trailing) Active() bool { return t.active }

// Stop returns the current protective stop price.
func (t *Trailing) Stop() float64 { return t.stop }

// PeakPrice returns the best price seen since activation.
func (t *Trailing) PeakPrice() float64 { return t.peakPrice }

// Update advances the machine with a new mark price and current ATR,
// returning the (possibly unchanged) stop.
func (t *Trailing) Update(mark, atr float64) float64 {
	profit := ProfitPct(t.side, t.entry, mark)

	if !t.active {
		if profit < t.activation {
			return t.stop
		}
		t.active = true
		t.peakPrice = mark
	}

	if t.side == types.SideLong && mark > t.peakPrice {
		t.peakPrice = mark
	}
	if t.side == types.SideShort && mark < t.peakPrice {
		t.peakPrice = mark
	}

	dist := t.trailMult(profit) * atr
	if t.side == types.SideLong {
		if candidate := t.peakPrice - dist; candidate > t.stop {
			t.stop = candidate
		}
	} else {
		if candidate := t.peakPrice + dist; candidate < t.stop {
			t.stop = candidate
		}
	}
	return t.stop
}

// Hit reports whether the mark has crossed the stop.
func (t *Trailing) Hit(mark float64) bool {
	if t.side == types.SideLong {
		return mark <= t.stop
	}
	return mark >= t.stop
}

func (t *Trailing) trailMult(profitPct float64) float64 {
	if t.breakout {
		return trailMultBreakout
	}
	if profitPct >= tightProfitPct {
		return trailMultTight
	}
	return trailMultNormal
}
