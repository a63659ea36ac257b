package gate

import (
	"fmt"

	"github.com/quantfleet/unified-trading-bot/internal/analyzer"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
)

const (
	attenuationBandLow  = 50.0
	attenuationBandHigh = 70.0
	bandAttenuation     = 0.5

	adverseMovePct = 0.3
	momentumWindow = 5

	rsiOverbought = 70.0
	rsiOversold   = 30.0

	microBonus = 10.0

	volumeFloor       = 0.8
	volumeWeak        = 1.5
	volumeAttenuation = 0.6
	volumeSurge       = 2.5
	volumeBonus       = 10.0

	breakoutSurge = 2.0
	breakoutBonus = 15.0
)

// regimeFilter vetoes ranging markets outright. There is no
// high-confidence bypass.
func regimeFilter(p *analyzer.Proposal, _ *Env) Decision {
	switch p.Context.Regime {
	case types.RegimeChoppy, types.RegimeSideways:
		return reject(fmt.Sprintf("regime %s", p.Context.Regime))
	}
	return pass()
}

// confidenceFilter applies the regime-aware floor, then attenuates
// marginal signals to half size.
func confidenceFilter(p *analyzer.Proposal, env *Env) Decision {
	floor := env.MinConfidenceTrending
	if floor <= 0 {
		floor = 60
	}
	if p.Context.Regime != types.RegimeTrending {
		floor = env.MinConfidenceRanging
		if floor <= 0 {
			floor = 65
		}
	}
	if p.Confidence < floor {
		return reject(fmt.Sprintf("confidence %.0f below floor %.0f", p.Confidence, floor))
	}
	if p.Confidence >= attenuationBandLow && p.Confidence < attenuationBandHigh {
		return attenuate(bandAttenuation, "marginal confidence")
	}
	return pass()
}

// directionAligner forces the trade side onto the analyzer's dominant
// direction. The analyzer already sets side from alignment, so a
// mismatch only happens when a caller overrode it.
func directionAligner(p *analyzer.Proposal, _ *Env) Decision {
	dominant := p.Context.Alignment.Direction
	if dominant == types.TrendSideways {
		return reject("no dominant direction")
	}
	if !dominant.Matches(p.Side) {
		p.Side = p.Side.Opposite()
		return Decision{Kind: Pass, Factor: 1, Reason: "side realigned to dominant trend"}
	}
	return pass()
}

// momentumValidator rejects entries against the immediate move: a LONG
// into a falling tape, a SHORT into a rising one, or chasing an
// exhausted RSI.
func momentumValidator(p *analyzer.Proposal, _ *Env) Decision {
	candles := p.Context.BaseCandles
	if len(candles) > momentumWindow {
		window := candles[len(candles)-momentumWindow:]
		first, last := window[0].Close, window[len(window)-1].Close
		if first > 0 {
			changePct := (last - first) / first * 100
			if p.Side == types.SideLong && changePct < -adverseMovePct {
				return reject(fmt.Sprintf("close fell %.2f%% over last %d candles", -changePct, momentumWindow))
			}
			if p.Side == types.SideShort && changePct > adverseMovePct {
				return reject(fmt.Sprintf("close rose %.2f%% over last %d candles", changePct, momentumWindow))
			}
		}
	}

	if p.Side == types.SideLong && p.Context.RSI15m > rsiOverbought {
		return reject(fmt.Sprintf("RSI %.1f overbought", p.Context.RSI15m))
	}
	if p.Side == types.SideShort && p.Context.RSI15m < rsiOversold && p.Context.RSI15m > 0 {
		return reject(fmt.Sprintf("RSI %.1f oversold", p.Context.RSI15m))
	}
	return pass()
}

// microAligner consults the optional 1m and 5m views: agreement earns
// a bonus, joint contradiction vetoes.
func microAligner(p *analyzer.Proposal, _ *Env) Decision {
	v1m, ok1 := p.Context.Views[types.Timeframe1m]
	v5m, ok5 := p.Context.Views[types.Timeframe5m]
	if !ok1 || !ok5 {
		return pass()
	}
	if v1m.Direction.Matches(p.Side) && v5m.Direction.Matches(p.Side) {
		return passBonus(microBonus, "micro timeframes confirm")
	}
	if v1m.Direction.Contradicts(p.Side) && v5m.Direction.Contradicts(p.Side) {
		return reject("micro timeframes contradict")
	}
	return pass()
}

// volumeConfirmer requires participation behind the move.
func volumeConfirmer(p *analyzer.Proposal, _ *Env) Decision {
	ratio := p.Context.VolumeRatio
	switch {
	case ratio < volumeFloor:
		return reject(fmt.Sprintf("volume ratio %.2f below floor", ratio))
	case ratio < volumeWeak:
		return attenuate(volumeAttenuation, fmt.Sprintf("volume ratio %.2f unconvincing", ratio))
	case ratio > volumeSurge:
		return passBonus(volumeBonus, "volume surge")
	}
	return pass()
}

// breakoutDetector rewards a close through the nearest resistance on
// surging volume and switches the position to tight trailing.
func breakoutDetector(p *analyzer.Proposal, _ *Env) Decision {
	if p.Side != types.SideLong {
		return pass()
	}
	resistance := p.Context.Levels.NearestResistance(p.EntryPrice)
	brokeOut := resistance == 0 && len(p.Context.Levels.Resistance) > 0
	if brokeOut && p.Context.VolumeRatio >= breakoutSurge {
		return Decision{
			Kind:            Pass,
			Factor:          1,
			Reason:          "breakout above resistance",
			ConfidenceBonus: breakoutBonus,
			TightTrailing:   true,
		}
	}
	return pass()
}
