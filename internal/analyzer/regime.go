package analyzer

import (
	talib "github.com/markcheno/go-talib"
	"github.com/quantfleet/unified-trading-bot/internal/indicators"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
)

const (
	regimeLookback = 20

	highVolATRFactor = 1.5
	lowVolATRFactor  = 0.5
	sidewaysBandPct  = 2.0
	choppyCrossLimit = 4
	choppyADXFloor   = 15.0
)

// ClassifyRegime evaluates the qualitative market state on the base
// timeframe series. When several conditions hold at once, the
// precedence is CHOPPY, then SIDEWAYS, then HIGH_VOL, then LOW_VOL.
func ClassifyRegime(s indicators.Series, snap indicators.Snapshot) types.Regime {
	if s.Len() < indicators.MinCandles {
		return types.RegimeChoppy
	}

	atrSeries := talib.Atr(s.High, s.Low, s.Close, indicators.ATRPeriod)
	ema9 := talib.Ema(s.Close, indicators.EMAFast)
	atrAvg := tailMean(atrSeries, regimeLookback)

	choppy := emaCrosses(s.Close, ema9, regimeLookback) > choppyCrossLimit || snap.ADX < choppyADXFloor
	sideways := withinBand(s.Close, regimeLookback, sidewaysBandPct)
	highVol := atrAvg > 0 && snap.ATR > highVolATRFactor*atrAvg
	lowVol := atrAvg > 0 && snap.ATR < lowVolATRFactor*atrAvg

	switch {
	case choppy:
		return types.RegimeChoppy
	case sideways:
		return types.RegimeSideways
	case highVol:
		return types.RegimeHighVol
	case lowVol:
		return types.RegimeLowVol
	default:
		return types.RegimeTrending
	}
}

// tailMean averages the last n values, skipping warmup zeros.
func tailMean(vals []float64, n int) float64 {
	if len(vals) < n {
		n = len(vals)
	}
	sum, count := 0.0, 0
	for _, v := range vals[len(vals)-n:] {
		if v > 0 {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// emaCrosses counts how many times the close crossed the fast EMA over
// the last n bars.
func emaCrosses(closes, ema []float64, n int) int {
	if len(closes) < n+1 || len(ema) < n+1 {
		return 0
	}
	crosses := 0
	start := len(closes) - n
	for i := start; i < len(closes); i++ {
		prevAbove := closes[i-1] > ema[i-1]
		nowAbove := closes[i] > ema[i]
		if prevAbove != nowAbove {
			crosses++
		}
	}
	return crosses
}

// withinBand reports whether the last n closes stayed inside a
// bandPct-wide range of their midpoint.
func withinBand(closes []float64, n int, bandPct float64) bool {
	if len(closes) < n {
		return false
	}
	window := closes[len(closes)-n:]
	lo, hi := window[0], window[0]
	for _, c := range window {
		if c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
	}
	mid := (hi + lo) / 2
	if mid <= 0 {
		return false
	}
	return (hi-lo)/mid*100 <= bandPct
}
