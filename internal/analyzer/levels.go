package analyzer

import (
	"sort"

	"github.com/quantfleet/unified-trading-bot/pkg/types"
)

// pivotSpan is the number of bars on each side a swing extreme must
// dominate to count as a pivot.
const pivotSpan = 3

// Levels holds the detected support and resistance prices, sorted
// ascending.
type Levels struct {
	Support    []float64
	Resistance []float64
}

// NearestResistance returns the lowest resistance above price, or 0.
func (l Levels) NearestResistance(price float64) float64 {
	for _, r := range l.Resistance {
		if r > price {
			return r
		}
	}
	return 0
}

// NearestSupport returns the highest support below price, or 0.
func (l Levels) NearestSupport(price float64) float64 {
	for i := len(l.Support) - 1; i >= 0; i-- {
		if l.Support[i] < price {
			return l.Support[i]
		}
	}
	return 0
}

// DetectLevels finds swing-high and swing-low pivots over the series.
// A swing high is a bar whose high exceeds the highs of pivotSpan bars
// on each side; swing lows mirror with lows.
func DetectLevels(candles []types.Candle) Levels {
	var lv Levels
	for i := pivotSpan; i < len(candles)-pivotSpan; i++ {
		if isSwingHigh(candles, i) {
			lv.Resistance = append(lv.Resistance, candles[i].High)
		}
		if isSwingLow(candles, i) {
			lv.Support = append(lv.Support, candles[i].Low)
		}
	}
	sort.Float64s(lv.Support)
	sort.Float64s(lv.Resistance)
	return lv
}

func isSwingHigh(candles []types.Candle, i int) bool {
	h := candles[i].High
	for j := i - pivotSpan; j <= i+pivotSpan; j++ {
		if j != i && candles[j].High >= h {
			return false
		}
	}
	return true
}

func isSwingLow(candles []types.Candle, i int) bool {
	l := candles[i].Low
	for j := i - pivotSpan; j <= i+pivotSpan; j++ {
		if j != i && candles[j].Low <= l {
			return false
		}
	}
	return true
}
