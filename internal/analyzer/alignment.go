package analyzer

import "github.com/quantfleet/unified-trading-bot/pkg/types"

// Timeframe weights for the alignment vote. The higher timeframe
// carries the decision.
const (
	weight4h  = 0.50
	weight1h  = 0.30
	weight15m = 0.20

	alignmentFullAgree = 100.0
	alignmentTwoAgree  = 70.0
	alignmentSplit     = 40.0

	alignmentBonus       = 25.0
	contradictionPenalty = 15.0
)

// Alignment is the weighted-majority result across the 4h/1h/15m views.
type Alignment struct {
	Score     float64 // base score before bonus/penalty
	Bonus     float64 // +25 when all weighted timeframes agree
	Penalty   float64 // -15 when the 1h contradicts the 4h
	Direction types.TrendDirection
}

// Net returns the alignment contribution to confidence.
func (a Alignment) Net() float64 { return a.Bonus - a.Penalty }

// ComputeAlignment runs the weighted vote over the three views.
func ComputeAlignment(v4h, v1h, v15m TimeframeView) Alignment {
	a := Alignment{Direction: dominantDirection(v4h, v1h, v15m)}

	d4, d1, d15 := v4h.Direction, v1h.Direction, v15m.Direction
	switch {
	case d4 == d1 && d1 == d15 && d4 != types.TrendSideways:
		a.Score = alignmentFullAgree
		a.Bonus = alignmentBonus
	case agreeingPairs(d4, d1, d15) >= 1:
		a.Score = alignmentTwoAgree
	default:
		a.Score = alignmentSplit
	}

	if contradicts(d1, d4) {
		a.Penalty = contradictionPenalty
	}
	return a
}

// dominantDirection sums the timeframe weights per direction; the
// heaviest non-sideways direction wins, sideways when nothing leads.
func dominantDirection(v4h, v1h, v15m TimeframeView) types.TrendDirection {
	weights := map[types.TrendDirection]float64{}
	weights[v4h.Direction] += weight4h
	weights[v1h.Direction] += weight1h
	weights[v15m.Direction] += weight15m

	up, down := weights[types.TrendUp], weights[types.TrendDown]
	switch {
	case up > down && up > weights[types.TrendSideways]:
		return types.TrendUp
	case down > up && down > weights[types.TrendSideways]:
		return types.TrendDown
	default:
		return types.TrendSideways
	}
}

func agreeingPairs(dirs ...types.TrendDirection) int {
	pairs := 0
	for i := 0; i < len(dirs); i++ {
		for j := i + 1; j < len(dirs); j++ {
			if dirs[i] == dirs[j] && dirs[i] != types.TrendSideways {
				pairs++
			}
		}
	}
	return pairs
}

func contradicts(a, b types.TrendDirection) bool {
	return (a == types.TrendUp && b == types.TrendDown) ||
		(a == types.TrendDown && b == types.TrendUp)
}
