package stops

import (
	"time"

	"github.com/quantfleet/unified-trading-bot/pkg/types"
)

const (
	tp1ATRMultiple = 1.5
	tp2ATRMultiple = 2.5
)

// PartialConfig sets the fraction closed at each take-profit level.
// The fractions must sum below 1; the remainder trails out.
type PartialConfig struct {
	TP1Fraction float64
	TP2Fraction float64
}

// DefaultPartialConfig returns the production 40/30/trail split.
func DefaultPartialConfig() PartialConfig {
	return PartialConfig{TP1Fraction: 0.40, TP2Fraction: 0.30}
}

// PartialExit records one executed partial take-profit.
type PartialExit struct {
	Level     int       `json:"level"`
	Price     float64   `json:"price"`
	Fraction  float64   `json:"fraction"`
	RMultiple float64   `json:"rMultiple"`
	Time      time.Time `json:"time"`
}

// PartialPlan owns the take-profit ladder for one position.
type PartialPlan struct {
	side      types.Side
	entry     float64
	initialR  float64 // |entry - initialStop|, the unit of R
	tp1Price  float64
	tp2Price  float64
	config    PartialConfig

	taken [2]bool
	exits []PartialExit
}

// NewPartialPlan lays the ladder: TP1 at 1.5 ATR of profit, TP2 at
// 2.5 ATR.
func NewPartialPlan(cfg PartialConfig, side types.Side, entry, atr, initialStop float64) *PartialPlan {
	initialR := entry - initialStop
	if side == types.SideShort {
		initialR = initialStop - entry
	}
	tp1, tp2 := entry+tp1ATRMultiple*atr, entry+tp2ATRMultiple*atr
	if side == types.SideShort {
		tp1, tp2 = entry-tp1ATRMultiple*atr, entry-tp2ATRMultiple*atr
	}
	return &PartialPlan{
		side:     side,
		entry:    entry,
		initialR: initialR,
		tp1Price: tp1,
		tp2Price: tp2,
		config:   cfg,
	}
}

// Check returns the partial exit due at the given mark, or nil. Each
// level fires at most once; both can fire on one large move, in ladder
// order across successive calls.
func (p *PartialPlan) Check(mark float64, now time.Time) *PartialExit {
	if !p.taken[0] && p.reached(mark, p.tp1Price) {
		p.taken[0] = true
		return p.record(1, mark, p.config.TP1Fraction, now)
	}
	if p.taken[0] && !p.taken[1] && p.reached(mark, p.tp2Price) {
		p.taken[1] = true
		return p.record(2, mark, p.config.TP2Fraction, now)
	}
	return nil
}

// RemainingFraction returns the share of the position not yet taken by
// partials.
func (p *PartialPlan) RemainingFraction() float64 {
	rem := 1.0
	for _, e := range p.exits {
		rem -= e.Fraction
	}
	if rem < 0 {
		rem = 0
	}
	return rem
}

// Exits returns the executed partials in order.
func (p *PartialPlan) Exits() []PartialExit { return p.exits }

func (p *PartialPlan) reached(mark, target float64) bool {
	if p.side == types.SideLong {
		return mark >= target
	}
	return mark <= target
}

func (p *PartialPlan) record(level int, price, fraction float64, now time.Time) *PartialExit {
	r := 0.0
	if p.initialR > 0 {
		move := price - p.entry
		if p.side == types.SideShort {
			move = p.entry - price
		}
		r = move / p.initialR
	}
	exit := PartialExit{Level: level, Price: price, Fraction: fraction, RMultiple: r, Time: now}
	p.exits = append(p.exits, exit)
	return &exit
}
