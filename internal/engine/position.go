package engine

import (
	"time"

	"github.com/quantfleet/unified-trading-bot/internal/stops"
	"github.com/shopspring/decimal"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
)

// State is the lifecycle stage of a position.
type State string

const (
	StatePendingConfirm  State = "PENDING_CONFIRM"
	StateOpen            State = "OPEN"
	StatePartialExited   State = "PARTIAL_EXITED"
	StateClosed          State = "CLOSED"
	StateCancelled       State = "CANCELLED"
	StateEmergencyClosed State = "EMERGENCY_CLOSED"
)

// Position is an engine-owned open trade. Access is confined to the
// engine's loops; the orchestrator sees read-only snapshots.
type Position struct {
	Symbol     string
	Side       types.Side
	State      State
	EntryPrice float64
	Quantity   decimal.Decimal
	Leverage   int
	SizeUsd    float64
	Confidence float64
	Regime     types.Regime
	ATR        float64
	EntryTime  time.Time

	Trailing *stops.Trailing
	Partials *stops.PartialPlan

	stopOrderID   string
	peakProfitPct float64
	realizedPnl   decimal.Decimal

	// entry-time basis for the partial take-profit ladder
	entryQty     decimal.Decimal
	entrySizeUsd float64

	// pending-confirmation window
	confirmDeadline time.Time
	signalPrice     float64
}

// Snapshot is the read-only view of a position served by the status
// API and the orchestrator.
type Snapshot struct {
	Symbol        string          `json:"symbol"`
	Engine        string          `json:"engine"`
	Side          types.Side      `json:"side"`
	State         State           `json:"state"`
	EntryPrice    float64         `json:"entryPrice"`
	MarkPrice     float64         `json:"markPrice"`
	Quantity      decimal.Decimal `json:"quantity"`
	Leverage      int             `json:"leverage"`
	StopPrice     float64         `json:"stopPrice"`
	ProfitPct     float64         `json:"profitPct"`
	PeakProfitPct float64         `json:"peakProfitPct"`
	EntryTime     time.Time       `json:"entryTime"`
}

func (p *Position) snapshot(engine string, mark float64) Snapshot {
	s := Snapshot{
		Symbol:        p.Symbol,
		Engine:        engine,
		Side:          p.Side,
		State:         p.State,
		EntryPrice:    p.EntryPrice,
		MarkPrice:     mark,
		Quantity:      p.Quantity,
		Leverage:      p.Leverage,
		ProfitPct:     stops.ProfitPct(p.Side, p.EntryPrice, mark),
		PeakProfitPct: p.peakProfitPct,
		EntryTime:     p.EntryTime,
	}
	if p.Trailing != nil {
		s.StopPrice = p.Trailing.Stop()
	}
	return s
}

// unrealizedUsd marks the position to the given price.
func (p *Position) unrealizedUsd(mark float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	qty, _ := p.Quantity.Float64()
	diff := mark - p.EntryPrice
	if p.Side == types.SideShort {
		diff = -diff
	}
	return diff * qty
}
