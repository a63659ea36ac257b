package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/quantfleet/unified-trading-bot/internal/journal"
	"github.com/quantfleet/unified-trading-bot/internal/stops"
	"github.com/shopspring/decimal"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"go.uber.org/zap"
)

// monitorTick refreshes every tracked position: confirmation windows,
// trailing stops, partial take-profits, emergency exits and the
// periodic exchange reconciliation.
func (e *Engine) monitorTick(ctx context.Context) {
	tick := atomic.AddUint64(&e.tick, 1)

	e.opMu.Lock()
	e.mu.Lock()
	positions := make([]*Position, 0, len(e.positions))
	for _, p := range e.positions {
		positions = append(positions, p)
	}
	e.mu.Unlock()

	totalUnrealized := 0.0
	totalSizeUsd := 0.0
	for _, pos := range positions {
		mark, err := e.deps.Hub.Price(ctx, pos.Symbol)
		if err != nil {
			e.logger.Warn("mark price unavailable",
				zap.String("symbol", pos.Symbol), zap.Error(err))
			continue
		}

		switch pos.State {
		case StatePendingConfirm:
			e.checkConfirmation(ctx, pos, mark)
		case StateOpen, StatePartialExited:
			e.managePosition(ctx, pos, mark)
			if e.hasPosition(pos.Symbol) {
				totalUnrealized += pos.unrealizedUsd(mark)
				totalSizeUsd += pos.SizeUsd
			}
		}
		e.publish(pos, mark)
	}

	if tick%reconcileEvery == 0 {
		e.reconcile(ctx)
	}
	// Released before the global-close callback: the orchestrator
	// re-enters this engine's CloseAll, which takes opMu itself.
	e.opMu.Unlock()

	if e.deps.Risk != nil {
		e.deps.Risk.UpdatePnl(e.name, 0, totalUnrealized)
	}

	// Portfolio-level emergency: unrealized loss across this engine's
	// book beyond the threshold flattens everything everywhere.
	if totalSizeUsd > 0 && e.deps.RequestGlobalClose != nil {
		lossPct := -totalUnrealized / totalSizeUsd * 100
		if e.deps.Emergency.PortfolioBreached(lossPct) {
			e.logger.Error("portfolio emergency exit",
				zap.Float64("lossPct", lossPct))
			e.deps.RequestGlobalClose(fmt.Sprintf("%s portfolio loss %.1f%%", e.name, lossPct))
		}
	}
}

// checkConfirmation cancels a pending entry when price moves against
// the signal, and executes it once the window elapses.
func (e *Engine) checkConfirmation(ctx context.Context, pos *Position, mark float64) {
	adversePct := e.cfg.ConfirmationAdversePct
	if adversePct <= 0 {
		adversePct = 0.3
	}
	move := (mark - pos.signalPrice) / pos.signalPrice * 100
	if pos.Side == types.SideShort {
		move = -move
	}
	if move <= -adversePct {
		pos.State = StateCancelled
		e.untrack(pos.Symbol)
		e.logger.Info("pending entry cancelled",
			zap.String("symbol", pos.Symbol),
			zap.Float64("adverseMovePct", -move),
		)
		return
	}
	if !e.deps.Now().Before(pos.confirmDeadline) {
		if err := e.open(ctx, pos); err != nil {
			e.logger.Warn("confirmed entry failed",
				zap.String("symbol", pos.Symbol), zap.Error(err))
		}
	}
}

// managePosition advances trailing, takes partials and enforces the
// emergency loss limit for one open position.
func (e *Engine) managePosition(ctx context.Context, pos *Position, mark float64) {
	profitPct := stops.ProfitPct(pos.Side, pos.EntryPrice, mark)
	if profitPct > pos.peakProfitPct {
		pos.peakProfitPct = profitPct
	}

	// Emergency single-position exit outranks everything.
	if e.deps.Emergency.PositionBreached(-profitPct) {
		e.logger.Warn("emergency position exit",
			zap.String("symbol", pos.Symbol),
			zap.Float64("lossPct", -profitPct),
		)
		e.closePosition(ctx, pos, mark, 1.0, journal.ReasonEmergency, StateEmergencyClosed)
		return
	}

	// Partial take-profits before the trail update so the remainder
	// trails from the reduced quantity.
	if pos.Partials != nil {
		if exit := pos.Partials.Check(mark, e.deps.Now()); exit != nil {
			e.takePartial(ctx, pos, mark, exit.Fraction, exit.Level)
			if !e.hasPosition(pos.Symbol) {
				return
			}
		}
	}

	prevStop := pos.Trailing.Stop()
	newStop := pos.Trailing.Update(mark, pos.ATR)
	if newStop != prevStop {
		e.replaceStopOrder(ctx, pos)
	}

	if pos.Trailing.Hit(mark) {
		reason := journal.ReasonStopLoss
		if pos.Trailing.Active() {
			reason = journal.ReasonTrailingStop
		}
		e.closePosition(ctx, pos, mark, 1.0, reason, StateClosed)
		return
	}

	// Spot positions exit at their fixed take-profit.
	if e.mode == ModeSpot && e.cfg.FixedTakeProfitPct > 0 && profitPct >= e.cfg.FixedTakeProfitPct {
		e.closePosition(ctx, pos, mark, 1.0, journal.ReasonTakeProfit, StateClosed)
	}
}

// takePartial closes a fraction of the position at market. Fractions
// apply to the original entry quantity, so the 40/30 ladder leaves 30%
// trailing.
func (e *Engine) takePartial(ctx context.Context, pos *Position, mark float64, fraction float64, level int) {
	qty := pos.entryQty.Mul(decimal.NewFromFloat(fraction)).Round(6)
	if qty.GreaterThan(pos.Quantity) {
		qty = pos.Quantity
	}
	if qty.Sign() <= 0 {
		return
	}
	fill, err := e.deps.Adapter.PlaceMarketOrder(ctx, pos.Symbol, pos.Side.Opposite(), qty)
	if err != nil {
		e.logger.Warn("partial take-profit failed",
			zap.String("symbol", pos.Symbol), zap.Error(err))
		return
	}

	price := mark
	if p, _ := fill.AvgFillPrice.Float64(); p > 0 {
		price = p
	}
	realized := realizedPnl(pos.Side, pos.EntryPrice, price, qty)
	pos.realizedPnl = pos.realizedPnl.Add(realized)
	pos.Quantity = pos.Quantity.Sub(qty)
	pos.State = StatePartialExited

	released := pos.entrySizeUsd * fraction
	if released > pos.SizeUsd {
		released = pos.SizeUsd
	}
	pos.SizeUsd -= released
	if e.deps.Allocator != nil {
		e.deps.Allocator.RecordExposureChange(e.name, -released)
	}
	if e.deps.Risk != nil {
		pnl, _ := realized.Float64()
		e.deps.Risk.UpdatePnl(e.name, pnl, 0)
	}
	if e.deps.Journal != nil {
		record := journal.TradeRecord{
			Symbol:      pos.Symbol,
			Engine:      e.name,
			Side:        pos.Side,
			EntryTime:   pos.EntryTime,
			ExitTime:    e.deps.Now(),
			EntryPrice:  pos.EntryPrice,
			ExitPrice:   price,
			Quantity:    qty,
			Leverage:    pos.Leverage,
			RealizedPnl: realized,
			ExitReason:  journal.ReasonPartialTP,
		}
		if err := e.deps.Journal.Append(record); err != nil {
			e.logger.Error("journal append failed", zap.Error(err))
		}
	}
	e.replaceStopOrder(ctx, pos)
	e.logger.Info("partial take-profit",
		zap.String("symbol", pos.Symbol),
		zap.Int("level", level),
		zap.String("qty", qty.String()),
		zap.String("realized", realized.String()),
	)
}

// replaceStopOrder moves the exchange-side protective stop to the
// current trailing level and quantity.
func (e *Engine) replaceStopOrder(ctx context.Context, pos *Position) {
	if pos.stopOrderID != "" {
		if err := e.deps.Adapter.CancelOrder(ctx, pos.Symbol, pos.stopOrderID); err != nil {
			e.logger.Warn("stale stop cancel failed",
				zap.String("symbol", pos.Symbol), zap.Error(err))
		}
		pos.stopOrderID = ""
	}
	if pos.Quantity.Sign() <= 0 {
		return
	}
	stop, err := e.deps.Adapter.PlaceStopMarket(ctx, pos.Symbol, pos.Side, pos.Trailing.Stop(), pos.Quantity)
	if err != nil {
		e.logger.Warn("stop replacement failed",
			zap.String("symbol", pos.Symbol), zap.Error(err))
		return
	}
	pos.stopOrderID = stop.OrderID
}

// closePosition exits the remaining quantity and journals the trade.
func (e *Engine) closePosition(ctx context.Context, pos *Position, mark float64, fraction float64, reason string, final State) {
	qty := pos.Quantity.Mul(decimal.NewFromFloat(fraction)).Round(6)
	exitPrice := mark

	if qty.Sign() > 0 {
		fill, err := e.deps.Adapter.PlaceMarketOrder(ctx, pos.Symbol, pos.Side.Opposite(), qty)
		if err != nil {
			e.logger.Error("close order failed",
				zap.String("symbol", pos.Symbol), zap.Error(err))
			return
		}
		if p, _ := fill.AvgFillPrice.Float64(); p > 0 {
			exitPrice = p
		}
	}
	if pos.stopOrderID != "" {
		_ = e.deps.Adapter.CancelOrder(ctx, pos.Symbol, pos.stopOrderID)
		pos.stopOrderID = ""
	}

	realized := realizedPnl(pos.Side, pos.EntryPrice, exitPrice, qty).Add(pos.realizedPnl)
	pos.State = final
	e.finalize(pos, exitPrice, realized, reason)
}

// finalize journals the completed trade and feeds the loss-streak and
// blacklist state.
func (e *Engine) finalize(pos *Position, exitPrice float64, realized decimal.Decimal, reason string) {
	e.untrack(pos.Symbol)

	e.mu.Lock()
	e.lastExit[pos.Symbol] = e.deps.Now()
	e.mu.Unlock()

	if e.deps.Allocator != nil {
		e.deps.Allocator.RecordExposureChange(e.name, -pos.SizeUsd)
	}
	if e.deps.Risk != nil {
		pnl, _ := realized.Float64()
		e.deps.Risk.UpdatePnl(e.name, pnl, 0)
	}

	loss := realized.Sign() < 0
	if e.deps.Streaks != nil {
		if loss {
			e.deps.Streaks.RecordLoss(pos.Symbol)
		} else {
			e.deps.Streaks.RecordWin(pos.Symbol)
		}
	}
	if loss && e.deps.Blacklist != nil && (reason == journal.ReasonStopLoss || reason == journal.ReasonEmergency) {
		e.deps.Blacklist.RecordLoss(pos.Symbol)
	}

	if e.deps.Journal != nil {
		record := journal.TradeRecord{
			Symbol:      pos.Symbol,
			Engine:      e.name,
			Side:        pos.Side,
			EntryTime:   pos.EntryTime,
			ExitTime:    e.deps.Now(),
			EntryPrice:  pos.EntryPrice,
			ExitPrice:   exitPrice,
			Quantity:    pos.Quantity,
			Leverage:    pos.Leverage,
			RealizedPnl: realized,
			ExitReason:  reason,
		}
		if err := e.deps.Journal.Append(record); err != nil {
			e.logger.Error("journal append failed", zap.Error(err))
		}
	}
	e.logger.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", reason),
		zap.String("realized", realized.String()),
	)
}

// reconcile compares local state against the exchange's authoritative
// positions. A local position absent on the exchange was closed
// externally; it is journaled with the EXTERNAL_CLOSE reason.
func (e *Engine) reconcile(ctx context.Context) {
	exchangePositions, err := e.deps.Adapter.FetchPositions(ctx)
	if err != nil {
		e.logger.Warn("reconciliation fetch failed", zap.Error(err))
		return
	}
	onExchange := make(map[string]bool, len(exchangePositions))
	for _, p := range exchangePositions {
		onExchange[p.Symbol] = true
	}

	e.mu.Lock()
	var orphans []*Position
	for sym, pos := range e.positions {
		if (pos.State == StateOpen || pos.State == StatePartialExited) && !onExchange[sym] {
			orphans = append(orphans, pos)
		}
	}
	e.mu.Unlock()

	for _, pos := range orphans {
		e.logger.Warn("position closed externally",
			zap.String("symbol", pos.Symbol))
		mark, err := e.deps.Hub.Price(ctx, pos.Symbol)
		if err != nil {
			mark = pos.EntryPrice
		}
		pos.State = StateClosed
		realized := realizedPnl(pos.Side, pos.EntryPrice, mark, pos.Quantity).Add(pos.realizedPnl)
		e.finalize(pos, mark, realized, journal.ReasonExternalClose)
	}
}

// CloseAll flattens every open position, used on emergency and
// shutdown paths. Pending entries are cancelled. Safe to call from the
// orchestrator's goroutine while the monitor loop runs.
func (e *Engine) CloseAll(ctx context.Context, reason string) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	positions := make([]*Position, 0, len(e.positions))
	for _, p := range e.positions {
		positions = append(positions, p)
	}
	e.mu.Unlock()

	for _, pos := range positions {
		if pos.State == StatePendingConfirm {
			pos.State = StateCancelled
			e.untrack(pos.Symbol)
			continue
		}
		mark, err := e.deps.Hub.Price(ctx, pos.Symbol)
		if err != nil {
			mark = pos.EntryPrice
		}
		final := StateClosed
		if reason == journal.ReasonEmergency {
			final = StateEmergencyClosed
		}
		e.closePosition(ctx, pos, mark, 1.0, reason, final)
	}
}

func realizedPnl(side types.Side, entry, exit float64, qty decimal.Decimal) decimal.Decimal {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if side == types.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}
