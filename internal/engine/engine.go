// Package engine implements the position lifecycle manager: the scan
// and monitor loops that turn accepted proposals into managed
// positions under the global risk controls.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantfleet/unified-trading-bot/internal/allocator"
	"github.com/quantfleet/unified-trading-bot/internal/analyzer"
	"github.com/quantfleet/unified-trading-bot/internal/blacklist"
	"github.com/quantfleet/unified-trading-bot/internal/config"
	"github.com/quantfleet/unified-trading-bot/internal/data"
	"github.com/quantfleet/unified-trading-bot/internal/exchange"
	"github.com/quantfleet/unified-trading-bot/internal/gate"
	"github.com/quantfleet/unified-trading-bot/internal/journal"
	"github.com/quantfleet/unified-trading-bot/internal/risk"
	"github.com/quantfleet/unified-trading-bot/internal/scanner"
	"github.com/quantfleet/unified-trading-bot/internal/sizing"
	"github.com/quantfleet/unified-trading-bot/internal/stops"
	"github.com/shopspring/decimal"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"go.uber.org/zap"
)

// Mode selects the engine variant.
type Mode string

const (
	ModeFutures Mode = "futures"
	ModeSpot    Mode = "spot"
)

// reconcileEvery is the number of monitor ticks between exchange
// position reconciliations.
const reconcileEvery = 6

// Deps bundles the shared components an engine trades through.
type Deps struct {
	Adapter   exchange.Adapter
	Hub       *data.Hub
	Scanner   *scanner.Scanner
	Analyzer  *analyzer.Analyzer
	Gate      *gate.Gate
	Sizer     *sizing.Sizer
	Journal   *journal.Journal
	Blacklist *blacklist.Manager
	Streaks   *sizing.StreakTracker
	Allocator *allocator.Allocator
	Risk      *risk.Monitor
	Groups    types.CorrelationGroups
	Emergency stops.EmergencyThresholds

	// RequestGlobalClose asks the orchestrator to flatten every engine.
	RequestGlobalClose func(reason string)

	Now func() time.Time
}

// Engine owns its positions exclusively and runs two cooperative
// loops. A crash in one engine never propagates to another.
type Engine struct {
	name   string
	mode   Mode
	logger *zap.Logger
	cfg    config.EngineConfig
	deps   Deps

	analyze func(ctx context.Context, symbol string) (*analyzer.Proposal, error)
	baseTF  types.Timeframe

	mu         sync.Mutex
	positions  map[string]*Position
	book       map[string]Snapshot
	lastExit   map[string]time.Time
	rejections map[string]int
	lastError  error
	running    bool
	stopCh     chan struct{}
	wg         sync.WaitGroup

	// opMu serializes position mutation between the monitor loop and
	// CloseAll, which the orchestrator may invoke from its own
	// goroutine. Held around whole operations; never nested inside mu.
	opMu sync.Mutex

	beatNano int64
	tick     uint64
}

// New creates an engine.
func New(logger *zap.Logger, name string, mode Mode, cfg config.EngineConfig, deps Deps) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	e := &Engine{
		name:       name,
		mode:       mode,
		logger:     logger.Named(name),
		cfg:        cfg,
		deps:       deps,
		positions:  make(map[string]*Position),
		book:       make(map[string]Snapshot),
		lastExit:   make(map[string]time.Time),
		rejections: make(map[string]int),
		baseTF:     types.Timeframe15m,
	}
	if deps.Analyzer != nil {
		e.analyze = deps.Analyzer.Analyze
		if tf := deps.Analyzer.BaseTimeframe(); tf != "" {
			e.baseTF = tf
		}
	}
	e.beat()
	return e
}

// Name returns the engine's identity.
func (e *Engine) Name() string { return e.name }

// Start launches the scan and monitor loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine %s already running", e.name)
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	e.beat()
	e.wg.Add(2)
	go e.runLoop(ctx, "scan", e.cfg.ScanInterval, e.scanTick)
	go e.runLoop(ctx, "monitor", e.cfg.MonitorInterval, e.monitorTick)
	e.logger.Info("engine started",
		zap.String("mode", string(e.mode)),
		zap.Duration("scanInterval", e.cfg.ScanInterval),
		zap.Duration("monitorInterval", e.cfg.MonitorInterval),
	)
	return nil
}

// Stop signals the loops and waits for them to finish their current
// tick.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// runLoop drives one tick function at a fixed cadence. A panic inside
// a tick is caught, recorded and ends the loop; the health supervisor
// notices the stalled heartbeat and restarts the engine.
func (e *Engine) runLoop(ctx context.Context, kind string, interval time.Duration, tick func(context.Context)) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s loop panic: %v", kind, r)
			e.logger.Error("engine loop crashed", zap.Error(err))
			e.mu.Lock()
			e.lastError = err
			e.mu.Unlock()
		}
	}()

	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.beat()
			tick(ctx)
		}
	}
}

func (e *Engine) beat() {
	atomic.StoreInt64(&e.beatNano, e.deps.Now().UnixNano())
}

// LastHeartbeat returns the most recent liveness timestamp from either
// loop.
func (e *Engine) LastHeartbeat() time.Time {
	return time.Unix(0, atomic.LoadInt64(&e.beatNano))
}

// LastError returns the most recent loop failure, if any.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

// scanTick runs one scan cycle: candidates through analyzer, gate,
// sizer, stops, into a pending or open position. Infrastructure
// errors skip the tick.
func (e *Engine) scanTick(ctx context.Context) {
	e.mu.Lock()
	open := len(e.positions)
	e.rejections = make(map[string]int)
	e.mu.Unlock()
	if open >= e.cfg.MaxPositions {
		return
	}

	symbols, err := e.candidates(ctx)
	if err != nil {
		e.logger.Warn("scan failed, skipping tick", zap.Error(err))
		return
	}

	for _, symbol := range symbols {
		if e.hasPosition(symbol) || e.inCooldown(symbol) {
			continue
		}
		if e.openCount() >= e.cfg.MaxPositions {
			return
		}
		if err := e.evaluate(ctx, symbol); err != nil {
			e.logger.Warn("candidate evaluation failed",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

func (e *Engine) candidates(ctx context.Context) ([]string, error) {
	if len(e.cfg.Watchlist) > 0 {
		return e.cfg.Watchlist, nil
	}
	if e.deps.Scanner == nil {
		return nil, nil
	}
	ranked, err := e.deps.Scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ranked))
	for _, c := range ranked {
		out = append(out, c.Symbol)
	}
	return out, nil
}

// evaluate runs one symbol through the decision pipeline.
func (e *Engine) evaluate(ctx context.Context, symbol string) error {
	proposal, err := e.analyze(ctx, symbol)
	if err != nil {
		return err
	}
	if proposal == nil {
		return nil
	}
	if e.mode == ModeSpot && proposal.Side == types.SideShort {
		return nil
	}

	alloc, err := e.allocation(ctx)
	if err != nil {
		return err
	}

	env := &gate.Env{
		IsBlacklisted:         e.isBlacklisted,
		CanOpen:               e.canOpenGlobally,
		OpenInGroup:           e.openInGroup,
		MaxGroupPositions:     e.cfg.MaxGroupPositions,
		AllocatedUsd:          alloc.AllocatedUsd,
		ExposureUsd:           alloc.CurrentExposureUsd,
		MinConfidenceTrending: float64(e.cfg.MinConfidenceTrending),
		MinConfidenceRanging:  float64(e.cfg.MinConfidenceSideways),
	}
	verdict := e.deps.Gate.Check(proposal, env)
	if !verdict.Accepted {
		return nil
	}

	stats := journal.Stats{}
	if e.deps.Journal != nil {
		stats = e.deps.Journal.StatsFor(symbol)
	}
	streak := 0
	if e.deps.Streaks != nil {
		streak = e.deps.Streaks.Streak(symbol)
	}

	sized, err := e.deps.Sizer.Size(sizing.Inputs{
		Confidence:   verdict.Confidence,
		Regime:       proposal.Context.Regime,
		Attenuation:  verdict.Attenuation,
		SizeCapPct:   verdict.SizeCapPct,
		WinRate:      stats.WinRate,
		ClosedTrades: stats.ClosedTrades,
		LossStreak:   streak,
		AvailableUsd: alloc.AvailableUsd,
	})
	if err != nil {
		e.logger.Debug("sizing rejected", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}

	pos, err := e.buildPosition(proposal, verdict, sized)
	if err != nil {
		e.logger.Debug("stop placement rejected", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}

	if e.cfg.ConfirmationCandles > 0 {
		window := time.Duration(e.cfg.ConfirmationCandles) * e.baseTF.Duration()
		pos.State = StatePendingConfirm
		pos.confirmDeadline = e.deps.Now().Add(window)
		pos.signalPrice = proposal.EntryPrice
		e.track(pos)
		e.logger.Info("entry pending confirmation",
			zap.String("symbol", symbol),
			zap.String("side", string(pos.Side)),
			zap.Time("deadline", pos.confirmDeadline),
		)
		return nil
	}
	return e.open(ctx, pos)
}

// buildPosition computes stops and assembles the not-yet-opened
// position.
func (e *Engine) buildPosition(p *analyzer.Proposal, verdict gate.Result, sized sizing.Result) (*Position, error) {
	var stopPrice float64
	sizeUsd := sized.SizeUsd
	leverage := sized.Leverage

	if e.mode == ModeSpot {
		leverage = 1
		stopPct := e.cfg.FixedStopLossPct
		if stopPct <= 0 {
			stopPct = 3.0
		}
		stopPrice = p.EntryPrice * (1 - stopPct/100)
	} else {
		initial, err := stops.ComputeInitialStop(p.Side, p.EntryPrice, p.ATR, p.Context.Regime)
		if err != nil {
			return nil, err
		}
		stopPrice = initial.Price
		sizeUsd *= initial.SizeFactor
	}

	notional := sizeUsd * float64(leverage)
	qty := decimal.NewFromFloat(notional / p.EntryPrice).Round(6)

	pos := &Position{
		Symbol:     p.Symbol,
		Side:       p.Side,
		State:      StateOpen,
		EntryPrice: p.EntryPrice,
		Quantity:   qty,
		Leverage:   leverage,
		SizeUsd:    sizeUsd,
		Confidence: verdict.Confidence,
		Regime:     p.Context.Regime,
		ATR:        p.ATR,
		EntryTime:  e.deps.Now(),
	}
	pos.entryQty = qty
	pos.entrySizeUsd = sizeUsd
	trailCfg := stops.DefaultTrailingConfig()
	if e.cfg.TrailingActivationPct > 0 {
		trailCfg.ActivationDefaultPct = e.cfg.TrailingActivationPct
	}
	pos.Trailing = stops.NewTrailing(trailCfg, p.Side, p.EntryPrice, stopPrice, p.Context.Regime, verdict.TightTrail)
	if e.mode == ModeFutures {
		pos.Partials = stops.NewPartialPlan(e.partialConfig(), p.Side, p.EntryPrice, p.ATR, stopPrice)
	}
	return pos, nil
}

func (e *Engine) partialConfig() stops.PartialConfig {
	cfg := stops.DefaultPartialConfig()
	if e.cfg.PartialTP1Fraction > 0 {
		cfg.TP1Fraction = e.cfg.PartialTP1Fraction
	}
	if e.cfg.PartialTP2Fraction > 0 {
		cfg.TP2Fraction = e.cfg.PartialTP2Fraction
	}
	return cfg
}

// open executes the entry orders and registers the position.
func (e *Engine) open(ctx context.Context, pos *Position) error {
	if e.mode == ModeFutures {
		if err := e.deps.Adapter.SetLeverage(ctx, pos.Symbol, pos.Leverage); err != nil {
			return fmt.Errorf("setting leverage: %w", err)
		}
	}

	fill, err := e.deps.Adapter.PlaceMarketOrder(ctx, pos.Symbol, pos.Side, pos.Quantity)
	if err != nil {
		e.recordRejection(pos.Symbol, err)
		e.untrack(pos.Symbol)
		return fmt.Errorf("opening %s: %w", pos.Symbol, err)
	}
	if fillPrice, _ := fill.AvgFillPrice.Float64(); fillPrice > 0 {
		pos.EntryPrice = fillPrice
	}

	stop, err := e.deps.Adapter.PlaceStopMarket(ctx, pos.Symbol, pos.Side, pos.Trailing.Stop(), pos.Quantity)
	if err != nil {
		e.logger.Warn("protective stop placement failed",
			zap.String("symbol", pos.Symbol), zap.Error(err))
	} else {
		pos.stopOrderID = stop.OrderID
	}

	pos.State = StateOpen
	pos.EntryTime = e.deps.Now()
	entry, stopPrice, sizeUsd := pos.EntryPrice, pos.Trailing.Stop(), pos.SizeUsd
	e.track(pos)
	if e.deps.Allocator != nil {
		e.deps.Allocator.RecordExposureChange(e.name, sizeUsd)
	}
	e.logger.Info("position opened",
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("entry", entry),
		zap.Int("leverage", pos.Leverage),
		zap.Float64("stop", stopPrice),
	)
	return nil
}

// recordRejection counts order rejections per cycle; repeats blacklist
// the symbol briefly.
func (e *Engine) recordRejection(symbol string, err error) {
	if ee, ok := exchange.AsExchangeError(err); !ok || ee.Kind != exchange.KindRejected {
		return
	}
	e.mu.Lock()
	e.rejections[symbol]++
	repeated := e.rejections[symbol] >= 2
	e.mu.Unlock()
	if repeated && e.deps.Blacklist != nil {
		e.deps.Blacklist.RecordRejections(symbol)
	}
}

func (e *Engine) allocation(ctx context.Context) (allocator.Allocation, error) {
	balance, err := e.deps.Adapter.FetchBalanceUsd(ctx)
	if err != nil {
		return allocator.Allocation{}, fmt.Errorf("fetching balance: %w", err)
	}
	if e.deps.Allocator == nil {
		return allocator.Allocation{AllocatedUsd: balance, AvailableUsd: balance, AllocatedPct: 100}, nil
	}
	return e.deps.Allocator.AllocationFor(e.name, balance)
}

func (e *Engine) isBlacklisted(symbol string) bool {
	return e.deps.Blacklist != nil && e.deps.Blacklist.IsBlacklisted(symbol)
}

func (e *Engine) canOpenGlobally() bool {
	return e.deps.Risk == nil || e.deps.Risk.CanOpen()
}

func (e *Engine) openInGroup(symbol string) int {
	group := e.deps.Groups.GroupOf(symbol)
	if group == "" {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for sym, pos := range e.positions {
		if pos.State == StateOpen || pos.State == StatePartialExited || pos.State == StatePendingConfirm {
			if e.deps.Groups.GroupOf(sym) == group {
				count++
			}
		}
	}
	return count
}

func (e *Engine) hasPosition(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.positions[symbol]
	return ok
}

func (e *Engine) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.positions)
}

func (e *Engine) inCooldown(symbol string) bool {
	if e.cfg.ReentryCooldown <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastExit[symbol]
	return ok && e.deps.Now().Sub(last) < e.cfg.ReentryCooldown
}

func (e *Engine) track(pos *Position) {
	snap := pos.snapshot(e.name, pos.EntryPrice)
	e.mu.Lock()
	e.positions[pos.Symbol] = pos
	e.book[pos.Symbol] = snap
	e.mu.Unlock()
}

func (e *Engine) untrack(symbol string) {
	e.mu.Lock()
	delete(e.positions, symbol)
	delete(e.book, symbol)
	e.mu.Unlock()
}

// publish refreshes the cached snapshot of a still-tracked position.
// Only the engine's own loops touch Position fields; other goroutines
// read the cached copies.
func (e *Engine) publish(pos *Position, mark float64) {
	snap := pos.snapshot(e.name, mark)
	e.mu.Lock()
	if _, ok := e.positions[pos.Symbol]; ok {
		e.book[pos.Symbol] = snap
	}
	e.mu.Unlock()
}

// Snapshots returns the cached read-only views published by the
// engine's loops. Safe to call from any goroutine.
func (e *Engine) Snapshots(context.Context) []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Snapshot, 0, len(e.book))
	for _, s := range e.book {
		out = append(out, s)
	}
	return out
}
