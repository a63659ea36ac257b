// Package orchestrator hosts the trading engines: it spawns them,
// supervises their heartbeats, engages the global circuit breaker and
// serves the status snapshot.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantfleet/unified-trading-bot/internal/allocator"
	"github.com/quantfleet/unified-trading-bot/internal/config"
	"github.com/quantfleet/unified-trading-bot/internal/engine"
	"github.com/quantfleet/unified-trading-bot/internal/exchange"
	"github.com/quantfleet/unified-trading-bot/internal/journal"
	"github.com/quantfleet/unified-trading-bot/internal/risk"
	"go.uber.org/zap"
)

// Runner is the engine contract the orchestrator supervises. Engines
// are owned by the orchestrator; everything else sees snapshots.
type Runner interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	LastHeartbeat() time.Time
	LastError() error
	CloseAll(ctx context.Context, reason string)
	Snapshots(ctx context.Context) []engine.Snapshot
}

// Config holds the supervision thresholds.
type Config struct {
	MonitorTick         time.Duration
	StatusInterval      time.Duration
	RiskMarkInterval    time.Duration
	HeartbeatWarn       time.Duration
	HeartbeatRestart    time.Duration
	MaxRestarts         int
	ShutdownGracePeriod time.Duration
}

// ConfigFrom maps the global configuration block onto supervision
// settings.
func ConfigFrom(g config.GlobalConfig) Config {
	return Config{
		MonitorTick:         g.MonitorTick,
		StatusInterval:      g.StatusInterval,
		RiskMarkInterval:    15 * time.Second,
		HeartbeatWarn:       time.Duration(g.HeartbeatWarnSeconds) * time.Second,
		HeartbeatRestart:    time.Duration(g.HeartbeatRestartSeconds) * time.Second,
		MaxRestarts:         g.MaxRestarts,
		ShutdownGracePeriod: g.ShutdownGracePeriod,
	}
}

type managedEngine struct {
	name     string
	build    func() Runner
	runner   Runner
	status   EngineStatus
	restarts int
	warned   bool
}

// Orchestrator owns the engines and the three supervisory loops
// (monitor, risk mark, status).
type Orchestrator struct {
	logger  *zap.Logger
	cfg     Config
	alloc   *allocator.Allocator
	risk    *risk.Monitor
	adapter exchange.Adapter
	now     func() time.Time

	mu        sync.Mutex
	engines   []*managedEngine
	byName    map[string]*managedEngine
	running   bool
	closing   bool
	stopCh    chan struct{}
	runCtx    context.Context
	startedAt time.Time
	wg        sync.WaitGroup
}

// New creates an orchestrator. now may be nil for the wall clock.
func New(logger *zap.Logger, cfg Config, alloc *allocator.Allocator, riskMon *risk.Monitor, adapter exchange.Adapter, now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	if cfg.MonitorTick <= 0 {
		cfg.MonitorTick = time.Second
	}
	return &Orchestrator{
		logger:  logger.Named("orchestrator"),
		cfg:     cfg,
		alloc:   alloc,
		risk:    riskMon,
		adapter: adapter,
		now:     now,
		byName:  make(map[string]*managedEngine),
	}
}

// Register adds an engine under supervision. The build function is
// called for the initial spawn and again on every restart, so each
// incarnation starts from a clean slate while keeping its allocation.
func (o *Orchestrator) Register(name string, build func() Runner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := &managedEngine{name: name, build: build, status: StatusStopped}
	o.engines = append(o.engines, m)
	o.byName[name] = m
}

// Start validates the allocation, spawns every registered engine and
// enters the supervisory loops.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.alloc != nil {
		if err := o.alloc.Validate(); err != nil {
			return fmt.Errorf("allocation: %w", err)
		}
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.runCtx = ctx
	o.startedAt = o.now()
	engines := append([]*managedEngine(nil), o.engines...)
	o.mu.Unlock()

	for _, m := range engines {
		m.runner = m.build()
		if err := m.runner.Start(ctx); err != nil {
			return fmt.Errorf("starting engine %s: %w", m.name, err)
		}
		m.status = StatusRunning
	}

	o.wg.Add(3)
	go o.loop(ctx, o.cfg.MonitorTick, o.monitorTick)
	go o.loop(ctx, o.cfg.RiskMarkInterval, o.riskTick)
	go o.loop(ctx, o.cfg.StatusInterval, o.statusTick)

	o.logger.Info("orchestrator started",
		zap.Int("engines", len(engines)),
		zap.Duration("monitorTick", o.cfg.MonitorTick),
	)
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer o.wg.Done()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// Stop broadcasts a cooperative cancellation and waits up to the grace
// period for each engine to drain. An engine that does not drain in
// time is abandoned after its open orders are cancelled on the
// exchange.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	engines := append([]*managedEngine(nil), o.engines...)
	o.mu.Unlock()

	o.wg.Wait()

	for _, m := range engines {
		if m.runner == nil || m.status == StatusStopped || m.status == StatusError {
			continue
		}
		drained := make(chan struct{})
		go func(r Runner) {
			r.Stop()
			close(drained)
		}(m.runner)

		select {
		case <-drained:
			m.status = StatusStopped
		case <-time.After(o.cfg.ShutdownGracePeriod):
			m.status = StatusError
			o.logger.Error("engine did not drain within grace period, force-cancelling orders",
				zap.String("engine", m.name),
			)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := o.adapter.CloseAllPositions(ctx, ""); err != nil {
				o.logger.Error("force cancel failed", zap.Error(err))
			}
			cancel()
		}
	}
	o.logger.Info("orchestrator stopped")
}

// RequestGlobalClose flattens every engine and trips the circuit
// breaker. Called by engines on a portfolio-level emergency.
func (o *Orchestrator) RequestGlobalClose(reason string) {
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return
	}
	o.closing = true
	engines := append([]*managedEngine(nil), o.engines...)
	o.mu.Unlock()

	o.logger.Error("global close requested", zap.String("reason", reason))
	if o.risk != nil {
		o.risk.Trip(reason)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	for _, m := range engines {
		if m.runner == nil {
			continue
		}
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.CloseAll(ctx, journal.ReasonEmergency)
		}(m.runner)
	}
	wg.Wait()

	o.mu.Lock()
	o.closing = false
	o.mu.Unlock()
}

// monitorTick polls engine heartbeats and applies the supervision
// policy.
func (o *Orchestrator) monitorTick(ctx context.Context) {
	now := o.now()
	o.mu.Lock()
	engines := append([]*managedEngine(nil), o.engines...)
	o.mu.Unlock()

	for _, m := range engines {
		if m.status != StatusRunning || m.runner == nil {
			continue
		}
		age := now.Sub(m.runner.LastHeartbeat())

		switch {
		case age > o.cfg.HeartbeatRestart:
			o.restart(ctx, m, age)
		case age > o.cfg.HeartbeatWarn:
			if !m.warned {
				m.warned = true
				o.logger.Warn("engine heartbeat stale",
					zap.String("engine", m.name),
					zap.Duration("age", age),
				)
			}
		default:
			m.warned = false
		}
	}
}

// restart replaces a wedged engine with a fresh incarnation, up to the
// restart budget. Beyond the budget the engine is marked ERROR and the
// others continue.
func (o *Orchestrator) restart(ctx context.Context, m *managedEngine, age time.Duration) {
	if m.restarts >= o.cfg.MaxRestarts {
		m.status = StatusError
		o.logger.Error("engine exceeded restart budget, leaving stopped",
			zap.String("engine", m.name),
			zap.Int("restarts", m.restarts),
		)
		go m.runner.Stop()
		return
	}

	m.status = StatusRestarting
	m.restarts++
	o.logger.Warn("restarting unresponsive engine",
		zap.String("engine", m.name),
		zap.Duration("heartbeatAge", age),
		zap.Int("attempt", m.restarts),
	)

	// A wedged loop may never return from Stop; detach it.
	go m.runner.Stop()

	m.runner = m.build()
	if err := m.runner.Start(ctx); err != nil {
		m.status = StatusError
		o.logger.Error("engine respawn failed",
			zap.String("engine", m.name), zap.Error(err))
		return
	}
	m.status = StatusRunning
	m.warned = false
}

// riskTick marks the current portfolio value so drawdown is measured
// against a live peak.
func (o *Orchestrator) riskTick(ctx context.Context) {
	if o.risk == nil || o.adapter == nil {
		return
	}
	balance, err := o.adapter.FetchBalanceUsd(ctx)
	if err != nil {
		o.logger.Warn("portfolio mark failed", zap.Error(err))
		return
	}
	o.risk.Mark(balance)
}

// statusTick emits the periodic structured status line.
func (o *Orchestrator) statusTick(ctx context.Context) {
	snap := o.Status(ctx)
	fields := []zap.Field{
		zap.Float64("uptimeSeconds", snap.UptimeSeconds),
		zap.Int("openPositions", len(snap.Positions)),
		zap.Bool("circuitBreaker", snap.Risk.CircuitBreakerActive),
		zap.Float64("dailyPnlUsd", snap.Risk.DailyPnlUsd),
	}
	for _, h := range snap.Engines {
		fields = append(fields, zap.String("engine."+h.Name, string(h.Status)))
	}
	o.logger.Info("status", fields...)
}
