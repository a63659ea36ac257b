// Package risk implements the global risk monitor: the daily-loss and
// drawdown circuit breaker shared by every engine.
package risk

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config sets the breaker thresholds.
type Config struct {
	DailyLossLimitPct float64       // trips when the day's loss exceeds this
	MaxDrawdownPct    float64       // trips on drawdown from the running peak
	Cooldown          time.Duration // breaker hold time once tripped
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		DailyLossLimitPct: 4.0,
		MaxDrawdownPct:    10.0,
		Cooldown:          60 * time.Minute,
	}
}

// State is a snapshot of the monitor, served by the status API.
type State struct {
	DailyPnlUsd          float64   `json:"dailyPnlUsd"`
	DailyLossPct         float64   `json:"dailyLossPct"`
	PeakPortfolioUsd     float64   `json:"peakPortfolioUsd"`
	PortfolioUsd         float64   `json:"portfolioUsd"`
	DrawdownPct          float64   `json:"drawdownPct"`
	CircuitBreakerActive bool      `json:"circuitBreakerActive"`
	CircuitBreakerUntil  time.Time `json:"circuitBreakerUntil,omitempty"`
	TripReason           string    `json:"tripReason,omitempty"`
}

// Monitor holds the global risk state. The circuit breaker blocks new
// entries only; exits always proceed.
type Monitor struct {
	logger *zap.Logger
	config Config
	now    func() time.Time

	mu            sync.Mutex
	dayEpoch      time.Time // UTC midnight of the current day
	dayStartUsd   float64
	dailyPnl      map[string]float64 // realized P&L per engine, today
	unrealized    map[string]float64 // latest unrealized mark per engine
	peakPortfolio float64
	portfolio     float64
	breakerUntil  time.Time
	tripReason    string
}

// New creates a monitor. now may be nil for the wall clock.
func New(logger *zap.Logger, config Config, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	m := &Monitor{
		logger:     logger.Named("risk-monitor"),
		config:     config,
		now:        now,
		dailyPnl:   make(map[string]float64),
		unrealized: make(map[string]float64),
	}
	m.dayEpoch = midnightUTC(now())
	return m
}

// UpdatePnl records an engine's realized P&L delta and its current
// unrealized mark.
func (m *Monitor) UpdatePnl(engine string, realizedDelta, unrealizedMark float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	m.dailyPnl[engine] += realizedDelta
	m.unrealized[engine] = unrealizedMark
}

// Mark records the current portfolio value and advances the running
// peak.
func (m *Monitor) Mark(portfolioUsd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	m.portfolio = portfolioUsd
	if m.dayStartUsd == 0 {
		m.dayStartUsd = portfolioUsd
	}
	if portfolioUsd > m.peakPortfolio {
		m.peakPortfolio = portfolioUsd
	}
}

// CanOpen reports whether new entries are currently allowed.
func (m *Monitor) CanOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	now := m.now()
	if now.Before(m.breakerUntil) {
		return false
	}

	if pct := m.dailyLossPctLocked(); pct > m.config.DailyLossLimitPct {
		m.tripLocked("daily loss limit", now)
		return false
	}
	if pct := m.drawdownPctLocked(); pct > m.config.MaxDrawdownPct {
		m.tripLocked("max drawdown", now)
		return false
	}
	return true
}

// Trip engages the circuit breaker explicitly, for the cooldown.
func (m *Monitor) Trip(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tripLocked(reason, m.now())
}

func (m *Monitor) tripLocked(reason string, now time.Time) {
	if now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(m.config.Cooldown)
	m.tripReason = reason
	m.logger.Warn("circuit breaker tripped",
		zap.String("reason", reason),
		zap.Time("until", m.breakerUntil),
	)
}

// Snapshot returns the current risk state.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	active := m.now().Before(m.breakerUntil)
	s := State{
		DailyPnlUsd:          m.totalDailyPnlLocked(),
		DailyLossPct:         m.dailyLossPctLocked(),
		PeakPortfolioUsd:     m.peakPortfolio,
		PortfolioUsd:         m.portfolio,
		DrawdownPct:          m.drawdownPctLocked(),
		CircuitBreakerActive: active,
	}
	if active {
		s.CircuitBreakerUntil = m.breakerUntil
		s.TripReason = m.tripReason
	}
	return s
}

// rolloverLocked resets daily state at UTC midnight. The portfolio
// peak survives: drawdown is measured from the all-time high.
func (m *Monitor) rolloverLocked() {
	today := midnightUTC(m.now())
	if !today.After(m.dayEpoch) {
		return
	}
	m.logger.Info("daily risk state reset", zap.Time("day", today))
	m.dayEpoch = today
	m.dailyPnl = make(map[string]float64)
	m.unrealized = make(map[string]float64)
	m.dayStartUsd = m.portfolio
	m.breakerUntil = time.Time{}
	m.tripReason = ""
}

func (m *Monitor) totalDailyPnlLocked() float64 {
	total := 0.0
	for _, v := range m.dailyPnl {
		total += v
	}
	for _, v := range m.unrealized {
		total += v
	}
	return total
}

func (m *Monitor) dailyLossPctLocked() float64 {
	if m.dayStartUsd <= 0 {
		return 0
	}
	pnl := m.totalDailyPnlLocked()
	if pnl >= 0 {
		return 0
	}
	return -pnl / m.dayStartUsd * 100
}

func (m *Monitor) drawdownPctLocked() float64 {
	if m.peakPortfolio <= 0 || m.portfolio <= 0 {
		return 0
	}
	dd := (m.peakPortfolio - m.portfolio) / m.peakPortfolio * 100
	if dd < 0 {
		return 0
	}
	return dd
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
