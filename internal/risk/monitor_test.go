package risk

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMonitor() (*Monitor, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(zap.NewNop(), DefaultConfig(), clk.now), clk
}

func TestCanOpenHealthy(t *testing.T) {
	m, _ := newMonitor()
	m.Mark(10000)
	m.UpdatePnl("futures", -100, 0)
	if !m.CanOpen() {
		t.Fatal("1% daily loss should not trip a 4% limit")
	}
}

func TestDailyLossTripsBreaker(t *testing.T) {
	m, clk := newMonitor()
	m.Mark(10000)
	m.UpdatePnl("futures", -410, 0)

	if m.CanOpen() {
		t.Fatal("4.1% loss must trip the 4% limit")
	}
	s := m.Snapshot()
	if !s.CircuitBreakerActive || s.TripReason != "daily loss limit" {
		t.Errorf("snapshot = %+v, want active breaker with loss reason", s)
	}

	// Still blocked during cooldown even if P&L recovers.
	m.UpdatePnl("futures", 400, 0)
	clk.advance(30 * time.Minute)
	if m.CanOpen() {
		t.Fatal("breaker must hold through the cooldown")
	}
	clk.advance(31 * time.Minute)
	if !m.CanOpen() {
		t.Fatal("breaker should clear after cooldown with healthy P&L")
	}
}

func TestUnrealizedCountsTowardDailyLoss(t *testing.T) {
	m, _ := newMonitor()
	m.Mark(10000)
	m.UpdatePnl("futures", -200, -250)
	if m.CanOpen() {
		t.Fatal("realized -2% plus unrealized -2.5% must trip the 4% limit")
	}
}

func TestDrawdownTripsBreaker(t *testing.T) {
	m, _ := newMonitor()
	m.Mark(10000)
	m.Mark(8900) // 11% off the peak
	if m.CanOpen() {
		t.Fatal("11% drawdown must trip the 10% limit")
	}
	s := m.Snapshot()
	if s.DrawdownPct < 10.9 || s.DrawdownPct > 11.1 {
		t.Errorf("drawdown = %v, want ~11", s.DrawdownPct)
	}
}

func TestPeakIsRunningMaximum(t *testing.T) {
	m, _ := newMonitor()
	m.Mark(10000)
	m.Mark(12000)
	m.Mark(11000)
	if got := m.Snapshot().PeakPortfolioUsd; got != 12000 {
		t.Errorf("peak = %v, want 12000", got)
	}
}

func TestDayRolloverPreservesPeak(t *testing.T) {
	m, clk := newMonitor()
	m.Mark(10000)
	m.UpdatePnl("futures", -410, 0)
	if m.CanOpen() {
		t.Fatal("breaker should be tripped")
	}

	// Cross UTC midnight.
	clk.advance(13 * time.Hour)
	s := m.Snapshot()
	if s.DailyPnlUsd != 0 {
		t.Errorf("dailyPnl after rollover = %v, want 0", s.DailyPnlUsd)
	}
	if s.CircuitBreakerActive {
		t.Error("breaker should clear at day rollover")
	}
	if s.PeakPortfolioUsd != 10000 {
		t.Errorf("peak after rollover = %v, want preserved 10000", s.PeakPortfolioUsd)
	}
	if !m.CanOpen() {
		t.Error("fresh day should allow entries")
	}
}

func TestManualTrip(t *testing.T) {
	m, clk := newMonitor()
	m.Mark(10000)
	m.Trip("emergency portfolio exit")
	if m.CanOpen() {
		t.Fatal("manual trip must block entries")
	}
	clk.advance(61 * time.Minute)
	if !m.CanOpen() {
		t.Fatal("manual trip should expire after cooldown")
	}
}
