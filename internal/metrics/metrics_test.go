package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quantfleet/unified-trading-bot/internal/allocator"
	"github.com/quantfleet/unified-trading-bot/internal/exchange"
	"github.com/quantfleet/unified-trading-bot/internal/journal"
	"github.com/quantfleet/unified-trading-bot/internal/orchestrator"
	"github.com/quantfleet/unified-trading-bot/internal/risk"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func gather(t *testing.T, c *Collector) map[string]*float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*float64)
	for _, f := range families {
		for _, m := range f.Metric {
			v := 0.0
			switch {
			case m.Gauge != nil:
				v = m.Gauge.GetValue()
			case m.Counter != nil:
				v = m.Counter.GetValue()
			}
			key := f.GetName()
			for _, l := range m.Label {
				key += "." + l.GetValue()
			}
			value := v
			out[key] = &value
		}
	}
	return out
}

func TestCollectorExportsBotState(t *testing.T) {
	logger := zap.NewNop()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	paper := exchange.NewPaper(logger, 100000)
	riskMon := risk.New(logger, risk.DefaultConfig(), now)
	alloc := allocator.New(logger, []allocator.EngineShare{
		{Name: "futures", Enabled: true, CapitalPct: 100},
	})
	alloc.RecordExposureChange("futures", 12500)

	jrnl, err := journal.Open(logger, filepath.Join(t.TempDir(), "trades.jsonl"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	defer jrnl.Close()
	jrnl.Append(journal.TradeRecord{
		Symbol:      "ETHUSDT",
		Engine:      "futures",
		Side:        types.SideLong,
		RealizedPnl: decimal.NewFromFloat(42.5),
		ExitReason:  journal.ReasonTrailingStop,
	})

	orch := orchestrator.New(logger, orchestrator.Config{
		MonitorTick:      time.Second,
		HeartbeatWarn:    time.Minute,
		HeartbeatRestart: 5 * time.Minute,
		MaxRestarts:      3,
	}, alloc, riskMon, paper, now)

	c := NewCollector(orch, alloc, map[string]*journal.Journal{"futures": jrnl})
	got := gather(t, c)

	if v := got["bot_trades_total.futures"]; v == nil || *v != 1 {
		t.Errorf("bot_trades_total = %v, want 1", v)
	}
	if v := got["bot_realized_pnl_usd.futures"]; v == nil || *v != 42.5 {
		t.Errorf("bot_realized_pnl_usd = %v, want 42.5", v)
	}
	if v := got["bot_exposure_usd.futures"]; v != nil && *v != 12500 {
		t.Errorf("bot_exposure_usd = %v, want 12500", *v)
	}
	if v := got["bot_circuit_breaker_active"]; v == nil || *v != 0 {
		t.Errorf("bot_circuit_breaker_active = %v, want 0", v)
	}

	riskMon.Trip("test")
	got = gather(t, c)
	if v := got["bot_circuit_breaker_active"]; v == nil || *v != 1 {
		t.Errorf("bot_circuit_breaker_active after trip = %v, want 1", v)
	}
}
