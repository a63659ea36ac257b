package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"go.uber.org/zap"
)

func record(symbol string, pnl float64, exit time.Time) TradeRecord {
	return TradeRecord{
		Symbol:      symbol,
		Engine:      "futures",
		Side:        types.SideLong,
		EntryTime:   exit.Add(-time.Hour),
		ExitTime:    exit,
		EntryPrice:  100,
		ExitPrice:   100 + pnl,
		Quantity:    decimal.NewFromInt(1),
		Leverage:    3,
		RealizedPnl: decimal.NewFromFloat(pnl),
		ExitReason:  ReasonTrailingStop,
	}
}

func TestAppendAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	j, err := Open(zap.NewNop(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, pnl := range []float64{5, -3, 8} {
		if err := j.Append(record("BTCUSDT", pnl, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(zap.NewNop(), path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Len() != 3 {
		t.Fatalf("len = %d, want 3", reopened.Len())
	}
	if !reopened.TotalPnl().Equal(decimal.NewFromInt(10)) {
		t.Errorf("total pnl = %s, want 10", reopened.TotalPnl())
	}

	recent := reopened.Recent(2)
	if len(recent) != 2 || !recent[1].RealizedPnl.Equal(decimal.NewFromInt(8)) {
		t.Errorf("recent = %+v, want last pnl 8", recent)
	}
}

func TestWinRateWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	j, err := Open(zap.NewNop(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	// 10 old losses, then 20 recent trades with 12 wins. Only the last
	// 20 count.
	for i := 0; i < 10; i++ {
		j.Append(record("ETHUSDT", -1, base.Add(time.Duration(i)*time.Minute)))
	}
	for i := 0; i < 20; i++ {
		pnl := -1.0
		if i < 12 {
			pnl = 1.0
		}
		j.Append(record("ETHUSDT", pnl, base.Add(time.Duration(10+i)*time.Minute)))
	}

	s := j.StatsFor("ETHUSDT")
	if s.ClosedTrades != 20 {
		t.Errorf("closed = %d, want window 20", s.ClosedTrades)
	}
	if s.WinRate != 0.6 {
		t.Errorf("winRate = %v, want 0.6", s.WinRate)
	}
}

func TestStatsPerSymbol(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	j, _ := Open(zap.NewNop(), path)
	defer j.Close()

	now := time.Now().UTC()
	j.Append(record("AUSDT", 1, now))
	j.Append(record("BUSDT", -1, now))

	if s := j.StatsFor("AUSDT"); s.WinRate != 1.0 || s.ClosedTrades != 1 {
		t.Errorf("AUSDT stats = %+v", s)
	}
	if s := j.StatsFor("CUSDT"); s.ClosedTrades != 0 || s.WinRate != 0 {
		t.Errorf("unknown symbol stats = %+v", s)
	}
}

func TestStatsSkipPartialExits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	j, _ := Open(zap.NewNop(), path)
	defer j.Close()

	now := time.Now().UTC()
	partial := record("ETHUSDT", 3, now)
	partial.ExitReason = ReasonPartialTP
	j.Append(partial)
	j.Append(record("ETHUSDT", -2, now.Add(time.Minute)))

	// The scale-out is not a completed trade; only the final close
	// counts toward the win rate.
	s := j.StatsFor("ETHUSDT")
	if s.ClosedTrades != 1 || s.Wins != 0 {
		t.Errorf("stats = %+v, want 1 closed trade, 0 wins", s)
	}
}

func TestLoadToleratesTornLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.jsonl")

	j, _ := Open(zap.NewNop(), path)
	j.Append(record("BTCUSDT", 2, time.Now().UTC()))
	j.Close()

	// Simulate a crash mid-write.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("append raw: %v", err)
	}
	f.WriteString(`{"symbol":"BTCUS`)
	f.Close()

	reopened, err := Open(zap.NewNop(), path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.Len() != 1 {
		t.Errorf("len = %d, want 1 surviving record", reopened.Len())
	}
}
