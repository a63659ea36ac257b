package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/quantfleet/unified-trading-bot/internal/data"
	"github.com/quantfleet/unified-trading-bot/internal/exchange"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"go.uber.org/zap"
)

// seedSymbol installs a ticker plus a 5m series whose last candle
// carries the given price change and volume surge.
func seedSymbol(p *exchange.Paper, symbol string, volume24h, changePct, volumeRatio float64) {
	p.SeedTicker(types.Ticker{Symbol: symbol, Last: 100, QuoteVolume24h: volume24h})

	n := 30
	candles := make([]types.Candle, n)
	ts := time.Now().UTC().Truncate(5 * time.Minute).Add(-time.Duration(n-1) * 5 * time.Minute)
	for i := range candles {
		candles[i] = types.Candle{
			OpenTime: ts.Add(time.Duration(i) * 5 * time.Minute),
			Open:     100, High: 100.5, Low: 99.5, Close: 100, Volume: 1000,
		}
	}
	candles[n-1].Close = 100 * (1 + changePct/100)
	candles[n-1].Volume = 1000 * volumeRatio
	p.SeedCandles(symbol, types.Timeframe5m, candles)
}

func newScanner(t *testing.T, p *exchange.Paper, cfg Config) *Scanner {
	t.Helper()
	return New(zap.NewNop(), data.NewHub(zap.NewNop(), p), cfg, nil)
}

func TestScanRanksByMomentum(t *testing.T) {
	p := exchange.NewPaper(zap.NewNop(), 0)
	seedSymbol(p, "AAAUSDT", 20e6, 1.0, 3.0) // score 3.0
	seedSymbol(p, "BBBUSDT", 20e6, 2.0, 1.0) // score 2.0
	seedSymbol(p, "CCCUSDT", 20e6, -3.0, 2.0) // score 6.0, negative move counts

	got, err := newScanner(t, p, DefaultConfig()).Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("candidates = %d, want 3", len(got))
	}
	if got[0].Symbol != "CCCUSDT" || got[1].Symbol != "AAAUSDT" || got[2].Symbol != "BBBUSDT" {
		t.Errorf("order = %s %s %s, want CCC AAA BBB", got[0].Symbol, got[1].Symbol, got[2].Symbol)
	}
}

func TestScanFiltersLowVolume(t *testing.T) {
	p := exchange.NewPaper(zap.NewNop(), 0)
	seedSymbol(p, "BIGUSDT", 50e6, 1.0, 2.0)
	seedSymbol(p, "TINYUSDT", 1e6, 5.0, 5.0)

	got, err := newScanner(t, p, DefaultConfig()).Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "BIGUSDT" {
		t.Errorf("got %+v, want only BIGUSDT", got)
	}
}

func TestScanExcludesLeveragedTokens(t *testing.T) {
	p := exchange.NewPaper(zap.NewNop(), 0)
	seedSymbol(p, "BTCUPUSDT", 50e6, 2.0, 2.0)
	seedSymbol(p, "ETHUSDT", 50e6, 1.0, 1.5)

	got, err := newScanner(t, p, DefaultConfig()).Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "ETHUSDT" {
		t.Errorf("got %+v, want only ETHUSDT", got)
	}
}

func TestScanExcludesBlacklisted(t *testing.T) {
	p := exchange.NewPaper(zap.NewNop(), 0)
	seedSymbol(p, "AAAUSDT", 50e6, 1.0, 2.0)
	seedSymbol(p, "BADUSDT", 50e6, 4.0, 3.0)

	hub := data.NewHub(zap.NewNop(), p)
	s := New(zap.NewNop(), hub, DefaultConfig(), func(sym string) bool { return sym == "BADUSDT" })
	got, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "AAAUSDT" {
		t.Errorf("got %+v, want only AAAUSDT", got)
	}
}

func TestScanSkipsShortHistory(t *testing.T) {
	p := exchange.NewPaper(zap.NewNop(), 0)
	p.SeedTicker(types.Ticker{Symbol: "NEWUSDT", Last: 1, QuoteVolume24h: 50e6})
	p.SeedCandles("NEWUSDT", types.Timeframe5m, make([]types.Candle, 5))

	got, err := newScanner(t, p, DefaultConfig()).Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %+v, want none for insufficient history", got)
	}
}

func TestScanTopNLimit(t *testing.T) {
	p := exchange.NewPaper(zap.NewNop(), 0)
	symbols := []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT"}
	for i, sym := range symbols {
		seedSymbol(p, sym, 50e6, float64(i+1), 1.5)
	}

	cfg := DefaultConfig()
	cfg.TopN = 2
	got, err := newScanner(t, p, cfg).Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Symbol != "DUSDT" {
		t.Errorf("top = %s, want DUSDT", got[0].Symbol)
	}
}
