package data

import (
	"context"
	"testing"
	"time"

	"github.com/quantfleet/unified-trading-bot/internal/exchange"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"go.uber.org/zap"
)

func seedSeries(n int, tf types.Timeframe) []types.Candle {
	out := make([]types.Candle, n)
	start := time.Now().UTC().Truncate(tf.Duration()).Add(-time.Duration(n-1) * tf.Duration())
	for i := range out {
		out[i] = types.Candle{
			OpenTime: start.Add(time.Duration(i) * tf.Duration()),
			Open:     100, High: 101, Low: 99, Close: 100.5, Volume: 1000,
		}
	}
	return out
}

func TestHubCachesCandles(t *testing.T) {
	paper := exchange.NewPaper(zap.NewNop(), 1000)
	paper.SeedCandles("BTCUSDT", types.Timeframe15m, seedSeries(50, types.Timeframe15m))
	hub := NewHub(zap.NewNop(), paper)
	ctx := context.Background()

	first, err := hub.Candles(ctx, "BTCUSDT", types.Timeframe15m, 30)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(first) != 30 {
		t.Fatalf("len = %d, want 30", len(first))
	}

	// Reseed with a different series; the cached one should still serve.
	paper.SeedCandles("BTCUSDT", types.Timeframe15m, seedSeries(10, types.Timeframe15m))
	second, err := hub.Candles(ctx, "BTCUSDT", types.Timeframe15m, 30)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(second) != 30 {
		t.Errorf("cached read len = %d, want 30", len(second))
	}

	// Invalidate forces a refetch of the shorter series.
	hub.Invalidate("BTCUSDT")
	third, err := hub.Candles(ctx, "BTCUSDT", types.Timeframe15m, 30)
	if err != nil {
		t.Fatalf("candles after invalidate: %v", err)
	}
	if len(third) != 10 {
		t.Errorf("refetched len = %d, want 10", len(third))
	}
}

func TestHubTickerRefresh(t *testing.T) {
	paper := exchange.NewPaper(zap.NewNop(), 1000)
	paper.SeedTicker(types.Ticker{Symbol: "ETHUSDT", Last: 3000, QuoteVolume24h: 5e7})
	hub := NewHub(zap.NewNop(), paper)

	price, err := hub.Price(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price != 3000 {
		t.Errorf("price = %v, want 3000", price)
	}

	if _, err := hub.Price(context.Background(), "NOPEUSDT"); err == nil {
		t.Error("expected error for unknown symbol")
	}
}

func TestHubLivePushOverridesCache(t *testing.T) {
	paper := exchange.NewPaper(zap.NewNop(), 1000)
	paper.SeedTicker(types.Ticker{Symbol: "SOLUSDT", Last: 150})
	hub := NewHub(zap.NewNop(), paper)

	if _, err := hub.AllTickers(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	hub.pushTicker(types.Ticker{Symbol: "SOLUSDT", Last: 151.5})

	price, err := hub.Price(context.Background(), "SOLUSDT")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price != 151.5 {
		t.Errorf("price = %v, want live 151.5", price)
	}
}
