// Package data provides the market data hub shared by the scanner and
// the engines. It caches ticker and candle snapshots so a scan cycle
// never hits the exchange twice for the same series.
package data

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/quantfleet/unified-trading-bot/internal/exchange"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"go.uber.org/zap"
)

const (
	tickerTTL = 60 * time.Second
	ohlcvTTL  = 5 * time.Minute

	cleanupInterval = 10 * time.Minute
)

// Hub serves cached market data on top of an exchange adapter. Live
// ticker pushes overwrite the cached snapshot so price reads between
// REST refreshes stay current.
type Hub struct {
	logger  *zap.Logger
	adapter exchange.Adapter

	tickers *gocache.Cache
	ohlcv   *gocache.Cache

	mu       sync.RWMutex
	allCache []types.Ticker
	allAt    time.Time
}

// NewHub creates a hub over the given adapter. If the adapter also
// streams, live ticker events are wired into the cache.
func NewHub(logger *zap.Logger, adapter exchange.Adapter) *Hub {
	h := &Hub{
		logger:  logger.Named("data"),
		adapter: adapter,
		tickers: gocache.New(tickerTTL, cleanupInterval),
		ohlcv:   gocache.New(ohlcvTTL, cleanupInterval),
	}
	if s, ok := adapter.(exchange.Streamer); ok {
		s.OnTicker(h.pushTicker)
	}
	return h
}

func (h *Hub) pushTicker(t types.Ticker) {
	h.tickers.Set(t.Symbol, t, tickerTTL)
}

// AllTickers returns the full 24h ticker snapshot, cached for one
// ticker TTL window.
func (h *Hub) AllTickers(ctx context.Context) ([]types.Ticker, error) {
	h.mu.RLock()
	if time.Since(h.allAt) < tickerTTL && h.allCache != nil {
		out := h.allCache
		h.mu.RUnlock()
		return out, nil
	}
	h.mu.RUnlock()

	tickers, err := h.adapter.FetchAllTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching tickers: %w", err)
	}

	h.mu.Lock()
	h.allCache = tickers
	h.allAt = time.Now()
	h.mu.Unlock()

	for _, t := range tickers {
		h.tickers.Set(t.Symbol, t, tickerTTL)
	}
	return tickers, nil
}

// Ticker returns the latest snapshot for one symbol, refreshing the
// full list when the cached entry has expired.
func (h *Hub) Ticker(ctx context.Context, symbol string) (types.Ticker, error) {
	if v, ok := h.tickers.Get(symbol); ok {
		return v.(types.Ticker), nil
	}
	if _, err := h.AllTickers(ctx); err != nil {
		return types.Ticker{}, err
	}
	if v, ok := h.tickers.Get(symbol); ok {
		return v.(types.Ticker), nil
	}
	return types.Ticker{}, fmt.Errorf("no ticker for %s", symbol)
}

// Price returns the last traded price for a symbol.
func (h *Hub) Price(ctx context.Context, symbol string) (float64, error) {
	t, err := h.Ticker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return t.Last, nil
}

// Candles returns up to limit candles for symbol at tf, oldest first.
// A cached series is reused while it covers the requested length and
// its newest candle is still the current one.
func (h *Hub) Candles(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Candle, error) {
	key := candleKey(symbol, tf)
	if v, ok := h.ohlcv.Get(key); ok {
		series := v.([]types.Candle)
		if len(series) >= limit && seriesCurrent(series, tf) {
			return series[len(series)-limit:], nil
		}
	}

	series, err := h.adapter.FetchOHLCV(ctx, symbol, tf, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching %s %s candles: %w", symbol, tf, err)
	}
	h.ohlcv.Set(key, series, candleTTL(tf))
	return series, nil
}

// Invalidate drops cached candles for a symbol, forcing the next read
// to refetch. Used after fills so exit checks see fresh data.
func (h *Hub) Invalidate(symbol string) {
	for _, tf := range []types.Timeframe{types.Timeframe1m, types.Timeframe5m, types.Timeframe15m, types.Timeframe1h, types.Timeframe4h} {
		h.ohlcv.Delete(candleKey(symbol, tf))
	}
	h.tickers.Delete(symbol)
}

func candleKey(symbol string, tf types.Timeframe) string {
	return symbol + ":" + string(tf)
}

// candleTTL bounds the cache TTL by the candle interval so short
// timeframes refresh faster than the blanket TTL.
func candleTTL(tf types.Timeframe) time.Duration {
	d := tf.Duration()
	if d < ohlcvTTL {
		return d
	}
	return ohlcvTTL
}

// seriesCurrent reports whether the newest candle in the series is
// still the open candle for tf.
func seriesCurrent(series []types.Candle, tf types.Timeframe) bool {
	if len(series) == 0 {
		return false
	}
	last := series[len(series)-1]
	return time.Since(last.OpenTime) < tf.Duration()
}
