// Package exchange provides the abstract exchange adapter contract, its
// Binance USD-M futures implementation and a paper-trading client.
package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"github.com/shopspring/decimal"
)

// Adapter is the contract every engine trades through. Errors returned
// by implementations are normalized into *Error.
type Adapter interface {
	FetchAllTickers(ctx context.Context) ([]types.Ticker, error)
	FetchOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Candle, error)
	FetchPositions(ctx context.Context) ([]types.ExchangePosition, error)
	FetchBalanceUsd(ctx context.Context) (float64, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, quantity decimal.Decimal) (types.OrderResult, error)
	PlaceStopMarket(ctx context.Context, symbol string, side types.Side, stopPrice float64, quantity decimal.Decimal) (types.OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CloseAllPositions(ctx context.Context, symbol string) error
}

// Streamer is the optional live-stream surface of an adapter.
type Streamer interface {
	SubscribeTicker(symbol string) error
	SubscribeUserEvents() error
	OnTicker(fn func(types.Ticker))
}

// rateGate enforces a minimum spacing between outbound requests.
// The exchange adapter is shared per engine and internally rate-limited.
type rateGate struct {
	mu       sync.Mutex
	minGap   time.Duration
	lastCall time.Time
}

func newRateGate(minGap time.Duration) *rateGate {
	return &rateGate{minGap: minGap}
}

// wait blocks until the next request is allowed or ctx is done.
func (g *rateGate) wait(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	next := g.lastCall.Add(g.minGap)
	if next.Before(now) {
		next = now
	}
	g.lastCall = next
	g.mu.Unlock()

	d := time.Until(next)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
