package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Paper is an in-memory adapter that fills market orders at the last
// seeded price. It backs paper-trading mode and the engine tests.
type Paper struct {
	logger *zap.Logger

	mu         sync.Mutex
	balanceUsd float64
	tickers    map[string]types.Ticker
	candles    map[string]map[types.Timeframe][]types.Candle
	positions  map[string]types.ExchangePosition
	leverage   map[string]int
	stops      map[string]types.OrderResult
	nextOrder  int64

	onTicker func(types.Ticker)

	// FailNext, when set, fails the next order call with the given
	// error and clears itself. Used to test rejection paths.
	FailNext error
}

// NewPaper creates a paper adapter with the given starting balance.
func NewPaper(logger *zap.Logger, balanceUsd float64) *Paper {
	return &Paper{
		logger:     logger.Named("paper"),
		balanceUsd: balanceUsd,
		tickers:    make(map[string]types.Ticker),
		candles:    make(map[string]map[types.Timeframe][]types.Candle),
		positions:  make(map[string]types.ExchangePosition),
		leverage:   make(map[string]int),
		stops:      make(map[string]types.OrderResult),
	}
}

// SeedTicker installs or updates a ticker snapshot and pushes it to
// the live-ticker subscriber, mirroring a websocket update.
func (p *Paper) SeedTicker(t types.Ticker) {
	p.mu.Lock()
	p.tickers[t.Symbol] = t
	if pos, ok := p.positions[t.Symbol]; ok {
		pos.MarkPrice = t.Last
		p.positions[t.Symbol] = pos
	}
	cb := p.onTicker
	p.mu.Unlock()
	if cb != nil {
		cb(t)
	}
}

// SubscribeTicker is a no-op; every seeded ticker is already pushed.
func (p *Paper) SubscribeTicker(string) error { return nil }

// SubscribeUserEvents is a no-op for the paper client.
func (p *Paper) SubscribeUserEvents() error { return nil }

// OnTicker registers the live ticker callback.
func (p *Paper) OnTicker(fn func(types.Ticker)) {
	p.mu.Lock()
	p.onTicker = fn
	p.mu.Unlock()
}

// SeedCandles installs a candle series for a symbol and timeframe.
func (p *Paper) SeedCandles(symbol string, tf types.Timeframe, candles []types.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byTF, ok := p.candles[symbol]
	if !ok {
		byTF = make(map[types.Timeframe][]types.Candle)
		p.candles[symbol] = byTF
	}
	byTF[tf] = candles
}

func (p *Paper) FetchAllTickers(_ context.Context) ([]types.Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Ticker, 0, len(p.tickers))
	for _, t := range p.tickers {
		out = append(out, t)
	}
	return out, nil
}

func (p *Paper) FetchOHLCV(_ context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	series := p.candles[symbol][tf]
	if series == nil {
		return nil, &Error{Kind: KindRejected, Msg: fmt.Sprintf("no candles seeded for %s %s", symbol, tf)}
	}
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]types.Candle, len(series))
	copy(out, series)
	return out, nil
}

func (p *Paper) FetchPositions(_ context.Context) ([]types.ExchangePosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.ExchangePosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (p *Paper) FetchBalanceUsd(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balanceUsd, nil
}

func (p *Paper) SetLeverage(_ context.Context, symbol string, leverage int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage[symbol] = leverage
	return nil
}

func (p *Paper) PlaceMarketOrder(_ context.Context, symbol string, side types.Side, quantity decimal.Decimal) (types.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailNext != nil {
		err := p.FailNext
		p.FailNext = nil
		return types.OrderResult{}, err
	}

	t, ok := p.tickers[symbol]
	if !ok {
		return types.OrderResult{}, &Error{Kind: KindRejected, Msg: "unknown symbol " + symbol}
	}
	price := decimal.NewFromFloat(t.Last)

	if pos, ok := p.positions[symbol]; ok && pos.Side != side {
		// Reducing or closing the existing position.
		remaining := pos.Quantity.Sub(quantity)
		if remaining.Sign() <= 0 {
			delete(p.positions, symbol)
			delete(p.stops, symbol)
		} else {
			pos.Quantity = remaining
			p.positions[symbol] = pos
		}
	} else {
		qty := quantity
		entry := t.Last
		if ok {
			qty = pos.Quantity.Add(quantity)
			entry = pos.EntryPrice
		}
		p.positions[symbol] = types.ExchangePosition{
			Symbol:     symbol,
			Side:       side,
			Quantity:   qty,
			EntryPrice: entry,
			MarkPrice:  t.Last,
			Leverage:   p.leverageFor(symbol),
		}
	}

	p.nextOrder++
	return types.OrderResult{
		OrderID:      strconv.FormatInt(p.nextOrder, 10),
		Symbol:       symbol,
		Side:         side,
		Quantity:     quantity,
		AvgFillPrice: price,
		Status:       "FILLED",
		Time:         time.Now().UTC(),
	}, nil
}

func (p *Paper) PlaceStopMarket(_ context.Context, symbol string, side types.Side, stopPrice float64, quantity decimal.Decimal) (types.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailNext != nil {
		err := p.FailNext
		p.FailNext = nil
		return types.OrderResult{}, err
	}

	p.nextOrder++
	res := types.OrderResult{
		OrderID:      strconv.FormatInt(p.nextOrder, 10),
		Symbol:       symbol,
		Side:         side.Opposite(),
		Quantity:     quantity,
		AvgFillPrice: decimal.NewFromFloat(stopPrice),
		Status:       "NEW",
		Time:         time.Now().UTC(),
	}
	p.stops[symbol] = res
	return res, nil
}

func (p *Paper) CancelOrder(_ context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.stops[symbol]; ok && s.OrderID == orderID {
		delete(p.stops, symbol)
		return nil
	}
	return &Error{Kind: KindRejected, Msg: "unknown order " + orderID}
}

func (p *Paper) CloseAllPositions(_ context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if symbol != "" {
		delete(p.positions, symbol)
		delete(p.stops, symbol)
		return nil
	}
	p.positions = make(map[string]types.ExchangePosition)
	p.stops = make(map[string]types.OrderResult)
	return nil
}

// OpenStop returns the active stop order for a symbol, if one exists.
func (p *Paper) OpenStop(symbol string) (types.OrderResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stops[symbol]
	return s, ok
}

func (p *Paper) leverageFor(symbol string) int {
	if lev, ok := p.leverage[symbol]; ok {
		return lev
	}
	return 1
}
