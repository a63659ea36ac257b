package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	futuresBaseURL        = "https://fapi.binance.com"
	futuresTestnetBaseURL = "https://testnet.binancefuture.com"
	futuresWSURL          = "wss://fstream.binance.com/ws"
	futuresTestnetWSURL   = "wss://stream.binancefuture.com/ws"

	requestTimeout = 5 * time.Second
	minRequestGap  = 200 * time.Millisecond
)

// BinanceFutures is the USD-M futures adapter.
type BinanceFutures struct {
	logger     *zap.Logger
	apiKey     string
	apiSecret  string
	baseURL    string
	wsURL      string
	httpClient *http.Client
	gate       *rateGate

	stream *tickerStream
}

// BinanceConfig configures the futures adapter.
type BinanceConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// NewBinanceFutures creates the adapter. Credentials are verified on the
// first signed call, not here.
func NewBinanceFutures(logger *zap.Logger, cfg BinanceConfig) *BinanceFutures {
	base, ws := futuresBaseURL, futuresWSURL
	if cfg.Testnet {
		base, ws = futuresTestnetBaseURL, futuresTestnetWSURL
	}
	b := &BinanceFutures{
		logger:     logger.Named("binance-futures"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    base,
		wsURL:      ws,
		httpClient: &http.Client{Timeout: requestTimeout},
		gate:       newRateGate(minRequestGap),
	}
	b.stream = newTickerStream(logger, ws)
	return b
}

// apiError is the Binance error envelope.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// request performs one HTTP call with rate limiting, timeout and error
// normalization. Signed requests carry an HMAC-SHA256 signature.
func (b *BinanceFutures) request(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if err := b.gate.wait(ctx); err != nil {
		return err
	}

	if params == nil {
		params = url.Values{}
	}
	if signed {
		if b.apiKey == "" || b.apiSecret == "" {
			return &Error{Kind: KindAuthFailure, Msg: "missing API credentials"}
		}
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", "5000")
		params.Set("signature", b.sign(params.Encode()))
	}

	reqURL := b.baseURL + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return classifyTransport(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		var ae apiError
		_ = json.Unmarshal(data, &ae)
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return classifyHTTP(resp.StatusCode, ae.Code, ae.Msg, retryAfter)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &Error{Kind: KindTransient, Msg: fmt.Sprintf("decoding %s response: %v", path, err), Err: err}
		}
	}
	return nil
}

func (b *BinanceFutures) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// FetchAllTickers returns the full 24h ticker snapshot.
func (b *BinanceFutures) FetchAllTickers(ctx context.Context) ([]types.Ticker, error) {
	var raw []struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		QuoteVolume        string `json:"quoteVolume"`
		PriceChangePercent string `json:"priceChangePercent"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
	}
	err := withRetry(ctx, b.logger, "fetchAllTickers", func() error {
		return b.request(ctx, http.MethodGet, "/fapi/v1/ticker/24hr", nil, false, &raw)
	})
	if err != nil {
		return nil, err
	}

	tickers := make([]types.Ticker, 0, len(raw))
	for _, r := range raw {
		tickers = append(tickers, types.Ticker{
			Symbol:            r.Symbol,
			Last:              parseFloat(r.LastPrice),
			QuoteVolume24h:    parseFloat(r.QuoteVolume),
			PriceChangePct24h: parseFloat(r.PriceChangePercent),
			High24h:           parseFloat(r.HighPrice),
			Low24h:            parseFloat(r.LowPrice),
		})
	}
	return tickers, nil
}

// FetchOHLCV returns up to limit candles for symbol at tf, oldest first.
// The final candle may still be open.
func (b *BinanceFutures) FetchOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(tf))
	params.Set("limit", strconv.Itoa(limit))

	var raw [][]any
	err := withRetry(ctx, b.logger, "fetchOHLCV", func() error {
		return b.request(ctx, http.MethodGet, "/fapi/v1/klines", params, false, &raw)
	})
	if err != nil {
		return nil, err
	}

	candles := make([]types.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		openTime, _ := k[0].(float64)
		candles = append(candles, types.Candle{
			OpenTime: time.UnixMilli(int64(openTime)).UTC(),
			Open:     parseFloat(asString(k[1])),
			High:     parseFloat(asString(k[2])),
			Low:      parseFloat(asString(k[3])),
			Close:    parseFloat(asString(k[4])),
			Volume:   parseFloat(asString(k[5])),
		})
	}
	return candles, nil
}

// FetchPositions returns the exchange's authoritative open positions.
func (b *BinanceFutures) FetchPositions(ctx context.Context) ([]types.ExchangePosition, error) {
	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
	}
	err := withRetry(ctx, b.logger, "fetchPositions", func() error {
		return b.request(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{}, true, &raw)
	})
	if err != nil {
		return nil, err
	}

	positions := make([]types.ExchangePosition, 0, len(raw))
	for _, r := range raw {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := types.SideLong
		if amt < 0 {
			side = types.SideShort
			amt = -amt
		}
		lev, _ := strconv.Atoi(r.Leverage)
		positions = append(positions, types.ExchangePosition{
			Symbol:           r.Symbol,
			Side:             side,
			Quantity:         decimal.NewFromFloat(amt),
			EntryPrice:       parseFloat(r.EntryPrice),
			MarkPrice:        parseFloat(r.MarkPrice),
			UnrealizedPnlUsd: parseFloat(r.UnRealizedProfit),
			Leverage:         lev,
		})
	}
	return positions, nil
}

// FetchBalanceUsd returns the available USDT balance.
func (b *BinanceFutures) FetchBalanceUsd(ctx context.Context) (float64, error) {
	var raw []struct {
		Asset   string `json:"asset"`
		Balance string `json:"balance"`
	}
	err := withRetry(ctx, b.logger, "fetchBalance", func() error {
		return b.request(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{}, true, &raw)
	})
	if err != nil {
		return 0, err
	}
	for _, r := range raw {
		if r.Asset == "USDT" {
			return parseFloat(r.Balance), nil
		}
	}
	return 0, nil
}

// SetLeverage sets the leverage for a symbol.
func (b *BinanceFutures) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return withRetry(ctx, b.logger, "setLeverage", func() error {
		return b.request(ctx, http.MethodPost, "/fapi/v1/leverage", params, true, nil)
	})
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	UpdateTime    int64  `json:"updateTime"`
}

func (b *BinanceFutures) placeOrder(ctx context.Context, params url.Values) (types.OrderResult, error) {
	params.Set("newClientOrderId", "qf-"+uuid.NewString()[:20])

	var resp orderResponse
	err := withRetry(ctx, b.logger, "placeOrder", func() error {
		return b.request(ctx, http.MethodPost, "/fapi/v1/order", params, true, &resp)
	})
	if err != nil {
		return types.OrderResult{}, err
	}

	qty, _ := decimal.NewFromString(resp.ExecutedQty)
	avg, _ := decimal.NewFromString(resp.AvgPrice)
	side := types.SideLong
	if params.Get("side") == "SELL" {
		side = types.SideShort
	}
	return types.OrderResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          side,
		Quantity:      qty,
		AvgFillPrice:  avg,
		Status:        resp.Status,
		Time:          time.UnixMilli(resp.UpdateTime).UTC(),
	}, nil
}

// PlaceMarketOrder submits a market order opening or extending a
// position on the given side.
func (b *BinanceFutures) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, quantity decimal.Decimal) (types.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", orderSide(side))
	params.Set("type", "MARKET")
	params.Set("quantity", quantity.String())
	return b.placeOrder(ctx, params)
}

// PlaceStopMarket submits a reduce-only stop-market order. side is the
// side of the position being protected; the order itself is opposite.
func (b *BinanceFutures) PlaceStopMarket(ctx context.Context, symbol string, side types.Side, stopPrice float64, quantity decimal.Decimal) (types.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", orderSide(side.Opposite()))
	params.Set("type", "STOP_MARKET")
	params.Set("stopPrice", strconv.FormatFloat(stopPrice, 'f', -1, 64))
	params.Set("quantity", quantity.String())
	params.Set("reduceOnly", "true")
	return b.placeOrder(ctx, params)
}

// CancelOrder cancels a single open order.
func (b *BinanceFutures) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	return withRetry(ctx, b.logger, "cancelOrder", func() error {
		return b.request(ctx, http.MethodDelete, "/fapi/v1/order", params, true, nil)
	})
}

// CloseAllPositions market-closes the position on symbol, or on every
// symbol when symbol is empty.
func (b *BinanceFutures) CloseAllPositions(ctx context.Context, symbol string) error {
	positions, err := b.FetchPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		if _, err := b.PlaceMarketOrder(ctx, p.Symbol, p.Side.Opposite(), p.Quantity); err != nil {
			return fmt.Errorf("closing %s: %w", p.Symbol, err)
		}
	}
	return nil
}

// SubscribeTicker subscribes the live stream to a symbol's ticker.
func (b *BinanceFutures) SubscribeTicker(symbol string) error {
	return b.stream.subscribe(symbol)
}

// SubscribeUserEvents opens the user-data stream for fills and
// liquidations. Reconnection is handled by the stream.
func (b *BinanceFutures) SubscribeUserEvents() error {
	return b.stream.start()
}

// OnTicker registers the live ticker callback.
func (b *BinanceFutures) OnTicker(fn func(types.Ticker)) {
	b.stream.onTicker(fn)
}

// Close tears down the stream connection.
func (b *BinanceFutures) Close() {
	b.stream.stop()
}

func orderSide(s types.Side) string {
	if s == types.SideLong {
		return "BUY"
	}
	return "SELL"
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
