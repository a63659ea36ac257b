// Package types provides shared type definitions for the trading bot.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a trade.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Timeframe represents a candle interval.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the wall-clock length of one candle.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// TrendDirection represents the per-timeframe trend.
type TrendDirection string

const (
	TrendUp       TrendDirection = "UP"
	TrendDown     TrendDirection = "DOWN"
	TrendSideways TrendDirection = "SIDEWAYS"
)

// Matches reports whether the trend agrees with a trade side.
func (d TrendDirection) Matches(side Side) bool {
	return (d == TrendUp && side == SideLong) || (d == TrendDown && side == SideShort)
}

// Contradicts reports whether the trend opposes a trade side.
func (d TrendDirection) Contradicts(side Side) bool {
	return (d == TrendDown && side == SideLong) || (d == TrendUp && side == SideShort)
}

// TrendStrength buckets the EMA spread relative to price.
type TrendStrength string

const (
	StrengthStrong   TrendStrength = "STRONG"
	StrengthModerate TrendStrength = "MODERATE"
	StrengthWeak     TrendStrength = "WEAK"
)

// Regime is the qualitative market state.
type Regime string

const (
	RegimeTrending Regime = "TRENDING"
	RegimeSideways Regime = "SIDEWAYS"
	RegimeChoppy   Regime = "CHOPPY"
	RegimeHighVol  Regime = "HIGH_VOL"
	RegimeLowVol   Regime = "LOW_VOL"
)

// Candle is a single OHLCV bar. The most recent candle of a series may
// still be open; all earlier candles are immutable.
type Candle struct {
	OpenTime time.Time `json:"openTime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Ticker is a 24h rolling market snapshot for one symbol.
type Ticker struct {
	Symbol            string  `json:"symbol"`
	Last              float64 `json:"last"`
	QuoteVolume24h    float64 `json:"quoteVolume24h"`
	PriceChangePct24h float64 `json:"priceChangePct24h"`
	High24h           float64 `json:"high24h"`
	Low24h            float64 `json:"low24h"`
}

// OrderResult is the normalized response to an order placement.
type OrderResult struct {
	OrderID       string          `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgFillPrice  decimal.Decimal `json:"avgFillPrice"`
	Status        string          `json:"status"`
	Time          time.Time       `json:"time"`
}

// ExchangePosition is the exchange's authoritative view of an open
// position, used for reconciliation.
type ExchangePosition struct {
	Symbol           string          `json:"symbol"`
	Side             Side            `json:"side"`
	Quantity         decimal.Decimal `json:"quantity"`
	EntryPrice       float64         `json:"entryPrice"`
	MarkPrice        float64         `json:"markPrice"`
	UnrealizedPnlUsd float64         `json:"unrealizedPnlUsd"`
	Leverage         int             `json:"leverage"`
}

// CorrelationGroups maps group names to their member symbols.
// Membership is static configuration.
type CorrelationGroups map[string][]string

// GroupOf returns the correlation group containing symbol, or "".
func (g CorrelationGroups) GroupOf(symbol string) string {
	for name, members := range g {
		for _, m := range members {
			if m == symbol {
				return name
			}
		}
	}
	return ""
}
