// Package scanner ranks the tradable universe by short-term momentum.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/quantfleet/unified-trading-bot/internal/data"
	"github.com/quantfleet/unified-trading-bot/internal/indicators"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"go.uber.org/zap"
)

const (
	volumeLookback = 20
	// candles fetched per symbol: lookback average + current + change window
	candleFetch = volumeLookback + 6
)

// Candidate is one ranked scan result.
type Candidate struct {
	Symbol           string
	Price            float64
	QuoteVolume24h   float64
	PriceChange5mPct float64
	VolumeRatio      float64
	MomentumScore    float64
}

// Config tunes the scanner.
type Config struct {
	MinVolumeUsd    float64
	TopN            int
	ExcludePatterns []string // substring matches, e.g. leveraged-token suffixes
	QuoteSuffix     string   // only symbols with this suffix are considered
}

// DefaultConfig returns the production scan parameters.
func DefaultConfig() Config {
	return Config{
		MinVolumeUsd:    10_000_000,
		TopN:            20,
		ExcludePatterns: []string{"UP", "DOWN", "BULL", "BEAR"},
		QuoteSuffix:     "USDT",
	}
}

// Scanner produces the per-cycle candidate list.
type Scanner struct {
	logger *zap.Logger
	hub    *data.Hub
	config Config

	isBlacklisted func(symbol string) bool
}

// New creates a scanner. blacklisted may be nil.
func New(logger *zap.Logger, hub *data.Hub, config Config, blacklisted func(string) bool) *Scanner {
	if blacklisted == nil {
		blacklisted = func(string) bool { return false }
	}
	return &Scanner{
		logger:        logger.Named("scanner"),
		hub:           hub,
		config:        config,
		isBlacklisted: blacklisted,
	}
}

// Scan ranks the universe by momentum score and returns the top N.
// Output is deterministic for identical inputs: ties on score break
// toward the higher volume ratio, then lexicographic symbol order.
func (s *Scanner) Scan(ctx context.Context) ([]Candidate, error) {
	tickers, err := s.hub.AllTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var candidates []Candidate
	for _, t := range tickers {
		if !s.eligible(t) {
			continue
		}
		c, ok := s.score(ctx, t)
		if !ok {
			continue
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.MomentumScore != b.MomentumScore {
			return a.MomentumScore > b.MomentumScore
		}
		if a.VolumeRatio != b.VolumeRatio {
			return a.VolumeRatio > b.VolumeRatio
		}
		return a.Symbol < b.Symbol
	})

	if len(candidates) > s.config.TopN {
		candidates = candidates[:s.config.TopN]
	}
	s.logger.Debug("scan complete",
		zap.Int("universe", len(tickers)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

func (s *Scanner) eligible(t types.Ticker) bool {
	if s.config.QuoteSuffix != "" && !strings.HasSuffix(t.Symbol, s.config.QuoteSuffix) {
		return false
	}
	if t.QuoteVolume24h < s.config.MinVolumeUsd {
		return false
	}
	base := strings.TrimSuffix(t.Symbol, s.config.QuoteSuffix)
	for _, pat := range s.config.ExcludePatterns {
		if strings.HasSuffix(base, pat) {
			return false
		}
	}
	return !s.isBlacklisted(t.Symbol)
}

// score computes the momentum score from 5m candles. Symbols without
// enough history for the volume average are excluded.
func (s *Scanner) score(ctx context.Context, t types.Ticker) (Candidate, bool) {
	candles, err := s.hub.Candles(ctx, t.Symbol, types.Timeframe5m, candleFetch)
	if err != nil {
		s.logger.Debug("candles unavailable", zap.String("symbol", t.Symbol), zap.Error(err))
		return Candidate{}, false
	}
	if len(candles) < volumeLookback+2 {
		return Candidate{}, false
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	change := indicators.PriceChangePct(closes, 1)
	ratio := indicators.VolumeRatio(volumes, volumeLookback)

	return Candidate{
		Symbol:           t.Symbol,
		Price:            t.Last,
		QuoteVolume24h:   t.QuoteVolume24h,
		PriceChange5mPct: change,
		VolumeRatio:      ratio,
		MomentumScore:    ratio * abs(change),
	}, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
