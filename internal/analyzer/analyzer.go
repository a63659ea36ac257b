// Package analyzer evaluates candidate symbols across multiple
// timeframes and produces trade proposals with a confidence score.
package analyzer

import (
	"context"
	"fmt"

	talib "github.com/markcheno/go-talib"
	"github.com/quantfleet/unified-trading-bot/internal/data"
	"github.com/quantfleet/unified-trading-bot/internal/indicators"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"go.uber.org/zap"
)

const (
	fetchLimit = 150

	btcOppositionPenalty = 20.0
	btcPanicATRFactor    = 2.0

	// Preliminary stop placed at 2.5 ATR; the stops package recomputes
	// the final distance with the regime multiplier.
	proposalStopATR   = 2.5
	proposalRewardRR  = 2.0
)

// MarketContext aggregates everything the gate and sizer need to judge
// a proposal.
type MarketContext struct {
	Regime         types.Regime
	Alignment      Alignment
	Levels         Levels
	Views          map[types.Timeframe]TimeframeView
	BaseCandles    []types.Candle
	BTCAdjustment  float64
	PauseAltcoins  bool
	VolumeRatio    float64
	RSI15m         float64
	UseTightTrail  bool
}

// Proposal is a tentative trade emitted by the analyzer.
type Proposal struct {
	Symbol     string
	Side       types.Side
	EntryPrice float64
	Confidence float64
	StopLoss   float64
	TakeProfit float64
	ATR        float64
	Context    *MarketContext
}

// Config tunes the analyzer.
type Config struct {
	BaseTimeframe   types.Timeframe
	HigherTimeframes [2]types.Timeframe // mid, high
	MicroTimeframes []types.Timeframe
	ReferenceSymbol string
	MinConfidence   float64
}

// DefaultConfig matches the production timeframe set.
func DefaultConfig() Config {
	return Config{
		BaseTimeframe:    types.Timeframe15m,
		HigherTimeframes: [2]types.Timeframe{types.Timeframe1h, types.Timeframe4h},
		MicroTimeframes:  []types.Timeframe{types.Timeframe5m, types.Timeframe1m},
		ReferenceSymbol:  "BTCUSDT",
		MinConfidence:    60,
	}
}

// Analyzer computes multi-timeframe views over the data hub.
type Analyzer struct {
	logger *zap.Logger
	hub    *data.Hub
	config Config
}

// New creates an analyzer.
func New(logger *zap.Logger, hub *data.Hub, config Config) *Analyzer {
	return &Analyzer{
		logger: logger.Named("analyzer"),
		hub:    hub,
		config: config,
	}
}

// BaseTimeframe returns the timeframe proposals are anchored to.
func (a *Analyzer) BaseTimeframe() types.Timeframe { return a.config.BaseTimeframe }

// Analyze evaluates one symbol. A nil proposal with nil error means no
// actionable signal; errors are infrastructure failures only.
func (a *Analyzer) Analyze(ctx context.Context, symbol string) (*Proposal, error) {
	baseCandles, err := a.hub.Candles(ctx, symbol, a.config.BaseTimeframe, fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", symbol, err)
	}
	baseSeries := indicators.NewSeries(baseCandles)
	baseSnap, err := indicators.Compute(baseSeries)
	if err != nil {
		a.logger.Debug("insufficient base history", zap.String("symbol", symbol), zap.Error(err))
		return nil, nil
	}
	baseView := NewTimeframeView(a.config.BaseTimeframe, baseSnap)

	midView, err := a.viewFor(ctx, symbol, a.config.HigherTimeframes[0])
	if err != nil {
		return nil, err
	}
	highView, err := a.viewFor(ctx, symbol, a.config.HigherTimeframes[1])
	if err != nil {
		return nil, err
	}
	if midView == nil || highView == nil {
		return nil, nil
	}

	align := ComputeAlignment(*highView, *midView, baseView)
	if align.Direction == types.TrendSideways {
		return nil, nil
	}
	side := types.SideLong
	if align.Direction == types.TrendDown {
		side = types.SideShort
	}

	mc := &MarketContext{
		Regime:      ClassifyRegime(baseSeries, baseSnap),
		Alignment:   align,
		Levels:      DetectLevels(baseCandles),
		BaseCandles: baseCandles,
		VolumeRatio: baseSnap.VolumeRatio,
		RSI15m:      baseSnap.RSI,
		Views: map[types.Timeframe]TimeframeView{
			a.config.BaseTimeframe:      baseView,
			a.config.HigherTimeframes[0]: *midView,
			a.config.HigherTimeframes[1]: *highView,
		},
	}
	a.addMicroViews(ctx, symbol, mc)

	if err := a.applyReference(ctx, symbol, side, mc); err != nil {
		return nil, err
	}
	if mc.PauseAltcoins && symbol != a.config.ReferenceSymbol {
		a.logger.Info("reference volatility veto", zap.String("symbol", symbol))
		return nil, nil
	}

	confidence := clamp(indicatorScore(side, baseView, *midView)+align.Net()+mc.BTCAdjustment, 0, 100)
	if confidence < a.config.MinConfidence {
		a.logger.Debug("below confidence floor",
			zap.String("symbol", symbol),
			zap.Float64("confidence", confidence),
		)
		return nil, nil
	}

	entry := baseSnap.Close
	stopDist := proposalStopATR * baseSnap.ATR
	stop, tp := entry-stopDist, entry+proposalRewardRR*stopDist
	if side == types.SideShort {
		stop, tp = entry+stopDist, entry-proposalRewardRR*stopDist
	}

	return &Proposal{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entry,
		Confidence: confidence,
		StopLoss:   stop,
		TakeProfit: tp,
		ATR:        baseSnap.ATR,
		Context:    mc,
	}, nil
}

func (a *Analyzer) viewFor(ctx context.Context, symbol string, tf types.Timeframe) (*TimeframeView, error) {
	candles, err := a.hub.Candles(ctx, symbol, tf, fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s %s: %w", symbol, tf, err)
	}
	snap, err := indicators.Compute(indicators.NewSeries(candles))
	if err != nil {
		return nil, nil
	}
	v := NewTimeframeView(tf, snap)
	return &v, nil
}

// addMicroViews attaches 5m/1m views when available. Micro data is
// optional; fetch failures are ignored.
func (a *Analyzer) addMicroViews(ctx context.Context, symbol string, mc *MarketContext) {
	for _, tf := range a.config.MicroTimeframes {
		v, err := a.viewFor(ctx, symbol, tf)
		if err != nil || v == nil {
			continue
		}
		mc.Views[tf] = *v
	}
}

// applyReference compares the candidate against the reference symbol's
// 4h trend and volatility.
func (a *Analyzer) applyReference(ctx context.Context, symbol string, side types.Side, mc *MarketContext) error {
	ref := a.config.ReferenceSymbol
	if ref == "" || symbol == ref {
		return nil
	}

	refCandles, err := a.hub.Candles(ctx, ref, types.Timeframe4h, fetchLimit)
	if err != nil {
		return fmt.Errorf("fetching reference %s: %w", ref, err)
	}
	refSeries := indicators.NewSeries(refCandles)
	refSnap, err := indicators.Compute(refSeries)
	if err != nil {
		return nil
	}
	refView := NewTimeframeView(types.Timeframe4h, refSnap)

	if refView.Direction.Contradicts(side) && refView.Strength == types.StrengthStrong {
		mc.BTCAdjustment = -btcOppositionPenalty
	}

	refATRAvg := tailMean(talib.Atr(refSeries.High, refSeries.Low, refSeries.Close, indicators.ATRPeriod), regimeLookback)
	if refATRAvg > 0 && refSnap.ATR > btcPanicATRFactor*refATRAvg {
		mc.PauseAltcoins = true
	}
	return nil
}

// indicatorScore is the weighted bucket score, summing to 100 when
// every bucket fully confirms the side.
func indicatorScore(side types.Side, base, mid TimeframeView) float64 {
	score := 0.0

	// EMA stack (30): full credit for a complete stack in the trade
	// direction on both timeframes.
	score += emaBucket(side, base) * 0.6
	score += emaBucket(side, mid) * 0.4

	// RSI (20): reward momentum with room to run.
	score += rsiBucket(side, base.RSI)

	// MACD (20): line vs signal in the trade direction.
	score += macdBucket(side, base)

	// Volume (15): surges confirm.
	switch {
	case base.VolumeRatio >= 2.0:
		score += 15
	case base.VolumeRatio >= 1.5:
		score += 10
	case base.VolumeRatio >= 1.0:
		score += 5
	}

	// Price action (15): close leading the fast EMA.
	if side == types.SideLong && base.Close > base.EMA9 {
		score += 15
	} else if side == types.SideShort && base.Close < base.EMA9 {
		score += 15
	}

	return score
}

func emaBucket(side types.Side, v TimeframeView) float64 {
	if side == types.SideLong {
		switch {
		case v.EMA9 > v.EMA21 && v.EMA21 > v.EMA50:
			return 30
		case v.EMA9 > v.EMA21:
			return 18
		}
		return 0
	}
	switch {
	case v.EMA9 < v.EMA21 && v.EMA21 < v.EMA50:
		return 30
	case v.EMA9 < v.EMA21:
		return 18
	}
	return 0
}

func rsiBucket(side types.Side, rsi float64) float64 {
	if side == types.SideLong {
		switch {
		case rsi >= 50 && rsi <= 65:
			return 20
		case rsi > 40 && rsi < 70:
			return 12
		}
		return 0
	}
	switch {
	case rsi >= 35 && rsi <= 50:
		return 20
	case rsi > 30 && rsi < 60:
		return 12
	}
	return 0
}

func macdBucket(side types.Side, v TimeframeView) float64 {
	if side == types.SideLong {
		switch {
		case v.MACD > v.MACDSignal && v.MACDHist > 0:
			return 20
		case v.MACD > v.MACDSignal:
			return 12
		}
		return 0
	}
	switch {
	case v.MACD < v.MACDSignal && v.MACDHist < 0:
		return 20
	case v.MACD < v.MACDSignal:
		return 12
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
