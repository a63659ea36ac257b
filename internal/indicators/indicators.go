// Package indicators computes the technical indicators the analyzer
// consumes. The heavy math is delegated to go-talib; only the
// volume-ratio and VWAP helpers are local because talib has no
// equivalent with the semantics the analyzer needs.
package indicators

import (
	"errors"
	"fmt"

	talib "github.com/markcheno/go-talib"
	"github.com/quantfleet/unified-trading-bot/pkg/types"
)

// ErrInsufficientData is returned when a series is too short for the
// requested indicator lookback.
var ErrInsufficientData = errors.New("insufficient candle data")

// Default lookbacks used across the analyzer.
const (
	EMAFast = 9
	EMAMid  = 21
	EMASlow = 50

	RSIPeriod  = 14
	ATRPeriod  = 14
	ADXPeriod  = 14
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9

	VolumeLookback = 20

	// MinCandles is the series length every multi-indicator consumer
	// should request. EMA50 needs warmup beyond its period to converge.
	MinCandles = 100
)

// Series is a candle series split into parallel slices, the layout
// talib expects.
type Series struct {
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// NewSeries converts candles (oldest first) into a Series.
func NewSeries(candles []types.Candle) Series {
	s := Series{
		High:   make([]float64, len(candles)),
		Low:    make([]float64, len(candles)),
		Close:  make([]float64, len(candles)),
		Volume: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.High[i] = c.High
		s.Low[i] = c.Low
		s.Close[i] = c.Close
		s.Volume[i] = c.Volume
	}
	return s
}

func (s Series) Len() int { return len(s.Close) }

// Snapshot holds the latest value of every indicator the analyzer
// reads for one timeframe.
type Snapshot struct {
	Close float64

	EMA9  float64
	EMA21 float64
	EMA50 float64

	RSI float64

	MACD       float64
	MACDSignal float64
	MACDHist   float64

	ATR float64
	ADX float64

	VolumeRatio float64
}

// Compute evaluates the full indicator set on a series.
func Compute(s Series) (Snapshot, error) {
	if s.Len() < MinCandles {
		return Snapshot{}, fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientData, s.Len(), MinCandles)
	}

	ema9 := talib.Ema(s.Close, EMAFast)
	ema21 := talib.Ema(s.Close, EMAMid)
	ema50 := talib.Ema(s.Close, EMASlow)
	rsi := talib.Rsi(s.Close, RSIPeriod)
	macd, signal, hist := talib.Macd(s.Close, MACDFast, MACDSlow, MACDSignal)
	atr := talib.Atr(s.High, s.Low, s.Close, ATRPeriod)
	adx := talib.Adx(s.High, s.Low, s.Close, ADXPeriod)

	n := s.Len() - 1
	return Snapshot{
		Close:       s.Close[n],
		EMA9:        ema9[n],
		EMA21:       ema21[n],
		EMA50:       ema50[n],
		RSI:         rsi[n],
		MACD:        macd[n],
		MACDSignal:  signal[n],
		MACDHist:    hist[n],
		ATR:         atr[n],
		ADX:         adx[n],
		VolumeRatio: VolumeRatio(s.Volume, VolumeLookback),
	}, nil
}

// VolumeRatio returns the latest volume divided by the mean of the
// preceding lookback volumes. The current bar is excluded from the
// mean so a surge measures against its own history.
func VolumeRatio(volume []float64, lookback int) float64 {
	if len(volume) < lookback+1 {
		return 1.0
	}
	n := len(volume) - 1
	sum := 0.0
	for _, v := range volume[n-lookback : n] {
		sum += v
	}
	mean := sum / float64(lookback)
	if mean <= 0 {
		return 1.0
	}
	return volume[n] / mean
}

// VWAP returns the volume-weighted average price over the last
// lookback candles.
func VWAP(candles []types.Candle, lookback int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if lookback > len(candles) {
		lookback = len(candles)
	}
	var pvSum, vSum float64
	for _, c := range candles[len(candles)-lookback:] {
		typical := (c.High + c.Low + c.Close) / 3
		pvSum += typical * c.Volume
		vSum += c.Volume
	}
	if vSum <= 0 {
		return 0
	}
	return pvSum / vSum
}

// PriceChangePct returns the percentage change between the close n
// bars ago and the latest close.
func PriceChangePct(closes []float64, n int) float64 {
	if len(closes) < n+1 {
		return 0
	}
	prev := closes[len(closes)-1-n]
	if prev == 0 {
		return 0
	}
	return (closes[len(closes)-1] - prev) / prev * 100
}
