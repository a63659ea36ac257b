package indicators

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/quantfleet/unified-trading-bot/pkg/types"
)

// trendingCandles builds a steadily rising series with constant volume.
func trendingCandles(n int, start, step float64) []types.Candle {
	out := make([]types.Candle, n)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		price := start + float64(i)*step
		out[i] = types.Candle{
			OpenTime: ts.Add(time.Duration(i) * 15 * time.Minute),
			Open:     price - step/2,
			High:     price + step,
			Low:      price - step,
			Close:    price,
			Volume:   1000,
		}
	}
	return out
}

func TestComputeRequiresWarmup(t *testing.T) {
	s := NewSeries(trendingCandles(40, 100, 0.5))
	if _, err := Compute(s); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
}

func TestComputeUptrendOrdering(t *testing.T) {
	s := NewSeries(trendingCandles(150, 100, 0.5))
	snap, err := Compute(s)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	// In a persistent uptrend the fast EMA leads the slow ones.
	if !(snap.EMA9 > snap.EMA21 && snap.EMA21 > snap.EMA50) {
		t.Errorf("EMA ordering broken in uptrend: 9=%.2f 21=%.2f 50=%.2f", snap.EMA9, snap.EMA21, snap.EMA50)
	}
	if snap.RSI <= 50 {
		t.Errorf("RSI = %.2f in uptrend, want > 50", snap.RSI)
	}
	if snap.RSI > 100 {
		t.Errorf("RSI = %.2f out of range", snap.RSI)
	}
	if snap.MACD <= snap.MACDSignal {
		t.Errorf("MACD %.4f not above signal %.4f in uptrend", snap.MACD, snap.MACDSignal)
	}
	if snap.ATR <= 0 {
		t.Errorf("ATR = %.4f, want positive", snap.ATR)
	}
	if snap.ADX <= 25 {
		t.Errorf("ADX = %.2f in strong monotone trend, want > 25", snap.ADX)
	}
}

func TestVolumeRatioSurge(t *testing.T) {
	vol := make([]float64, 30)
	for i := range vol {
		vol[i] = 1000
	}
	vol[len(vol)-1] = 3000

	got := VolumeRatio(vol, 20)
	if math.Abs(got-3.0) > 1e-9 {
		t.Errorf("VolumeRatio = %v, want 3.0", got)
	}
}

func TestVolumeRatioShortSeries(t *testing.T) {
	if got := VolumeRatio([]float64{1, 2, 3}, 20); got != 1.0 {
		t.Errorf("short series ratio = %v, want neutral 1.0", got)
	}
}

func TestVWAPFlatSeries(t *testing.T) {
	candles := trendingCandles(30, 100, 0)
	got := VWAP(candles, 20)
	// With zero step all typical prices equal the close.
	if math.Abs(got-100) > 1e-9 {
		t.Errorf("VWAP = %v, want 100", got)
	}
}

func TestPriceChangePct(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104, 105}
	got := PriceChangePct(closes, 5)
	if math.Abs(got-5.0) > 1e-9 {
		t.Errorf("PriceChangePct = %v, want 5.0", got)
	}
	if got := PriceChangePct(closes[:2], 5); got != 0 {
		t.Errorf("short series change = %v, want 0", got)
	}
}
