package sizing

import (
	"errors"
	"testing"

	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"go.uber.org/zap"
)

func newSizer() *Sizer {
	return New(zap.NewNop(), DefaultConfig())
}

func inputs(confidence float64) Inputs {
	return Inputs{
		Confidence:   confidence,
		Regime:       types.RegimeTrending,
		Attenuation:  1.0,
		SizeCapPct:   100,
		AvailableUsd: 10000,
	}
}

func TestConfidenceTiers(t *testing.T) {
	cases := []struct {
		confidence float64
		wantPct    float64
		wantLev    int
	}{
		{95, 20, 8},
		{82, 18, 6},
		{75, 15, 5},
		{62, 12, 3},
	}
	for _, c := range cases {
		got, err := newSizer().Size(inputs(c.confidence))
		if err != nil {
			t.Fatalf("confidence %.0f: %v", c.confidence, err)
		}
		if got.SizePct != c.wantPct {
			t.Errorf("confidence %.0f sizePct = %v, want %v", c.confidence, got.SizePct, c.wantPct)
		}
		if got.Leverage != c.wantLev {
			t.Errorf("confidence %.0f leverage = %d, want %d", c.confidence, got.Leverage, c.wantLev)
		}
	}
}

func TestRejectBelowTierFloor(t *testing.T) {
	_, err := newSizer().Size(inputs(55))
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("err = %v, want ErrBelowMinimum", err)
	}
}

func TestAttenuationThenClamp(t *testing.T) {
	in := inputs(82)
	in.Attenuation = 0.5
	got, err := newSizer().Size(in)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	// 18% × 0.5 = 9%, inside the clamp band.
	if got.SizePct != 9 {
		t.Errorf("sizePct = %v, want 9", got.SizePct)
	}

	in.Attenuation = 0.3
	got, _ = newSizer().Size(in)
	// 18% × 0.3 = 5.4%, clamped up to the 8% floor.
	if got.SizePct != 8 {
		t.Errorf("sizePct = %v, want clamp floor 8", got.SizePct)
	}
}

func TestKellyGuard(t *testing.T) {
	in := inputs(95)
	in.ClosedTrades = 15
	in.WinRate = 0.6
	got, err := newSizer().Size(in)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	// kelly = 0.6 - 0.4/2 = 0.4; cap = 0.25 × 40 = 10%.
	if got.SizePct != 10 {
		t.Errorf("sizePct = %v, want Kelly cap 10", got.SizePct)
	}
}

func TestKellyGuardLowWinRate(t *testing.T) {
	in := inputs(95)
	in.ClosedTrades = 15
	in.WinRate = 0.3
	got, err := newSizer().Size(in)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	// kelly = 0.3 - 0.7/2 < 0, cap 0, clamped up to the floor.
	if got.SizePct != 8 {
		t.Errorf("sizePct = %v, want floor 8", got.SizePct)
	}
}

func TestKellySkippedWithoutHistory(t *testing.T) {
	in := inputs(95)
	in.ClosedTrades = 5
	in.WinRate = 0.1
	got, err := newSizer().Size(in)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if got.SizePct != 20 {
		t.Errorf("sizePct = %v, want full tier 20 under 10 trades", got.SizePct)
	}
}

func TestLeverageHalvedInVolatileRegimes(t *testing.T) {
	for _, regime := range []types.Regime{types.RegimeHighVol, types.RegimeChoppy} {
		in := inputs(95)
		in.Regime = regime
		got, err := newSizer().Size(in)
		if err != nil {
			t.Fatalf("size: %v", err)
		}
		if got.Leverage != 4 {
			t.Errorf("%s leverage = %d, want 4", regime, got.Leverage)
		}
	}
}

func TestLossStreakHalvesSizeAndLeverage(t *testing.T) {
	in := inputs(95)
	in.LossStreak = 2
	got, err := newSizer().Size(in)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if got.Leverage != 4 {
		t.Errorf("leverage = %d, want 4 after two losses", got.Leverage)
	}
	if got.SizePct != 10 {
		t.Errorf("sizePct = %v, want 10 after two losses", got.SizePct)
	}
}

func TestLeverageNeverExceedsCap(t *testing.T) {
	for conf := 60.0; conf <= 100; conf += 2.5 {
		for _, regime := range []types.Regime{types.RegimeTrending, types.RegimeHighVol, types.RegimeChoppy, types.RegimeLowVol} {
			for streak := 0; streak <= 4; streak++ {
				in := inputs(conf)
				in.Regime = regime
				in.LossStreak = streak
				got, err := newSizer().Size(in)
				if err != nil {
					t.Fatalf("size(%v,%v,%d): %v", conf, regime, streak, err)
				}
				if got.Leverage > LeverageCap {
					t.Fatalf("leverage %d exceeds cap for conf=%v regime=%v streak=%d", got.Leverage, conf, regime, streak)
				}
				if got.Leverage < 1 {
					t.Fatalf("leverage %d below 1", got.Leverage)
				}
			}
		}
	}
}

func TestSizeAlwaysInClampBand(t *testing.T) {
	cfg := DefaultConfig()
	for conf := 60.0; conf <= 100; conf += 5 {
		for _, att := range []float64{1.0, 0.6, 0.5, 0.3} {
			in := inputs(conf)
			in.Attenuation = att
			got, err := newSizer().Size(in)
			if err != nil {
				t.Fatalf("size: %v", err)
			}
			if got.SizePct < cfg.MinSizePct || got.SizePct > cfg.MaxSizePct {
				t.Fatalf("sizePct %v outside [%v,%v] for conf=%v att=%v", got.SizePct, cfg.MinSizePct, cfg.MaxSizePct, conf, att)
			}
		}
	}
}

func TestExposureCapShrinksOrRejects(t *testing.T) {
	in := inputs(95)
	in.SizeCapPct = 12
	got, err := newSizer().Size(in)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if got.SizePct != 12 {
		t.Errorf("sizePct = %v, want shrunk to cap 12", got.SizePct)
	}

	in.SizeCapPct = 5
	if _, err := newSizer().Size(in); err == nil {
		t.Error("headroom below minimum size should reject")
	}
}

func TestStreakTracker(t *testing.T) {
	tr := NewStreakTracker()
	tr.RecordLoss("BTCUSDT")
	tr.RecordLoss("BTCUSDT")
	if got := tr.Streak("BTCUSDT"); got != 2 {
		t.Errorf("streak = %d, want 2", got)
	}
	tr.RecordWin("BTCUSDT")
	if got := tr.Streak("BTCUSDT"); got != 0 {
		t.Errorf("streak after win = %d, want 0", got)
	}
	if got := tr.Streak("ETHUSDT"); got != 0 {
		t.Errorf("unknown symbol streak = %d, want 0", got)
	}
}
