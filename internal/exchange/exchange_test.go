package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		status int
		code   int
		want   Kind
	}{
		{429, 0, KindRateLimited},
		{418, 0, KindRateLimited},
		{401, 0, KindAuthFailure},
		{400, -2015, KindAuthFailure},
		{503, 0, KindTransient},
		{400, -2019, KindRejected},
	}
	for _, c := range cases {
		got := classifyHTTP(c.status, c.code, "", 0)
		if got.Kind != c.want {
			t.Errorf("classifyHTTP(%d, %d) = %v, want %v", c.status, c.code, got.Kind, c.want)
		}
	}
}

func TestWithRetryStopsOnRejected(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), zap.NewNop(), "test", func() error {
		calls++
		return &Error{Kind: KindRejected, Msg: "insufficient margin"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("rejected error retried %d times, want 1 call", calls)
	}
}

func TestWithRetryRecoversTransient(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), zap.NewNop(), "test", func() error {
		calls++
		if calls < 2 {
			return &Error{Kind: KindTransient, Msg: "bad gateway"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRateGateSpacing(t *testing.T) {
	g := newRateGate(30 * time.Millisecond)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := g.wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("three calls completed in %v, want at least 60ms spacing", elapsed)
	}
}

func TestPaperOrderLifecycle(t *testing.T) {
	p := NewPaper(zap.NewNop(), 10000)
	p.SeedTicker(types.Ticker{Symbol: "BTCUSDT", Last: 50000})
	ctx := context.Background()

	res, err := p.PlaceMarketOrder(ctx, "BTCUSDT", types.SideLong, decimal.NewFromFloat(0.1))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if res.Status != "FILLED" {
		t.Errorf("status = %q, want FILLED", res.Status)
	}

	positions, _ := p.FetchPositions(ctx)
	if len(positions) != 1 || positions[0].Side != types.SideLong {
		t.Fatalf("positions = %+v, want one LONG", positions)
	}

	// Partial reduce leaves the remainder open.
	if _, err := p.PlaceMarketOrder(ctx, "BTCUSDT", types.SideShort, decimal.NewFromFloat(0.04)); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	positions, _ = p.FetchPositions(ctx)
	if len(positions) != 1 {
		t.Fatal("partial reduce closed the position")
	}
	if !positions[0].Quantity.Equal(decimal.NewFromFloat(0.06)) {
		t.Errorf("remaining qty = %s, want 0.06", positions[0].Quantity)
	}

	// Full close removes it.
	if _, err := p.PlaceMarketOrder(ctx, "BTCUSDT", types.SideShort, decimal.NewFromFloat(0.06)); err != nil {
		t.Fatalf("close: %v", err)
	}
	positions, _ = p.FetchPositions(ctx)
	if len(positions) != 0 {
		t.Errorf("positions after close = %+v, want none", positions)
	}
}

func TestPaperFailNext(t *testing.T) {
	p := NewPaper(zap.NewNop(), 10000)
	p.SeedTicker(types.Ticker{Symbol: "ETHUSDT", Last: 3000})
	p.FailNext = &Error{Kind: KindRejected, Msg: "margin check failed"}

	_, err := p.PlaceMarketOrder(context.Background(), "ETHUSDT", types.SideLong, decimal.NewFromInt(1))
	var ee *Error
	if !errors.As(err, &ee) || ee.Kind != KindRejected {
		t.Fatalf("err = %v, want rejected exchange error", err)
	}

	// The failure is one-shot.
	if _, err := p.PlaceMarketOrder(context.Background(), "ETHUSDT", types.SideLong, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("second order: %v", err)
	}
}

func TestPaperStopOrders(t *testing.T) {
	p := NewPaper(zap.NewNop(), 10000)
	p.SeedTicker(types.Ticker{Symbol: "SOLUSDT", Last: 150})
	ctx := context.Background()

	if _, err := p.PlaceMarketOrder(ctx, "SOLUSDT", types.SideLong, decimal.NewFromInt(10)); err != nil {
		t.Fatalf("open: %v", err)
	}
	stop, err := p.PlaceStopMarket(ctx, "SOLUSDT", types.SideLong, 145, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stop.Side != types.SideShort {
		t.Errorf("stop side = %v, want SHORT for a LONG position", stop.Side)
	}
	if _, ok := p.OpenStop("SOLUSDT"); !ok {
		t.Fatal("stop not tracked")
	}
	if err := p.CancelOrder(ctx, "SOLUSDT", stop.OrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := p.OpenStop("SOLUSDT"); ok {
		t.Fatal("stop still tracked after cancel")
	}
}
