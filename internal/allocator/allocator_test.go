package allocator

import (
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"
)

func shares(futuresPct, spotPct float64, spotEnabled bool) []EngineShare {
	return []EngineShare{
		{Name: "futures", Enabled: true, CapitalPct: futuresPct},
		{Name: "spot", Enabled: spotEnabled, CapitalPct: spotPct},
	}
}

func TestValidateOverflow(t *testing.T) {
	a := New(zap.NewNop(), shares(70, 40, true))
	if err := a.Validate(); !errors.Is(err, ErrAllocationOverflow) {
		t.Fatalf("err = %v, want ErrAllocationOverflow", err)
	}

	a = New(zap.NewNop(), shares(70, 30, true))
	if err := a.Validate(); err != nil {
		t.Fatalf("valid split rejected: %v", err)
	}
}

func TestValidateIgnoresDisabled(t *testing.T) {
	// 70 + 80 would overflow, but the 80 engine is disabled.
	a := New(zap.NewNop(), shares(70, 80, false))
	if err := a.Validate(); err != nil {
		t.Fatalf("disabled share counted: %v", err)
	}
}

func TestAllocationSplit(t *testing.T) {
	a := New(zap.NewNop(), shares(70, 30, true))
	got, err := a.AllocationFor("futures", 10000)
	if err != nil {
		t.Fatalf("allocation: %v", err)
	}
	if got.AllocatedPct != 70 || got.AllocatedUsd != 7000 {
		t.Errorf("futures = %+v, want 70%% / 7000", got)
	}
	if got.AvailableUsd != 7000 {
		t.Errorf("available = %v, want full allocation", got.AvailableUsd)
	}
}

func TestDisabledShareRedistributed(t *testing.T) {
	// Spot disabled: futures absorbs the whole portfolio.
	a := New(zap.NewNop(), shares(70, 30, false))
	got, err := a.AllocationFor("futures", 10000)
	if err != nil {
		t.Fatalf("allocation: %v", err)
	}
	if math.Abs(got.AllocatedPct-100) > 1e-9 {
		t.Errorf("pct = %v, want 100 after redistribution", got.AllocatedPct)
	}
	if math.Abs(got.AllocatedUsd-10000) > 1e-6 {
		t.Errorf("usd = %v, want 10000", got.AllocatedUsd)
	}
}

func TestProportionalRedistribution(t *testing.T) {
	a := New(zap.NewNop(), []EngineShare{
		{Name: "a", Enabled: true, CapitalPct: 40},
		{Name: "b", Enabled: true, CapitalPct: 20},
		{Name: "c", Enabled: false, CapitalPct: 40},
	})
	gotA, _ := a.AllocationFor("a", 9000)
	gotB, _ := a.AllocationFor("b", 9000)
	if math.Abs(gotA.AllocatedUsd-6000) > 1e-6 {
		t.Errorf("a = %v, want 6000 (40/60 of portfolio)", gotA.AllocatedUsd)
	}
	if math.Abs(gotB.AllocatedUsd-3000) > 1e-6 {
		t.Errorf("b = %v, want 3000 (20/60 of portfolio)", gotB.AllocatedUsd)
	}
}

func TestExposureTracking(t *testing.T) {
	a := New(zap.NewNop(), shares(70, 30, true))
	a.RecordExposureChange("futures", 2000)
	a.RecordExposureChange("futures", 1000)
	a.RecordExposureChange("futures", -500)

	got, _ := a.AllocationFor("futures", 10000)
	if got.CurrentExposureUsd != 2500 {
		t.Errorf("exposure = %v, want 2500", got.CurrentExposureUsd)
	}
	if got.AvailableUsd != 4500 {
		t.Errorf("available = %v, want 4500", got.AvailableUsd)
	}

	// Exposure floors at zero even if exits over-report.
	a.RecordExposureChange("futures", -99999)
	if got := a.Exposure("futures"); got != 0 {
		t.Errorf("exposure = %v, want floor 0", got)
	}
}

func TestUnknownEngine(t *testing.T) {
	a := New(zap.NewNop(), shares(70, 30, true))
	if _, err := a.AllocationFor("grid", 10000); !errors.Is(err, ErrUnknownEngine) {
		t.Fatalf("err = %v, want ErrUnknownEngine", err)
	}
}
