// Package allocator splits portfolio capital across the enabled
// engines and tracks per-engine exposure.
package allocator

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrAllocationOverflow is returned when the enabled engines claim
// more than 100% of the portfolio.
var ErrAllocationOverflow = errors.New("engine capital allocation exceeds 100%")

// ErrUnknownEngine is returned for engines absent from the allocation
// table.
var ErrUnknownEngine = errors.New("unknown engine")

// EngineShare is one engine's configured slice.
type EngineShare struct {
	Name       string
	Enabled    bool
	CapitalPct float64
}

// Allocation is the computed capital assignment for one engine.
type Allocation struct {
	Engine             string  `json:"engine"`
	AllocatedPct       float64 `json:"allocatedPct"`
	AllocatedUsd       float64 `json:"allocatedUsd"`
	CurrentExposureUsd float64 `json:"currentExposureUsd"`
	AvailableUsd       float64 `json:"availableUsd"`
}

// Allocator owns the allocation table. Exposure updates are serialized
// internally.
type Allocator struct {
	logger *zap.Logger

	mu       sync.Mutex
	shares   []EngineShare
	exposure map[string]float64
}

// New creates an allocator from the configured shares.
func New(logger *zap.Logger, shares []EngineShare) *Allocator {
	return &Allocator{
		logger:   logger.Named("allocator"),
		shares:   shares,
		exposure: make(map[string]float64),
	}
}

// Validate rejects configurations whose enabled engines claim more
// than the whole portfolio.
func (a *Allocator) Validate() error {
	total := 0.0
	for _, s := range a.shares {
		if s.Enabled {
			if s.CapitalPct < 0 {
				return fmt.Errorf("engine %s: negative capitalPct %.1f", s.Name, s.CapitalPct)
			}
			total += s.CapitalPct
		}
	}
	if total > 100 {
		return fmt.Errorf("%w: enabled engines total %.1f%%", ErrAllocationOverflow, total)
	}
	return nil
}

// effectivePct returns the engine's share after redistributing
// disabled engines' slices proportionally across the enabled set.
func (a *Allocator) effectivePct(engine string) (float64, error) {
	var own float64
	var enabledTotal float64
	found := false
	for _, s := range a.shares {
		if !s.Enabled {
			continue
		}
		enabledTotal += s.CapitalPct
		if s.Name == engine {
			own = s.CapitalPct
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEngine, engine)
	}
	if enabledTotal <= 0 {
		return 0, nil
	}
	return own / enabledTotal * 100, nil
}

// AllocationFor computes the engine's current allocation against the
// given portfolio value.
func (a *Allocator) AllocationFor(engine string, portfolioUsd float64) (Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pct, err := a.effectivePct(engine)
	if err != nil {
		return Allocation{}, err
	}
	usd := portfolioUsd * pct / 100
	exp := a.exposure[engine]
	return Allocation{
		Engine:             engine,
		AllocatedPct:       pct,
		AllocatedUsd:       usd,
		CurrentExposureUsd: exp,
		AvailableUsd:       usd - exp,
	}, nil
}

// RecordExposureChange adjusts the engine's tracked exposure by
// deltaUsd (positive on entry, negative on exit).
func (a *Allocator) RecordExposureChange(engine string, deltaUsd float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exposure[engine] += deltaUsd
	if a.exposure[engine] < 0 {
		a.exposure[engine] = 0
	}
	a.logger.Debug("exposure updated",
		zap.String("engine", engine),
		zap.Float64("delta", deltaUsd),
		zap.Float64("exposure", a.exposure[engine]),
	)
}

// Exposure returns the engine's current tracked exposure.
func (a *Allocator) Exposure(engine string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exposure[engine]
}
