// Package gate runs trade proposals through the signal quality filter
// chain. Filters return decisions and never mutate external state;
// infrastructure errors cannot occur inside the chain.
package gate

import (
	"fmt"

	"github.com/quantfleet/unified-trading-bot/internal/analyzer"
	"go.uber.org/zap"
)

// DecisionKind is the outcome class of one filter.
type DecisionKind int

const (
	Pass DecisionKind = iota
	Attenuate
	Reject
)

func (k DecisionKind) String() string {
	switch k {
	case Pass:
		return "pass"
	case Attenuate:
		return "attenuate"
	case Reject:
		return "reject"
	}
	return "unknown"
}

// Decision is one filter's verdict. Attenuations multiply into the
// final size factor; bonuses add to confidence.
type Decision struct {
	Kind            DecisionKind
	Factor          float64 // size multiplier for Attenuate
	Reason          string
	ConfidenceBonus float64
	TightTrailing   bool
}

func pass() Decision                      { return Decision{Kind: Pass, Factor: 1} }
func passBonus(b float64, why string) Decision {
	return Decision{Kind: Pass, Factor: 1, ConfidenceBonus: b, Reason: why}
}
func attenuate(f float64, why string) Decision { return Decision{Kind: Attenuate, Factor: f, Reason: why} }
func reject(why string) Decision               { return Decision{Kind: Reject, Reason: why} }

// Env is the shared context the filters read. All fields are snapshots
// taken atomically before the chain runs.
type Env struct {
	IsBlacklisted        func(symbol string) bool
	CanOpen              func() bool
	OpenInGroup          func(symbol string) int
	MaxGroupPositions    int
	AllocatedUsd         float64
	ExposureUsd          float64
	MinConfidenceTrending float64
	MinConfidenceRanging  float64
}

// Result is the chain's aggregate verdict on a proposal.
type Result struct {
	Accepted    bool
	RejectedBy  string
	Reason      string
	Attenuation float64 // product of all attenuation factors
	Confidence  float64 // proposal confidence plus filter bonuses
	SizeCapPct  float64 // upper bound on sizePct from the exposure gate
	TightTrail  bool
	Trace       []TraceEntry
}

// TraceEntry records one filter's outcome for the decision log.
type TraceEntry struct {
	Filter   string
	Decision Decision
}

// Filter is one link of the chain.
type Filter struct {
	Name     string
	Evaluate func(p *analyzer.Proposal, env *Env) Decision
}

// Gate owns the ordered filter chain.
type Gate struct {
	logger  *zap.Logger
	filters []Filter
}

// New builds the production chain in its fixed order.
func New(logger *zap.Logger) *Gate {
	return &Gate{
		logger: logger.Named("gate"),
		filters: []Filter{
			{"blacklist", blacklistFilter},
			{"regime", regimeFilter},
			{"confidence", confidenceFilter},
			{"direction", directionAligner},
			{"momentum", momentumValidator},
			{"micro", microAligner},
			{"volume", volumeConfirmer},
			{"breakout", breakoutDetector},
			{"exposure", exposureGate},
			{"correlation", correlationGate},
			{"global_risk", globalRiskGate},
		},
	}
}

// Check runs the proposal through every filter in order. The first
// reject aborts; attenuations and bonuses accumulate.
func (g *Gate) Check(p *analyzer.Proposal, env *Env) Result {
	res := Result{
		Accepted:    true,
		Attenuation: 1.0,
		Confidence:  p.Confidence,
		SizeCapPct:  100,
	}

	for _, f := range g.filters {
		d := f.Evaluate(p, env)
		res.Trace = append(res.Trace, TraceEntry{Filter: f.Name, Decision: d})

		switch d.Kind {
		case Reject:
			res.Accepted = false
			res.RejectedBy = f.Name
			res.Reason = d.Reason
			g.logger.Debug("proposal rejected",
				zap.String("symbol", p.Symbol),
				zap.String("filter", f.Name),
				zap.String("reason", d.Reason),
			)
			return res
		case Attenuate:
			res.Attenuation *= d.Factor
		}
		res.Confidence += d.ConfidenceBonus
		if d.TightTrailing {
			res.TightTrail = true
		}
	}

	if env.AllocatedUsd > 0 {
		res.SizeCapPct = (env.AllocatedUsd - env.ExposureUsd) / env.AllocatedUsd * 100
	}
	if res.Confidence > 100 {
		res.Confidence = 100
	}
	g.logger.Debug("proposal accepted",
		zap.String("symbol", p.Symbol),
		zap.Float64("confidence", res.Confidence),
		zap.Float64("attenuation", res.Attenuation),
	)
	return res
}

func blacklistFilter(p *analyzer.Proposal, env *Env) Decision {
	if env.IsBlacklisted != nil && env.IsBlacklisted(p.Symbol) {
		return reject("symbol blacklisted")
	}
	return pass()
}

func exposureGate(p *analyzer.Proposal, env *Env) Decision {
	if env.AllocatedUsd <= 0 {
		return pass()
	}
	available := env.AllocatedUsd - env.ExposureUsd
	if available <= 0 {
		return reject("allocated capital exhausted")
	}
	return pass()
}

func correlationGate(p *analyzer.Proposal, env *Env) Decision {
	if env.OpenInGroup == nil {
		return pass()
	}
	max := env.MaxGroupPositions
	if max <= 0 {
		max = 2
	}
	if open := env.OpenInGroup(p.Symbol); open >= max {
		return reject(fmt.Sprintf("correlation group at capacity (%d open)", open))
	}
	return pass()
}

func globalRiskGate(p *analyzer.Proposal, env *Env) Decision {
	if env.CanOpen != nil && !env.CanOpen() {
		return reject("global risk monitor blocks new entries")
	}
	return pass()
}
