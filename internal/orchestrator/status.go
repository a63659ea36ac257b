package orchestrator

import (
	"context"
	"time"

	"github.com/quantfleet/unified-trading-bot/internal/engine"
	"github.com/quantfleet/unified-trading-bot/internal/risk"
)

// EngineStatus is the supervisor's view of an engine.
type EngineStatus string

const (
	StatusRunning    EngineStatus = "RUNNING"
	StatusStopped    EngineStatus = "STOPPED"
	StatusError      EngineStatus = "ERROR"
	StatusRestarting EngineStatus = "RESTARTING"
)

// EngineHealth is one engine's liveness record.
type EngineHealth struct {
	Name          string       `json:"name"`
	Status        EngineStatus `json:"status"`
	LastHeartbeat time.Time    `json:"lastHeartbeat"`
	HeartbeatAge  float64      `json:"heartbeatAgeSeconds"`
	RestartCount  int          `json:"restartCount"`
	LastError     string       `json:"lastError,omitempty"`
}

// Snapshot is the full orchestrator status served by the API and
// logged periodically.
type Snapshot struct {
	Time          time.Time         `json:"time"`
	UptimeSeconds float64           `json:"uptimeSeconds"`
	Engines       []EngineHealth    `json:"engines"`
	Risk          risk.State        `json:"risk"`
	Positions     []engine.Snapshot `json:"positions"`
}

// Health returns the current liveness record for every engine.
func (o *Orchestrator) Health() []EngineHealth {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]EngineHealth, 0, len(o.engines))
	for _, m := range o.engines {
		h := EngineHealth{
			Name:         m.name,
			Status:       m.status,
			RestartCount: m.restarts,
		}
		if m.runner != nil {
			h.LastHeartbeat = m.runner.LastHeartbeat()
			h.HeartbeatAge = now.Sub(h.LastHeartbeat).Seconds()
			if err := m.runner.LastError(); err != nil {
				h.LastError = err.Error()
			}
		}
		out = append(out, h)
	}
	return out
}

// Positions collects read-only position snapshots across every engine.
func (o *Orchestrator) Positions(ctx context.Context) []engine.Snapshot {
	o.mu.Lock()
	engines := append([]*managedEngine(nil), o.engines...)
	o.mu.Unlock()

	var out []engine.Snapshot
	for _, m := range engines {
		if m.runner == nil {
			continue
		}
		out = append(out, m.runner.Snapshots(ctx)...)
	}
	return out
}

// RiskState returns the global risk monitor snapshot.
func (o *Orchestrator) RiskState() risk.State {
	if o.risk == nil {
		return risk.State{}
	}
	return o.risk.Snapshot()
}

// Status assembles the complete snapshot.
func (o *Orchestrator) Status(ctx context.Context) Snapshot {
	now := o.now()
	o.mu.Lock()
	started := o.startedAt
	o.mu.Unlock()

	uptime := 0.0
	if !started.IsZero() {
		uptime = now.Sub(started).Seconds()
	}
	return Snapshot{
		Time:          now,
		UptimeSeconds: uptime,
		Engines:       o.Health(),
		Risk:          o.RiskState(),
		Positions:     o.Positions(ctx),
	}
}
