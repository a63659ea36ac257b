// Package metrics exposes the bot's operational state as prometheus
// metrics. Everything is read at scrape time from the orchestrator
// snapshot and the trade journals; nothing is recorded on the hot
// path.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quantfleet/unified-trading-bot/internal/allocator"
	"github.com/quantfleet/unified-trading-bot/internal/journal"
	"github.com/quantfleet/unified-trading-bot/internal/orchestrator"
)

var (
	descHeartbeatAge = prometheus.NewDesc(
		"bot_engine_heartbeat_age_seconds",
		"Seconds since the engine's last heartbeat.",
		[]string{"engine"}, nil,
	)
	descEngineUp = prometheus.NewDesc(
		"bot_engine_up",
		"1 when the engine is in the RUNNING state.",
		[]string{"engine"}, nil,
	)
	descRestarts = prometheus.NewDesc(
		"bot_engine_restarts_total",
		"Supervisor restarts issued for the engine.",
		[]string{"engine"}, nil,
	)
	descOpenPositions = prometheus.NewDesc(
		"bot_open_positions",
		"Open positions per engine.",
		[]string{"engine"}, nil,
	)
	descExposure = prometheus.NewDesc(
		"bot_exposure_usd",
		"Current capital exposure per engine in USD.",
		[]string{"engine"}, nil,
	)
	descTrades = prometheus.NewDesc(
		"bot_trades_total",
		"Closed trades recorded in the engine's journal.",
		[]string{"engine"}, nil,
	)
	descRealizedPnl = prometheus.NewDesc(
		"bot_realized_pnl_usd",
		"Cumulative realized P&L per engine in USD.",
		[]string{"engine"}, nil,
	)
	descDailyPnl = prometheus.NewDesc(
		"bot_daily_pnl_usd",
		"Portfolio P&L for the current UTC day, realized plus unrealized.",
		nil, nil,
	)
	descDrawdown = prometheus.NewDesc(
		"bot_drawdown_pct",
		"Drawdown from the running portfolio peak, percent.",
		nil, nil,
	)
	descBreaker = prometheus.NewDesc(
		"bot_circuit_breaker_active",
		"1 while the global circuit breaker blocks new entries.",
		nil, nil,
	)
)

// Collector reads the bot's state at scrape time.
type Collector struct {
	orch     *orchestrator.Orchestrator
	alloc    *allocator.Allocator
	journals map[string]*journal.Journal
}

// NewCollector creates a collector. journals maps engine name to its
// trade journal; alloc may be nil.
func NewCollector(orch *orchestrator.Orchestrator, alloc *allocator.Allocator, journals map[string]*journal.Journal) *Collector {
	return &Collector{orch: orch, alloc: alloc, journals: journals}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descHeartbeatAge
	ch <- descEngineUp
	ch <- descRestarts
	ch <- descOpenPositions
	ch <- descExposure
	ch <- descTrades
	ch <- descRealizedPnl
	ch <- descDailyPnl
	ch <- descDrawdown
	ch <- descBreaker
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.orch.Status(context.Background())

	positionsByEngine := make(map[string]float64)
	for _, p := range snap.Positions {
		positionsByEngine[p.Engine]++
	}

	for _, h := range snap.Engines {
		up := 0.0
		if h.Status == orchestrator.StatusRunning {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(descHeartbeatAge, prometheus.GaugeValue, h.HeartbeatAge, h.Name)
		ch <- prometheus.MustNewConstMetric(descEngineUp, prometheus.GaugeValue, up, h.Name)
		ch <- prometheus.MustNewConstMetric(descRestarts, prometheus.CounterValue, float64(h.RestartCount), h.Name)
		ch <- prometheus.MustNewConstMetric(descOpenPositions, prometheus.GaugeValue, positionsByEngine[h.Name], h.Name)
		if c.alloc != nil {
			ch <- prometheus.MustNewConstMetric(descExposure, prometheus.GaugeValue, c.alloc.Exposure(h.Name), h.Name)
		}
	}

	for name, j := range c.journals {
		ch <- prometheus.MustNewConstMetric(descTrades, prometheus.CounterValue, float64(j.Len()), name)
		pnl, _ := j.TotalPnl().Float64()
		ch <- prometheus.MustNewConstMetric(descRealizedPnl, prometheus.GaugeValue, pnl, name)
	}

	breaker := 0.0
	if snap.Risk.CircuitBreakerActive {
		breaker = 1
	}
	ch <- prometheus.MustNewConstMetric(descDailyPnl, prometheus.GaugeValue, snap.Risk.DailyPnlUsd)
	ch <- prometheus.MustNewConstMetric(descDrawdown, prometheus.GaugeValue, snap.Risk.DrawdownPct)
	ch <- prometheus.MustNewConstMetric(descBreaker, prometheus.GaugeValue, breaker)
}

// Handler builds the /metrics HTTP handler over a private registry.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
