// Package main is the bot daemon: it loads configuration, wires the
// engines to the shared monitors and runs the orchestrator until a
// shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/quantfleet/unified-trading-bot/internal/allocator"
	"github.com/quantfleet/unified-trading-bot/internal/analyzer"
	"github.com/quantfleet/unified-trading-bot/internal/api"
	"github.com/quantfleet/unified-trading-bot/internal/blacklist"
	"github.com/quantfleet/unified-trading-bot/internal/config"
	"github.com/quantfleet/unified-trading-bot/internal/data"
	"github.com/quantfleet/unified-trading-bot/internal/engine"
	"github.com/quantfleet/unified-trading-bot/internal/exchange"
	"github.com/quantfleet/unified-trading-bot/internal/gate"
	"github.com/quantfleet/unified-trading-bot/internal/journal"
	"github.com/quantfleet/unified-trading-bot/internal/metrics"
	"github.com/quantfleet/unified-trading-bot/internal/orchestrator"
	"github.com/quantfleet/unified-trading-bot/internal/risk"
	"github.com/quantfleet/unified-trading-bot/internal/scanner"
	"github.com/quantfleet/unified-trading-bot/internal/sizing"
	"github.com/quantfleet/unified-trading-bot/internal/stops"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configFile := flag.String("config", "", "YAML configuration file")
	envFile := flag.String("env", ".env", "Environment file with exchange credentials")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	paper := flag.Bool("paper", true, "Paper trading mode (no real orders)")
	paperBalance := flag.Float64("paper-balance", 10000, "Starting balance in paper mode")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logger.Warn("env file not loaded", zap.String("path", *envFile), zap.Error(err))
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("configuration rejected", zap.Error(err))
		os.Exit(1)
	}

	var adapter exchange.Adapter
	if *paper {
		adapter = exchange.NewPaper(logger, *paperBalance)
		logger.Info("paper trading mode", zap.Float64("balance", *paperBalance))
	} else {
		if err := cfg.RequireCredentials(); err != nil {
			logger.Error("live trading requires credentials", zap.Error(err))
			os.Exit(1)
		}
		adapter = exchange.NewBinanceFutures(logger, exchange.BinanceConfig{
			APIKey:    cfg.Credentials.APIKey,
			APISecret: cfg.Credentials.APISecret,
			Testnet:   cfg.Credentials.Testnet,
		})
	}

	hub := data.NewHub(logger, adapter)
	riskMon := risk.New(logger, risk.Config{
		DailyLossLimitPct: cfg.Global.DailyLossLimitPct,
		MaxDrawdownPct:    cfg.Global.MaxDrawdownPct,
		Cooldown:          cfg.Global.CircuitBreakerCooldown,
	}, nil)

	shares := []allocator.EngineShare{
		{Name: "futures", Enabled: cfg.Futures.Enabled, CapitalPct: cfg.Futures.CapitalPct},
		{Name: "spot", Enabled: cfg.Spot.Enabled, CapitalPct: cfg.Spot.CapitalPct},
	}
	alloc := allocator.New(logger, shares)

	if err := os.MkdirAll(cfg.Journal.Dir, 0o755); err != nil {
		logger.Error("journal directory", zap.Error(err))
		os.Exit(1)
	}

	// One blacklist and one streak tracker for the whole process: vetoes
	// and loss streaks are shared across engines and survive supervisor
	// restarts.
	blCfg := cfg.Futures
	if !blCfg.Enabled {
		blCfg = cfg.Spot
	}
	black := blacklist.New(logger, blacklist.Config{
		Duration:             time.Duration(blCfg.BlacklistDurationMinutes) * time.Minute,
		LossWindow:           time.Duration(blCfg.LossWindowMinutes) * time.Minute,
		MaxConsecutiveLosses: blCfg.MaxConsecutiveLosses,
		RejectionDuration:    15 * time.Minute,
	}, nil)
	streaks := sizing.NewStreakTracker()

	orch := orchestrator.New(logger, orchestrator.ConfigFrom(cfg.Global), alloc, riskMon, adapter, nil)

	emergency := stops.EmergencyThresholds{
		PositionLossPct:  cfg.Global.EmergencyPositionLossPct,
		PortfolioLossPct: cfg.Global.EmergencyPortfolioLossPct,
	}

	journals := make(map[string]*journal.Journal)
	for _, spec := range []struct {
		name string
		mode engine.Mode
		cfg  config.EngineConfig
	}{
		{"futures", engine.ModeFutures, cfg.Futures},
		{"spot", engine.ModeSpot, cfg.Spot},
	} {
		if !spec.cfg.Enabled {
			continue
		}
		jrnl, err := journal.Open(logger, filepath.Join(cfg.Journal.Dir, spec.name+".jsonl"))
		if err != nil {
			logger.Error("journal open failed", zap.String("engine", spec.name), zap.Error(err))
			os.Exit(1)
		}
		defer jrnl.Close()
		journals[spec.name] = jrnl

		name, mode, ecfg := spec.name, spec.mode, spec.cfg
		orch.Register(name, func() orchestrator.Runner {
			return buildEngine(logger, name, mode, ecfg, cfg, adapter, hub, jrnl, black, streaks, alloc, riskMon, emergency, orch)
		})
	}

	collector := metrics.NewCollector(orch, alloc, journals)
	metricsHandler, err := metrics.Handler(collector)
	if err != nil {
		logger.Error("metrics registration failed", zap.Error(err))
		os.Exit(1)
	}

	var statusServer *api.Server
	if cfg.Server.Enabled {
		statusServer = api.NewServer(logger, cfg.Server, orch, metricsHandler)
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startedAt := time.Now()
	if err := orch.Start(ctx); err != nil {
		logger.Error("startup failed", zap.Error(err))
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	orch.Stop()

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := statusServer.Stop(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", zap.Error(err))
		}
		shutdownCancel()
	}

	printSummary(orch, journals, time.Since(startedAt))
}

// buildEngine assembles one engine with the shared monitors. Called
// again by the supervisor on restart so every incarnation gets fresh
// loop state.
func buildEngine(
	logger *zap.Logger,
	name string,
	mode engine.Mode,
	ecfg config.EngineConfig,
	cfg config.Config,
	adapter exchange.Adapter,
	hub *data.Hub,
	jrnl *journal.Journal,
	black *blacklist.Manager,
	streaks *sizing.StreakTracker,
	alloc *allocator.Allocator,
	riskMon *risk.Monitor,
	emergency stops.EmergencyThresholds,
	orch *orchestrator.Orchestrator,
) orchestrator.Runner {
	scanCfg := scanner.DefaultConfig()
	if ecfg.MinVolumeUsd > 0 {
		scanCfg.MinVolumeUsd = ecfg.MinVolumeUsd
	}
	if ecfg.TopSymbols > 0 {
		scanCfg.TopN = ecfg.TopSymbols
	}
	scan := scanner.New(logger, hub, scanCfg, black.IsBlacklisted)

	anCfg := analyzer.DefaultConfig()
	if ecfg.ReferenceSymbol != "" {
		anCfg.ReferenceSymbol = ecfg.ReferenceSymbol
	}
	anCfg.MinConfidence = float64(ecfg.MinConfidenceTrending)
	an := analyzer.New(logger, hub, anCfg)

	sizeCfg := sizing.DefaultConfig()
	if ecfg.SizePctMin > 0 {
		sizeCfg.MinSizePct = ecfg.SizePctMin
	}
	if ecfg.SizePctMax > 0 {
		sizeCfg.MaxSizePct = ecfg.SizePctMax
	}

	return engine.New(logger, name, mode, ecfg, engine.Deps{
		Adapter:            adapter,
		Hub:                hub,
		Scanner:            scan,
		Analyzer:           an,
		Gate:               gate.New(logger),
		Sizer:              sizing.New(logger, sizeCfg),
		Journal:            jrnl,
		Blacklist:          black,
		Streaks:            streaks,
		Allocator:          alloc,
		Risk:               riskMon,
		Groups:             cfg.CorrelationGroups,
		Emergency:          emergency,
		RequestGlobalClose: orch.RequestGlobalClose,
	})
}

// printSummary renders the final shutdown table.
func printSummary(orch *orchestrator.Orchestrator, journals map[string]*journal.Journal, uptime time.Duration) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("SESSION SUMMARY")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Engine", "Status", "Restarts", "Trades", "Realized PnL"})

	for _, h := range orch.Health() {
		trades, pnl := 0, "0"
		if j, ok := journals[h.Name]; ok {
			trades = j.Len()
			pnl = j.TotalPnl().StringFixed(2)
		}
		t.AppendRow(table.Row{h.Name, string(h.Status), h.RestartCount, trades, "$" + pnl})
	}
	t.AppendFooter(table.Row{"uptime", uptime.Round(time.Second).String(), "", "", ""})
	t.Render()
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
