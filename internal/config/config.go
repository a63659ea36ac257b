// Package config provides the enumerated configuration surface for the
// trading bot. All knobs are loaded once at startup and validated; there
// is no post-startup mutation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/quantfleet/unified-trading-bot/pkg/types"
	"github.com/spf13/viper"
)

// ErrConfigInvalid is wrapped by all startup validation failures.
var ErrConfigInvalid = errors.New("config invalid")

// ErrCredentialsMissing indicates API credentials were not provided.
var ErrCredentialsMissing = errors.New("credentials missing")

// Config is the complete configuration surface.
type Config struct {
	Global      GlobalConfig      `mapstructure:"global"`
	Futures     EngineConfig      `mapstructure:"futures"`
	Spot        EngineConfig      `mapstructure:"spot"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Server      ServerConfig      `mapstructure:"server"`
	Journal     JournalConfig     `mapstructure:"journal"`

	CorrelationGroups types.CorrelationGroups `mapstructure:"correlationGroups"`
}

// GlobalConfig holds portfolio-wide limits and supervision thresholds.
type GlobalConfig struct {
	DailyLossLimitPct       float64       `mapstructure:"dailyLossLimitPct"`
	MaxDrawdownPct          float64       `mapstructure:"maxDrawdownPct"`
	CircuitBreakerCooldown  time.Duration `mapstructure:"circuitBreakerCooldown"`
	HeartbeatWarnSeconds    int           `mapstructure:"heartbeatWarnSeconds"`
	HeartbeatRestartSeconds int           `mapstructure:"heartbeatRestartSeconds"`
	MaxRestarts             int           `mapstructure:"maxRestarts"`
	ShutdownGracePeriod     time.Duration `mapstructure:"shutdownGracePeriod"`
	MonitorTick             time.Duration `mapstructure:"monitorTick"`
	StatusInterval          time.Duration `mapstructure:"statusInterval"`

	EmergencyPositionLossPct  float64 `mapstructure:"emergencyPositionLossPct"`
	EmergencyPortfolioLossPct float64 `mapstructure:"emergencyPortfolioLossPct"`
}

// EngineConfig holds per-engine tuning. The same shape serves both the
// futures and spot engines; spot ignores the leverage fields.
type EngineConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	CapitalPct      float64       `mapstructure:"capitalPct"`
	MaxPositions    int           `mapstructure:"maxPositions"`
	ScanInterval    time.Duration `mapstructure:"scanInterval"`
	MonitorInterval time.Duration `mapstructure:"monitorInterval"`

	// Scanner
	MinVolumeUsd  float64  `mapstructure:"minVolumeUsd"`
	TopSymbols    int      `mapstructure:"topSymbols"`
	Watchlist     []string `mapstructure:"watchlist"`
	ExcludedGlobs []string `mapstructure:"excludedGlobs"`

	// Analyzer / gate
	ReferenceSymbol        string  `mapstructure:"referenceSymbol"`
	MinConfidenceTrending  int     `mapstructure:"minConfidenceTrending"`
	MinConfidenceSideways  int     `mapstructure:"minConfidenceSideways"`
	MicroTimeframesEnabled bool    `mapstructure:"microTimeframesEnabled"`
	MaxGroupPositions      int     `mapstructure:"maxGroupPositions"`
	ReentryCooldown        time.Duration `mapstructure:"reentryCooldown"`

	// Sizing and leverage
	SizePctMin  float64 `mapstructure:"sizePctMin"`
	SizePctMax  float64 `mapstructure:"sizePctMax"`
	LeverageMin int     `mapstructure:"leverageMin"`
	LeverageMax int     `mapstructure:"leverageMax"`

	// Stops and trailing
	AtrMultiplier          float64 `mapstructure:"atrMultiplier"`
	TrailingActivationPct  float64 `mapstructure:"trailingActivationPct"`
	PartialTP1Fraction     float64 `mapstructure:"partialTP1Fraction"`
	PartialTP2Fraction     float64 `mapstructure:"partialTP2Fraction"`
	FixedStopLossPct       float64 `mapstructure:"fixedStopLossPct"`   // spot only
	FixedTakeProfitPct     float64 `mapstructure:"fixedTakeProfitPct"` // spot only

	// Entry confirmation
	ConfirmationCandles    int     `mapstructure:"confirmationCandles"`
	ConfirmationAdversePct float64 `mapstructure:"confirmationAdversePct"`

	// Blacklist
	BlacklistDurationMinutes int `mapstructure:"blacklistDurationMinutes"`
	LossWindowMinutes        int `mapstructure:"lossWindowMinutes"`
	MaxConsecutiveLosses     int `mapstructure:"maxConsecutiveLosses"`
}

// CredentialsConfig holds exchange API credentials.
type CredentialsConfig struct {
	APIKey    string `mapstructure:"apiKey"`
	APISecret string `mapstructure:"apiSecret"`
	Testnet   bool   `mapstructure:"testnet"`
}

// ServerConfig configures the read-only status API.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// JournalConfig configures trade journal persistence.
type JournalConfig struct {
	Dir string `mapstructure:"dir"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Global: GlobalConfig{
			DailyLossLimitPct:         4.0,
			MaxDrawdownPct:            10.0,
			CircuitBreakerCooldown:    60 * time.Minute,
			HeartbeatWarnSeconds:      60,
			HeartbeatRestartSeconds:   300,
			MaxRestarts:               3,
			ShutdownGracePeriod:       30 * time.Second,
			MonitorTick:               time.Second,
			StatusInterval:            60 * time.Second,
			EmergencyPositionLossPct:  4.0,
			EmergencyPortfolioLossPct: 5.0,
		},
		Futures: EngineConfig{
			Enabled:                  true,
			CapitalPct:               70,
			MaxPositions:             5,
			ScanInterval:             45 * time.Second,
			MonitorInterval:          5 * time.Second,
			MinVolumeUsd:             10_000_000,
			TopSymbols:               20,
			ExcludedGlobs:            []string{"USDCUSDT", "BUSDUSDT", "TUSDUSDT"},
			ReferenceSymbol:          "BTCUSDT",
			MinConfidenceTrending:    60,
			MinConfidenceSideways:    65,
			MicroTimeframesEnabled:   true,
			MaxGroupPositions:        2,
			ReentryCooldown:          60 * time.Minute,
			SizePctMin:               8,
			SizePctMax:               25,
			LeverageMin:              1,
			LeverageMax:              8,
			AtrMultiplier:            2.5,
			TrailingActivationPct:    2.0,
			PartialTP1Fraction:       0.40,
			PartialTP2Fraction:       0.30,
			ConfirmationCandles:      1,
			ConfirmationAdversePct:   0.3,
			BlacklistDurationMinutes: 60,
			LossWindowMinutes:        30,
			MaxConsecutiveLosses:     1,
		},
		Spot: EngineConfig{
			Enabled:                  true,
			CapitalPct:               30,
			MaxPositions:             3,
			ScanInterval:             60 * time.Second,
			MonitorInterval:          10 * time.Second,
			MinVolumeUsd:             10_000_000,
			TopSymbols:               10,
			ExcludedGlobs:            []string{"USDCUSDT", "BUSDUSDT", "TUSDUSDT"},
			ReferenceSymbol:          "BTCUSDT",
			MinConfidenceTrending:    60,
			MinConfidenceSideways:    65,
			MaxGroupPositions:        2,
			ReentryCooldown:          60 * time.Minute,
			SizePctMin:               8,
			SizePctMax:               25,
			LeverageMin:              1,
			LeverageMax:              1,
			FixedStopLossPct:         3.0,
			FixedTakeProfitPct:       5.0,
			BlacklistDurationMinutes: 60,
			LossWindowMinutes:        30,
			MaxConsecutiveLosses:     1,
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    8090,
		},
		Journal: JournalConfig{Dir: "./data/journal"},
		CorrelationGroups: types.CorrelationGroups{
			"major":  {"BTCUSDT", "ETHUSDT"},
			"layer1": {"SOLUSDT", "AVAXUSDT", "ADAUSDT", "DOTUSDT", "NEARUSDT"},
			"defi":   {"UNIUSDT", "AAVEUSDT", "LINKUSDT"},
			"meme":   {"DOGEUSDT", "SHIBUSDT", "PEPEUSDT"},
		},
	}
}

// Load reads configuration from an optional YAML file plus BOT_*
// environment overrides, layered over the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: reading %s: %v", ErrConfigInvalid, path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	// Credentials come from the environment when not in the file.
	if cfg.Credentials.APIKey == "" {
		cfg.Credentials.APIKey = os.Getenv("BINANCE_API_KEY")
	}
	if cfg.Credentials.APISecret == "" {
		cfg.Credentials.APISecret = os.Getenv("BINANCE_API_SECRET")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions. It returns an
// error wrapping ErrConfigInvalid on the first violation found.
func (c Config) Validate() error {
	total := 0.0
	if c.Futures.Enabled {
		total += c.Futures.CapitalPct
	}
	if c.Spot.Enabled {
		total += c.Spot.CapitalPct
	}
	if total > 100 {
		return fmt.Errorf("%w: total capital allocation %.1f%% exceeds 100%%", ErrConfigInvalid, total)
	}
	if !c.Futures.Enabled && !c.Spot.Enabled {
		return fmt.Errorf("%w: no engines enabled", ErrConfigInvalid)
	}

	if c.Global.DailyLossLimitPct <= 0 || c.Global.MaxDrawdownPct <= 0 {
		return fmt.Errorf("%w: loss limits must be positive", ErrConfigInvalid)
	}
	if c.Global.HeartbeatWarnSeconds >= c.Global.HeartbeatRestartSeconds {
		return fmt.Errorf("%w: heartbeatWarnSeconds (%d) must be below heartbeatRestartSeconds (%d)",
			ErrConfigInvalid, c.Global.HeartbeatWarnSeconds, c.Global.HeartbeatRestartSeconds)
	}

	for _, ec := range []struct {
		name string
		cfg  EngineConfig
	}{{"futures", c.Futures}, {"spot", c.Spot}} {
		if !ec.cfg.Enabled {
			continue
		}
		if ec.cfg.CapitalPct <= 0 {
			return fmt.Errorf("%w: %s capitalPct must be positive", ErrConfigInvalid, ec.name)
		}
		if ec.cfg.SizePctMin > ec.cfg.SizePctMax {
			return fmt.Errorf("%w: %s sizePctMin %.1f above sizePctMax %.1f",
				ErrConfigInvalid, ec.name, ec.cfg.SizePctMin, ec.cfg.SizePctMax)
		}
		if ec.cfg.LeverageMax > 8 {
			return fmt.Errorf("%w: %s leverageMax %d above hard cap 8", ErrConfigInvalid, ec.name, ec.cfg.LeverageMax)
		}
		if ec.cfg.PartialTP1Fraction+ec.cfg.PartialTP2Fraction >= 1.0 {
			return fmt.Errorf("%w: %s partial take-profit fractions must sum below 100%%", ErrConfigInvalid, ec.name)
		}
		if ec.cfg.MaxPositions <= 0 {
			return fmt.Errorf("%w: %s maxPositions must be positive", ErrConfigInvalid, ec.name)
		}
	}
	return nil
}

// RequireCredentials fails when live trading is requested without keys.
func (c Config) RequireCredentials() error {
	if c.Credentials.APIKey == "" || c.Credentials.APISecret == "" {
		return ErrCredentialsMissing
	}
	return nil
}

// EngineConfigFor returns the config block for a named engine.
func (c Config) EngineConfigFor(name string) (EngineConfig, bool) {
	switch name {
	case "futures":
		return c.Futures, true
	case "spot":
		return c.Spot, true
	}
	return EngineConfig{}, false
}
