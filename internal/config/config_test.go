package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestValidateAllocationOverflow(t *testing.T) {
	cfg := Default()
	cfg.Futures.CapitalPct = 70
	cfg.Spot.CapitalPct = 40
	err := cfg.Validate()
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("err = %v, want ErrConfigInvalid", err)
	}
}

func TestValidateDisabledEngineShareIgnored(t *testing.T) {
	cfg := Default()
	cfg.Futures.CapitalPct = 90
	cfg.Spot.CapitalPct = 90
	cfg.Spot.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled engine share should not count: %v", err)
	}
}

func TestValidateNoEnginesEnabled(t *testing.T) {
	cfg := Default()
	cfg.Futures.Enabled = false
	cfg.Spot.Enabled = false
	if err := cfg.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("err = %v, want ErrConfigInvalid", err)
	}
}

func TestValidateLeverageHardCap(t *testing.T) {
	cfg := Default()
	cfg.Futures.LeverageMax = 20
	if err := cfg.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("err = %v, want ErrConfigInvalid for leverage above cap", err)
	}
}

func TestValidatePartialFractionsSum(t *testing.T) {
	cfg := Default()
	cfg.Futures.PartialTP1Fraction = 0.6
	cfg.Futures.PartialTP2Fraction = 0.5
	if err := cfg.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("err = %v, want ErrConfigInvalid for fractions >= 100%%", err)
	}
}

func TestValidateHeartbeatOrdering(t *testing.T) {
	cfg := Default()
	cfg.Global.HeartbeatWarnSeconds = 600
	cfg.Global.HeartbeatRestartSeconds = 300
	if err := cfg.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("err = %v, want ErrConfigInvalid for warn >= restart", err)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")
	yaml := `
futures:
  capitalPct: 55
  maxPositions: 2
spot:
  capitalPct: 45
server:
  port: 9999
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Futures.CapitalPct != 55 || cfg.Spot.CapitalPct != 45 {
		t.Errorf("capital = %v/%v, want 55/45", cfg.Futures.CapitalPct, cfg.Spot.CapitalPct)
	}
	if cfg.Futures.MaxPositions != 2 {
		t.Errorf("maxPositions = %d, want 2", cfg.Futures.MaxPositions)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	// Untouched keys keep their defaults.
	if cfg.Global.MaxRestarts != 3 {
		t.Errorf("maxRestarts = %d, want default 3", cfg.Global.MaxRestarts)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")
	yaml := `
futures:
  capitalPct: 80
spot:
  capitalPct: 40
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("err = %v, want ErrConfigInvalid", err)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load("/nonexistent/bot.yaml"); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("err = %v, want ErrConfigInvalid", err)
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := Default()
	if err := cfg.RequireCredentials(); !errors.Is(err, ErrCredentialsMissing) {
		t.Fatalf("err = %v, want ErrCredentialsMissing", err)
	}
	cfg.Credentials.APIKey = "k"
	cfg.Credentials.APISecret = "s"
	if err := cfg.RequireCredentials(); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}
