package domain

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigs(t *testing.T) {
	community := DefaultConfig()
	if community.Tier != TierCommunity || community.Repository.Driver != "sqlite" || community.Cache.Type != "memory" {
		t.Errorf("unexpected community defaults %+v", community)
	}
	if err := community.Validate(); err != nil {
		t.Errorf("community defaults invalid: %v", err)
	}

	pro := ProConfig()
	if pro.Tier != TierPro || pro.EventBus.Type != "nats" || !pro.Cache.EnableTwoPhase {
		t.Errorf("unexpected pro defaults %+v", pro)
	}
	if err := pro.Validate(); err != nil {
		t.Errorf("pro defaults invalid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("FileOverDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kestrel.yaml")
		content := `
server:
  port: 9090
repository:
  driver: sqlite
  sqlitePath: /tmp/kestrel-test.db
sampling:
  reliabilityFactors: {90: 2.31, 95: 3.0, 99: 4.61}
  expansionFactors: {90: 1.5, 95: 1.6, 99: 1.9}
  controlSizeCap: 500
  amountWeight: 0.5
  indicatorWeight: 0.5
  resultTtl: 2m
  highRiskRules:
    - id: round-amounts
      expression: "abs_amount >= 10000.0"
      enabled: true
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Server.Host != "0.0.0.0" {
			t.Errorf("expected default host to survive, got %q", cfg.Server.Host)
		}
		if cfg.Sampling.ControlSizeCap != 500 || cfg.Sampling.ResultTTL != 2*time.Minute {
			t.Errorf("unexpected sampling config %+v", cfg.Sampling)
		}
		if len(cfg.Sampling.HighRiskRules) != 1 || !cfg.Sampling.HighRiskRules[0].Enabled {
			t.Errorf("unexpected rules %+v", cfg.Sampling.HighRiskRules)
		}
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("KESTREL_CONFIG", "")
		t.Setenv("KESTREL_TIER", "pro")
		t.Setenv("KESTREL_DEBUG", "true")
		t.Setenv("KESTREL_PORT", "7070")
		t.Setenv("KESTREL_TENANTS", "acme-audit,globex")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Tier != TierPro || cfg.Logging.Level != "debug" || cfg.Server.Port != 7070 {
			t.Errorf("env overrides not applied: %+v", cfg)
		}
		if len(cfg.Worker.TenantIDs) != 2 || cfg.Worker.TenantIDs[1] != "globex" {
			t.Errorf("unexpected tenants %v", cfg.Worker.TenantIDs)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected an error for a missing config file")
		}
	})
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"Driver":         func(c *Config) { c.Repository.Driver = "mysql" },
		"CacheType":      func(c *Config) { c.Cache.Type = "memcached" },
		"BusType":        func(c *Config) { c.EventBus.Type = "kafka" },
		"WeightsOverOne": func(c *Config) { c.Sampling.AmountWeight = 0.8 },
		"IndicatorScore": func(c *Config) { c.Sampling.IndicatorScores[RiskHigh] = 1.5 },
		"ControlCap":     func(c *Config) { c.Sampling.ControlSizeCap = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
