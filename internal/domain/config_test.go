package domain

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watchtower.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Tier != TierCommunity || cfg.Cache.Type != "memory" || cfg.EventBus.Type != "channel" {
		t.Errorf("unexpected community backends: %+v", cfg)
	}
	if cfg.Simulation.Interval != 800*time.Millisecond || cfg.Simulation.Capacity != 15 {
		t.Errorf("unexpected feed defaults: %+v", cfg.Simulation)
	}

	pro := ProConfig()
	if pro.Cache.Type != "redis" || !pro.Cache.EnableTwoPhase || pro.EventBus.Type != "nats" {
		t.Errorf("unexpected pro backends: %+v", pro)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("NoFile", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 8080 {
			t.Errorf("expected default port, got %d", cfg.Server.Port)
		}
	})

	t.Run("YAMLFile", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 9090
simulation:
  interval: 250ms
  capacity: 5
  seed: 42
latency:
  enabled: false
logging:
  format: text
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Simulation.Interval != 250*time.Millisecond || cfg.Simulation.Capacity != 5 || cfg.Simulation.Seed != 42 {
			t.Errorf("unexpected simulation config: %+v", cfg.Simulation)
		}
		// Fields absent from the file keep their defaults.
		if cfg.Simulation.BotAttackRate != 0.15 || cfg.Cache.VerdictTTL != 10*time.Minute {
			t.Errorf("defaults lost: %+v %+v", cfg.Simulation, cfg.Cache)
		}
		if cfg.Latency.Enabled || cfg.Latency.For(DetectorBot) != 0 {
			t.Error("expected latency disabled")
		}
		if cfg.Logging.Format != "text" {
			t.Errorf("expected text logging, got %q", cfg.Logging.Format)
		}
	})

	t.Run("EnvOverridesFile", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 9090\n")
		t.Setenv("WATCHTOWER_PORT", "7070")
		t.Setenv("WATCHTOWER_FEED_INTERVAL", "2s")
		t.Setenv("WATCHTOWER_DEBUG", "true")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 7070 || cfg.Simulation.Interval != 2*time.Second || cfg.Logging.Level != "debug" {
			t.Errorf("env not applied: %+v %+v %+v", cfg.Server, cfg.Simulation, cfg.Logging)
		}
	})

	t.Run("AllowedOriginsEnv", func(t *testing.T) {
		t.Setenv("WATCHTOWER_ALLOWED_ORIGINS", "https://soc.example, ,https://ops.example ")
		t.Setenv("WATCHTOWER_NATS_PREFIX", "staging")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		want := []string{"https://soc.example", "https://ops.example"}
		if !slices.Equal(cfg.Server.AllowedOrigins, want) {
			t.Errorf("expected origins %v, got %v", want, cfg.Server.AllowedOrigins)
		}
		if cfg.EventBus.NATSSubjectPrefix != "staging" {
			t.Errorf("expected NATS prefix staging, got %q", cfg.EventBus.NATSSubjectPrefix)
		}
	})

	t.Run("ProTier", func(t *testing.T) {
		t.Setenv("WATCHTOWER_TIER", "pro")
		t.Setenv("WATCHTOWER_REDIS_ADDR", "redis:6379")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Tier != TierPro || cfg.Cache.RedisAddr != "redis:6379" {
			t.Errorf("unexpected pro config: %+v", cfg.Cache)
		}
	})

	t.Run("Errors", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
		if _, err := LoadConfig(writeConfig(t, "server: [")); err == nil {
			t.Error("expected error for malformed YAML")
		}
		if _, err := LoadConfig(writeConfig(t, "simulation:\n  botAttackRate: 1.5\n")); err == nil {
			t.Error("expected error for out-of-range rate")
		}
	})

	t.Run("InvalidEnv", func(t *testing.T) {
		t.Setenv("WATCHTOWER_PORT", "eighty")
		if _, err := LoadConfig(""); err == nil {
			t.Error("expected error for non-numeric port")
		}
	})
}

func TestLatencyFor(t *testing.T) {
	l := LatencyConfig{Enabled: true, Phishing: 900 * time.Millisecond, Bot: 800 * time.Millisecond, Network: time.Second}

	tests := map[Detector]time.Duration{
		DetectorPhishing: 900 * time.Millisecond,
		DetectorBot:      800 * time.Millisecond,
		DetectorNetwork:  time.Second,
		Detector("x"):    0,
	}
	for d, want := range tests {
		if got := l.For(d); got != want {
			t.Errorf("For(%q) = %v, want %v", d, got, want)
		}
	}
}
