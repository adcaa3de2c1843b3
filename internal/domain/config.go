package domain

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Watchtower configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines which backends are used
	Tier Tier `yaml:"tier"`

	// Component configurations
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`
	Simulation SimulationConfig `yaml:"simulation"`
	Latency    LatencyConfig    `yaml:"latency"`
	Stats      StatsConfig      `yaml:"stats"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds; 0 keeps event streams open

	// AllowedOrigins restricts CORS. Empty reflects any origin.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// SimulationConfig controls the live feed and the synthetic generators.
type SimulationConfig struct {
	Interval time.Duration `yaml:"interval"`
	Capacity int           `yaml:"capacity"`

	// Probability that a generated sample is an attack.
	BotAttackRate   float64 `yaml:"botAttackRate"`
	StateAttackRate float64 `yaml:"stateAttackRate"`

	// Seed makes generated traffic reproducible. Zero seeds from the OS.
	Seed uint64 `yaml:"seed"`

	// ShadowScoring re-scores feed samples with the detectors.
	ShadowScoring bool `yaml:"shadowScoring"`
}

// LatencyConfig holds the artificial delay applied before a detector
// answers an interactive request.
type LatencyConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Phishing time.Duration `yaml:"phishing"`
	Bot      time.Duration `yaml:"bot"`
	Network  time.Duration `yaml:"network"`
}

// For returns the configured delay for a detector, zero when disabled.
func (c LatencyConfig) For(d Detector) time.Duration {
	if !c.Enabled {
		return 0
	}
	switch d {
	case DetectorPhishing:
		return c.Phishing
	case DetectorBot:
		return c.Bot
	case DetectorNetwork:
		return c.Network
	}
	return 0
}

// StatsConfig holds dashboard counter settings.
type StatsConfig struct {
	Window time.Duration `yaml:"window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs entirely in process: LRU cache + channel bus
	TierCommunity Tier = "community"

	// TierPro uses Redis + NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 0,
		},
		Tier: TierCommunity,
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			VerdictTTL:   10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Simulation: SimulationConfig{
			Interval:        800 * time.Millisecond,
			Capacity:        15,
			BotAttackRate:   0.15,
			StateAttackRate: 0.12,
			ShadowScoring:   true,
		},
		Latency: LatencyConfig{
			Enabled:  true,
			Phishing: 900 * time.Millisecond,
			Bot:      800 * time.Millisecond,
			Network:  1000 * time.Millisecond,
		},
		Stats: StatsConfig{
			Window: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		VerdictTTL:     10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	return cfg
}

// LoadConfig builds a configuration from the tier defaults, an optional
// YAML file and WATCHTOWER_* environment variables, in that order.
// An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if os.Getenv("WATCHTOWER_TIER") == string(TierPro) {
		cfg = ProConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays WATCHTOWER_* environment variables onto the configuration.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("WATCHTOWER_HOST"); v != "" {
		c.Server.Host = v
	}
	if err := envInt("WATCHTOWER_PORT", &c.Server.Port); err != nil {
		return err
	}
	if v := os.Getenv("WATCHTOWER_CACHE"); v != "" {
		c.Cache.Type = v
	}
	if v := os.Getenv("WATCHTOWER_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("WATCHTOWER_REDIS_PASSWORD"); v != "" {
		c.Cache.RedisPassword = v
	}
	if v := os.Getenv("WATCHTOWER_REDIS_PREFIX"); v != "" {
		c.Cache.RedisKeyPrefix = v
	}
	if v := os.Getenv("WATCHTOWER_BUS"); v != "" {
		c.EventBus.Type = v
	}
	if v := os.Getenv("WATCHTOWER_NATS_URL"); v != "" {
		c.EventBus.NATSUrl = v
	}
	if v := os.Getenv("WATCHTOWER_NATS_TOKEN"); v != "" {
		c.EventBus.NATSToken = v
	}
	if v := os.Getenv("WATCHTOWER_NATS_PREFIX"); v != "" {
		c.EventBus.NATSSubjectPrefix = v
	}
	if v := os.Getenv("WATCHTOWER_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, origin)
			}
		}
	}
	if err := envDuration("WATCHTOWER_FEED_INTERVAL", &c.Simulation.Interval); err != nil {
		return err
	}
	if v := os.Getenv("WATCHTOWER_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("WATCHTOWER_SEED: %w", err)
		}
		c.Simulation.Seed = seed
	}
	if v := os.Getenv("WATCHTOWER_SIMULATED_LATENCY"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WATCHTOWER_SIMULATED_LATENCY: %w", err)
		}
		c.Latency.Enabled = enabled
	}
	if v := os.Getenv("WATCHTOWER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if os.Getenv("WATCHTOWER_DEBUG") == "true" {
		c.Logging.Level = "debug"
	}
	if v := os.Getenv("WATCHTOWER_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Simulation.Interval <= 0 {
		return fmt.Errorf("simulation.interval must be positive")
	}
	if c.Simulation.Capacity <= 0 {
		return fmt.Errorf("simulation.capacity must be positive")
	}
	for name, rate := range map[string]float64{
		"simulation.botAttackRate":   c.Simulation.BotAttackRate,
		"simulation.stateAttackRate": c.Simulation.StateAttackRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s must be within [0,1], got %g", name, rate)
		}
	}
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
