// Package config loads and validates the daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"zora/pkg/logger"
)

// Config is the root configuration structure, loaded from
// ~/.zora/config.toml with ZORA_* environment overrides.
type Config struct {
	Gateway   GatewayConfig            `mapstructure:"gateway"`
	Log       logger.Config            `mapstructure:"log"`
	Providers map[string]ProviderEntry `mapstructure:"providers"`
	Routing   RoutingConfig            `mapstructure:"routing"`
	Memory    MemoryConfig             `mapstructure:"memory"`
	Retry     RetryConfig              `mapstructure:"retry"`
	Heartbeat HeartbeatConfig          `mapstructure:"heartbeat"`
	Failover  FailoverConfig           `mapstructure:"failover"`
	Task      TaskConfig               `mapstructure:"task"`
}

// GatewayConfig configures the HTTP/SSE server.
type GatewayConfig struct {
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port"`
	StaticDir string          `mapstructure:"static_dir"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures the per-IP request window.
type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// ProviderEntry is the static configuration of one provider; immutable for
// the process lifetime.
type ProviderEntry struct {
	Enabled      bool     `mapstructure:"enabled"`
	Kind         string   `mapstructure:"kind"` // anthropic, openai
	Rank         int      `mapstructure:"rank"` // lower = preferred
	Capabilities []string `mapstructure:"capabilities"`
	CostTier     string   `mapstructure:"cost_tier"`
	Model        string   `mapstructure:"model"`
	APIKeyEnv    string   `mapstructure:"api_key_env"`
	BaseURL      string   `mapstructure:"base_url"`
	MaxTokens    int      `mapstructure:"max_tokens"`
}

// RoutingConfig configures provider selection.
type RoutingConfig struct {
	// Mode is respect_ranking, optimize_cost, round_robin, or
	// provider_only.
	Mode string `mapstructure:"mode"`
	// Provider pins the provider when mode is provider_only.
	Provider string `mapstructure:"provider"`
}

// MemoryConfig configures the hierarchical memory manager.
type MemoryConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	ExtractionEnabled    bool          `mapstructure:"extraction_enabled"`
	ConsolidateAfterDays int           `mapstructure:"consolidate_after_days"`
	RecallLimit          int           `mapstructure:"recall_limit"`
	ConsolidateInterval  time.Duration `mapstructure:"consolidate_interval"`
}

// RetryConfig configures the durable retry queue.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// HeartbeatConfig configures the periodic self-check task.
type HeartbeatConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Prompt   string        `mapstructure:"prompt"`
}

// FailoverConfig bounds cross-provider handoff.
type FailoverConfig struct {
	MaxDepth                int `mapstructure:"max_depth"`
	MaxHandoffContextTokens int `mapstructure:"max_handoff_context_tokens"`
}

// TaskConfig holds per-task execution defaults.
type TaskConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxTurns int           `mapstructure:"max_turns"`
}

// ErrInvalidConfig marks configuration errors; fatal at boot only.
var ErrInvalidConfig = errors.New("invalid config")

// Load reads config.toml from the base directory. A missing file yields the
// defaults; a malformed file is fatal.
func Load(paths Paths) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(paths.ConfigFile())
	v.SetConfigType("toml")
	v.SetEnvPrefix("ZORA")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("%w: gateway.port %d out of range", ErrInvalidConfig, c.Gateway.Port)
	}
	if c.Failover.MaxDepth < 0 {
		return fmt.Errorf("%w: failover.max_depth must be >= 0", ErrInvalidConfig)
	}
	switch c.Routing.Mode {
	case "respect_ranking", "optimize_cost", "round_robin":
	case "provider_only":
		if c.Routing.Provider == "" {
			return fmt.Errorf("%w: routing.provider required for provider_only mode", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown routing.mode %q", ErrInvalidConfig, c.Routing.Mode)
	}
	for name, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		switch p.Kind {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("%w: provider %s has unknown kind %q", ErrInvalidConfig, name, p.Kind)
		}
	}
	return nil
}
