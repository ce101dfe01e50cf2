package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults registers default values for every configuration key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 8420)
	v.SetDefault("gateway.rate_limit.enabled", true)
	v.SetDefault("gateway.rate_limit.max_requests", 500)
	v.SetDefault("gateway.rate_limit.window", 15*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")

	v.SetDefault("routing.mode", "respect_ranking")

	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.extraction_enabled", true)
	v.SetDefault("memory.consolidate_after_days", 7)
	v.SetDefault("memory.recall_limit", 10)
	v.SetDefault("memory.consolidate_interval", 24*time.Hour)

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", 30*time.Second)
	v.SetDefault("retry.max_delay", 30*time.Minute)
	v.SetDefault("retry.poll_interval", 30*time.Second)

	v.SetDefault("heartbeat.enabled", false)
	v.SetDefault("heartbeat.interval", 60*time.Minute)
	v.SetDefault("heartbeat.prompt", "Run a brief self-check: confirm memory, policy and providers are healthy. Reply with a one-line status.")

	v.SetDefault("failover.max_depth", 3)
	v.SetDefault("failover.max_handoff_context_tokens", 4000)

	v.SetDefault("task.timeout", 30*time.Minute)
	v.SetDefault("task.max_turns", 40)
}
