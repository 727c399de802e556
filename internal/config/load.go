package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables use the
// VERBATIM_ prefix with underscores separating nested keys
// (e.g. VERBATIM_DATABASE_URL) and take precedence over file values.
// Returns a populated Config or an error if loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VERBATIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars alone can carry the config.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers default values for everything that has a sensible
// one. Required secrets (database URL, JWT secret, API key) have no default
// and must be provided by the environment.
func setDefaults(v *viper.Viper) {
	// Required secrets get empty defaults so viper knows the keys exist;
	// AutomaticEnv only overlays keys it has seen, and validation rejects
	// the empty values if the environment does not supply them.
	v.SetDefault("database.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("redis.password", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_seconds", 2)

	v.SetDefault("processing.batch_size", 10)
	v.SetDefault("processing.max_concurrency", 4)
	v.SetDefault("processing.lock_ttl_minutes", 15)
	v.SetDefault("processing.max_note_attempts", 3)
	v.SetDefault("processing.provider_rate_limit", 60)
	v.SetDefault("processing.rate_window_seconds", 60)
	v.SetDefault("processing.failure_threshold", 5)
	v.SetDefault("processing.reset_timeout_seconds", 60)
	v.SetDefault("processing.provider_timeout_seconds", 120)

	v.SetDefault("quota.max_notes_per_user", 100)
	v.SetDefault("quota.max_processing_per_hour", 30)
	v.SetDefault("quota.max_tokens_per_day", 500000)
	v.SetDefault("quota.max_storage_bytes", 1<<30)

	v.SetDefault("jobs.batch_size", 20)
	v.SetDefault("jobs.max_attempts", 3)
	v.SetDefault("jobs.retention_days", 30)
	v.SetDefault("jobs.tick_seconds", 60)
	v.SetDefault("jobs.run_scheduler", true)
}
