package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"   validate:"required"`
	Redis      RedisConfig      `mapstructure:"redis"      validate:"required"`
	Auth       AuthConfig       `mapstructure:"auth"       validate:"required"`
	LLM        LLMConfig        `mapstructure:"llm"        validate:"required"`
	Processing ProcessingConfig `mapstructure:"processing" validate:"required"`
	Quota      QuotaConfig      `mapstructure:"quota"      validate:"required"`
	Jobs       JobsConfig       `mapstructure:"jobs"       validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port            int    `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// RedisConfig contains the connection settings for the counter store used
// by the rate limiter and quota windows.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"   validate:"gte=0"`
}

// AuthConfig contains authentication settings for the admin surface.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// LLMConfig contains the Gemini integration settings shared by the
// transcription and analysis providers.
type LLMConfig struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key"      validate:"required"`
	ModelName         string `mapstructure:"model_name"          validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries"         validate:"gte=0"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
}

// ProcessingConfig tunes the orchestration pipeline.
type ProcessingConfig struct {
	BatchSize          int   `mapstructure:"batch_size"            validate:"required,gt=0"`
	MaxConcurrency     int   `mapstructure:"max_concurrency"       validate:"required,gt=0"`
	LockTTLMinutes     int   `mapstructure:"lock_ttl_minutes"      validate:"required,gt=0"`
	MaxNoteAttempts    int   `mapstructure:"max_note_attempts"     validate:"required,gt=0"`
	ProviderRateLimit  int64 `mapstructure:"provider_rate_limit"   validate:"required,gt=0"`
	RateWindowSeconds  int   `mapstructure:"rate_window_seconds"   validate:"required,gt=0"`
	FailureThreshold   int   `mapstructure:"failure_threshold"     validate:"required,gt=0"`
	ResetTimeoutSecs   int   `mapstructure:"reset_timeout_seconds" validate:"required,gt=0"`
	ProviderTimeoutSec int   `mapstructure:"provider_timeout_seconds" validate:"required,gt=0"`
}

// LockTTL returns the configured lock TTL as a duration.
func (c ProcessingConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// RateWindow returns the configured rate-limit window as a duration.
func (c ProcessingConfig) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

// ResetTimeout returns the circuit breaker cool-down as a duration.
func (c ProcessingConfig) ResetTimeout() time.Duration {
	return time.Duration(c.ResetTimeoutSecs) * time.Second
}

// QuotaConfig holds the per-principal ceilings enforced before new work is
// admitted.
type QuotaConfig struct {
	MaxNotesPerUser      int   `mapstructure:"max_notes_per_user"      validate:"required,gt=0"`
	MaxProcessingPerHour int64 `mapstructure:"max_processing_per_hour" validate:"required,gt=0"`
	MaxTokensPerDay      int64 `mapstructure:"max_tokens_per_day"      validate:"required,gt=0"`
	MaxStorageBytes      int64 `mapstructure:"max_storage_bytes"       validate:"required,gt=0"`
}

// JobsConfig tunes the background job queue.
type JobsConfig struct {
	BatchSize     int  `mapstructure:"batch_size"     validate:"required,gt=0"`
	MaxAttempts   int  `mapstructure:"max_attempts"   validate:"required,gt=0"`
	RetentionDays int  `mapstructure:"retention_days" validate:"required,gt=0"`
	TickSeconds   int  `mapstructure:"tick_seconds"   validate:"required,gt=0"`
	RunScheduler  bool `mapstructure:"run_scheduler"`
}

// Retention returns the terminal-job retention period as a duration.
func (c JobsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
