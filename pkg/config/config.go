// Package config loads the agent-hub configuration from an optional
// YAML file and AGENTHUB_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIConfig defines the HTTP boundary configuration.
type APIConfig struct {
	ListenAddress string        `mapstructure:"listen_address"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`

	// Rate limiting for the tool dispatch surface.
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig contains connection and pool settings for the store.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// CacheConfig configures the resolved-context cache layers.
type CacheConfig struct {
	// TTLSeconds bounds how long a resolved view may serve without
	// recomputation.
	TTLSeconds int `mapstructure:"ttl_seconds"`

	// MaxEntries is the LRU ceiling of the in-process front.
	MaxEntries int `mapstructure:"max_entries"`

	// RedisAddress enables the shared Redis backend when non-empty.
	RedisAddress  string `mapstructure:"redis_address"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// EngineConfig carries the behavioral knobs of the orchestration core.
type EngineConfig struct {
	DelegationWorkerParallelism int           `mapstructure:"delegation_worker_parallelism"`
	DelegationQueueSize         int           `mapstructure:"delegation_queue_size"`
	DelegationSweepInterval     time.Duration `mapstructure:"delegation_sweep_interval"`
	NextTaskTimeoutMS           int           `mapstructure:"next_task_timeout_ms"`
	ToolCallTimeoutMS           int           `mapstructure:"tool_call_timeout_ms"`
	ReopenGraceSeconds          int           `mapstructure:"reopen_grace_seconds"`
	IdempotencyWindowSeconds    int           `mapstructure:"idempotency_window_seconds"`
	MaxWriteRetries             int           `mapstructure:"max_write_retries"`
}

// Config holds the complete application configuration.
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	API         APIConfig      `mapstructure:"api"`
	Database    DatabaseConfig `mapstructure:"database"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Engine      EngineConfig   `mapstructure:"engine"`
}

// NextTaskTimeout returns the next-task deadline as a duration.
func (c *Config) NextTaskTimeout() time.Duration {
	return time.Duration(c.Engine.NextTaskTimeoutMS) * time.Millisecond
}

// ToolCallTimeout returns the general tool-call deadline as a duration.
func (c *Config) ToolCallTimeout() time.Duration {
	return time.Duration(c.Engine.ToolCallTimeoutMS) * time.Millisecond
}

// ReopenGrace returns the window within which a completed task may be
// reopened.
func (c *Config) ReopenGrace() time.Duration {
	return time.Duration(c.Engine.ReopenGraceSeconds) * time.Second
}

// CacheTTL returns the resolved-context cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// IdempotencyWindow returns the exact-repeat detection window.
func (c *Config) IdempotencyWindow() time.Duration {
	return time.Duration(c.Engine.IdempotencyWindowSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 45*time.Second)
	v.SetDefault("api.idle_timeout", 90*time.Second)
	v.SetDefault("api.enable_metrics", true)
	v.SetDefault("api.rate_limit_per_second", 100.0)
	v.SetDefault("api.rate_limit_burst", 200)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("cache.ttl_seconds", 600)
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("engine.delegation_worker_parallelism", 4)
	v.SetDefault("engine.delegation_queue_size", 256)
	v.SetDefault("engine.delegation_sweep_interval", 30*time.Second)
	v.SetDefault("engine.next_task_timeout_ms", 5000)
	v.SetDefault("engine.tool_call_timeout_ms", 30000)
	v.SetDefault("engine.reopen_grace_seconds", 86400)
	v.SetDefault("engine.idempotency_window_seconds", 300)
	v.SetDefault("engine.max_write_retries", 3)
}

// Load reads configuration from the file named by AGENTHUB_CONFIG_FILE
// (default configs/config.yaml, optional) and the environment. Environment
// keys use the AGENTHUB_ prefix with dots replaced by underscores, e.g.
// AGENTHUB_DATABASE_URL.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("AGENTHUB_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("AGENTHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	// Common non-prefixed variables used by container environments.
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("cache.redis_address", "REDIS_ADDR")

	if err := v.ReadInConfig(); err != nil {
		// The config file is optional when the environment is complete.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// Validate reports configuration errors that would prevent startup.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (set AGENTHUB_DATABASE_URL)")
	}
	if c.Engine.DelegationWorkerParallelism < 1 {
		return fmt.Errorf("engine.delegation_worker_parallelism must be >= 1")
	}
	if c.Cache.TTLSeconds < 1 {
		return fmt.Errorf("cache.ttl_seconds must be >= 1")
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be >= 1")
	}
	if c.Engine.MaxWriteRetries < 0 {
		return fmt.Errorf("engine.max_write_retries must be >= 0")
	}
	return nil
}
