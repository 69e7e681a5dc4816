package syncengine

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the static policy for the engine: the priority table and the
// global dispatch, cleanup, and rate-limit knobs. Loaded once at
// initialization; no runtime mutation once the engine is running.
type Config struct {
	BatchSize            int           `env:"SYNC_BATCH_SIZE" envDefault:"25" json:"batch_size"`
	TickInterval         time.Duration `env:"SYNC_TICK_INTERVAL" envDefault:"2s" json:"tick_interval"`
	MaxConcurrentWorkers int           `env:"SYNC_MAX_CONCURRENT_WORKERS" envDefault:"5" json:"max_concurrent_workers"`
	CleanupInterval      time.Duration `env:"SYNC_CLEANUP_INTERVAL" envDefault:"1h" json:"cleanup_interval"`
	RetentionDays        int           `env:"SYNC_RETENTION_DAYS" envDefault:"7" json:"retention_days"`

	DeadLetter DeadLetterConfig            `json:"dead_letter"`
	Batching   BatchingConfig              `json:"batching"`
	RateLimit  RateLimitConfig             `json:"rate_limit"`
	Priorities map[Priority]PriorityPolicy `json:"priorities"`
}

// DeadLetterConfig controls dead-letter retention.
type DeadLetterConfig struct {
	Enabled       bool `env:"SYNC_DLQ_ENABLED" envDefault:"true" json:"enabled"`
	RetentionDays int  `env:"SYNC_DLQ_RETENTION_DAYS" envDefault:"7" json:"retention_days"`
}

// BatchingConfig controls table-level batch grouping.
type BatchingConfig struct {
	Enabled      bool `env:"SYNC_BATCHING_ENABLED" envDefault:"true" json:"enabled"`
	MaxBatchSize int  `env:"SYNC_BATCHING_MAX_SIZE" envDefault:"25" json:"max_batch_size"`
}

// RateLimitConfig controls the token bucket gating per-priority fetches.
type RateLimitConfig struct {
	Enabled       bool    `env:"SYNC_RATE_LIMIT_ENABLED" envDefault:"true" json:"enabled"`
	MaxPerSecond  float64 `env:"SYNC_RATE_LIMIT_PER_SECOND" envDefault:"100" json:"max_per_second"`
	BurstCapacity int     `env:"SYNC_RATE_LIMIT_BURST" envDefault:"200" json:"burst_capacity"`
}

// DefaultPriorities returns the default per-level retry and timeout table.
func DefaultPriorities() map[Priority]PriorityPolicy {
	return map[Priority]PriorityPolicy{
		PriorityCritical: {MaxRetries: 5, BaseRetryDelay: time.Second, Timeout: 30 * time.Second},
		PriorityHigh:     {MaxRetries: 3, BaseRetryDelay: 2 * time.Second, Timeout: 30 * time.Second},
		PriorityNormal:   {MaxRetries: 3, BaseRetryDelay: 5 * time.Second, Timeout: time.Minute},
		PriorityLow:      {MaxRetries: 2, BaseRetryDelay: 10 * time.Second, Timeout: 2 * time.Minute},
	}
}

// DefaultConfig returns the engine defaults. Caller overrides are merged
// shallowly on top via functional options.
func DefaultConfig() Config {
	return Config{
		BatchSize:            25,
		TickInterval:         2 * time.Second,
		MaxConcurrentWorkers: 5,
		CleanupInterval:      time.Hour,
		RetentionDays:        7,
		DeadLetter:           DeadLetterConfig{Enabled: true, RetentionDays: 7},
		Batching:             BatchingConfig{Enabled: true, MaxBatchSize: 25},
		RateLimit:            RateLimitConfig{Enabled: true, MaxPerSecond: 100, BurstCapacity: 200},
		Priorities:           DefaultPriorities(),
	}
}

var defaultEnvLoaded sync.Once

// LoadConfig parses the engine configuration from environment variables,
// loading a .env file first if one exists. Fields absent from the
// environment keep their defaults.
func LoadConfig() (Config, error) {
	defaultEnvLoaded.Do(func() {
		// The .env file might not exist and that's ok
		_ = godotenv.Load()
	})

	cfg := Config{Priorities: DefaultPriorities()}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse engine config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fileConfig mirrors Config for the YAML overlay. Durations are strings in
// Go duration syntax ("250ms", "2s") since yaml.v3 has no native
// time.Duration support; pointers distinguish "absent" from zero values so
// the overlay only touches what the file sets.
type fileConfig struct {
	BatchSize            *int    `yaml:"batch_size"`
	TickInterval         *string `yaml:"tick_interval"`
	MaxConcurrentWorkers *int    `yaml:"max_concurrent_workers"`
	CleanupInterval      *string `yaml:"cleanup_interval"`
	RetentionDays        *int    `yaml:"retention_days"`

	DeadLetter *struct {
		Enabled       *bool `yaml:"enabled"`
		RetentionDays *int  `yaml:"retention_days"`
	} `yaml:"dead_letter"`
	Batching *struct {
		Enabled      *bool `yaml:"enabled"`
		MaxBatchSize *int  `yaml:"max_batch_size"`
	} `yaml:"batching"`
	RateLimit *struct {
		Enabled       *bool    `yaml:"enabled"`
		MaxPerSecond  *float64 `yaml:"max_per_second"`
		BurstCapacity *int     `yaml:"burst_capacity"`
	} `yaml:"rate_limit"`
	Priorities map[string]struct {
		MaxRetries     *int    `yaml:"max_retries"`
		BaseRetryDelay *string `yaml:"base_retry_delay"`
		Timeout        *string `yaml:"timeout"`
	} `yaml:"priorities"`
}

// ApplyFile overlays values from a YAML file on top of the config.
// Primarily used to override the priority table without code changes.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setInt(&c.BatchSize, fc.BatchSize)
	setInt(&c.MaxConcurrentWorkers, fc.MaxConcurrentWorkers)
	setInt(&c.RetentionDays, fc.RetentionDays)
	if err := setDuration(&c.TickInterval, fc.TickInterval); err != nil {
		return fmt.Errorf("config file %s: tick_interval: %w", path, err)
	}
	if err := setDuration(&c.CleanupInterval, fc.CleanupInterval); err != nil {
		return fmt.Errorf("config file %s: cleanup_interval: %w", path, err)
	}

	if fc.DeadLetter != nil {
		setBool(&c.DeadLetter.Enabled, fc.DeadLetter.Enabled)
		setInt(&c.DeadLetter.RetentionDays, fc.DeadLetter.RetentionDays)
	}
	if fc.Batching != nil {
		setBool(&c.Batching.Enabled, fc.Batching.Enabled)
		setInt(&c.Batching.MaxBatchSize, fc.Batching.MaxBatchSize)
	}
	if fc.RateLimit != nil {
		setBool(&c.RateLimit.Enabled, fc.RateLimit.Enabled)
		setInt(&c.RateLimit.BurstCapacity, fc.RateLimit.BurstCapacity)
		if fc.RateLimit.MaxPerSecond != nil {
			c.RateLimit.MaxPerSecond = *fc.RateLimit.MaxPerSecond
		}
	}

	if c.Priorities == nil {
		c.Priorities = DefaultPriorities()
	}
	for level, overlay := range fc.Priorities {
		policy := c.policy(Priority(level))
		setInt(&policy.MaxRetries, overlay.MaxRetries)
		if err := setDuration(&policy.BaseRetryDelay, overlay.BaseRetryDelay); err != nil {
			return fmt.Errorf("config file %s: %s base_retry_delay: %w", path, level, err)
		}
		if err := setDuration(&policy.Timeout, overlay.Timeout); err != nil {
			return fmt.Errorf("config file %s: %s timeout: %w", path, level, err)
		}
		c.Priorities[Priority(level)] = policy
	}

	return c.Validate()
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// Validate checks that configuration values are usable.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick interval must be positive, got %v", ErrInvalidConfig, c.TickInterval)
	}
	if c.MaxConcurrentWorkers <= 0 {
		return fmt.Errorf("%w: max concurrent workers must be positive, got %d", ErrInvalidConfig, c.MaxConcurrentWorkers)
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.BurstCapacity <= 0 {
			return fmt.Errorf("%w: rate limit burst capacity must be positive, got %d", ErrInvalidConfig, c.RateLimit.BurstCapacity)
		}
		if c.RateLimit.MaxPerSecond <= 0 {
			return fmt.Errorf("%w: rate limit refill rate must be positive, got %v", ErrInvalidConfig, c.RateLimit.MaxPerSecond)
		}
	}
	for level, policy := range c.Priorities {
		if !level.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidPriority, level)
		}
		if policy.MaxRetries < 0 {
			return fmt.Errorf("%w: %s max retries must be non-negative", ErrInvalidConfig, level)
		}
		if policy.BaseRetryDelay <= 0 {
			return fmt.Errorf("%w: %s base retry delay must be positive", ErrInvalidConfig, level)
		}
		if policy.Timeout <= 0 {
			return fmt.Errorf("%w: %s timeout must be positive", ErrInvalidConfig, level)
		}
	}
	return nil
}

// policy returns the policy for a level, falling back to the normal-level
// defaults when the table has no entry.
func (c Config) policy(p Priority) PriorityPolicy {
	if policy, ok := c.Priorities[p]; ok {
		return policy
	}
	return DefaultPriorities()[PriorityNormal]
}
