package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains all runtime settings for the roleplay service.
type Config struct {
	BindAddr                 string        `env:"APP_BIND_ADDR" envDefault:":8080"`
	ShutdownTimeout          time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	SessionInactivityTimeout time.Duration `env:"APP_SESSION_INACTIVITY_TIMEOUT" envDefault:"30m"`
	MetricsNamespace         string        `env:"APP_METRICS_NAMESPACE" envDefault:"taleweaver"`
	AllowAnyOrigin           bool          `env:"APP_ALLOW_ANY_ORIGIN" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// MemoryStoreDriver is one of auto, memory, sqlite, postgres.
	// auto picks postgres when DatabaseURL is set, sqlite when MemorySQLitePath is set.
	MemoryStoreDriver string `env:"MEMORY_STORE_DRIVER" envDefault:"auto"`
	DatabaseURL       string `env:"DATABASE_URL"`
	MemorySQLitePath  string `env:"MEMORY_SQLITE_PATH"`

	EntitySeedPath string        `env:"ENTITY_SEED_PATH"`
	EntityCacheTTL time.Duration `env:"ENTITY_CACHE_TTL" envDefault:"1m"`

	// CompletionBackends lists backends in priority order.
	CompletionBackends         []string      `env:"COMPLETION_BACKENDS" envSeparator:"," envDefault:"local,anthropic"`
	CompletionLocalURL         string        `env:"COMPLETION_LOCAL_URL" envDefault:"http://127.0.0.1:5001/api/chat"`
	CompletionLocalModel       string        `env:"COMPLETION_LOCAL_MODEL"`
	AnthropicAPIKey            string        `env:"ANTHROPIC_API_KEY"`
	AnthropicModel             string        `env:"ANTHROPIC_MODEL" envDefault:"claude-3-5-haiku-latest"`
	AnthropicBaseURL           string        `env:"ANTHROPIC_BASE_URL"`
	CompletionTimeout          time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"60s"`
	CompletionMaxRetries       int           `env:"COMPLETION_MAX_RETRIES" envDefault:"0"`
	CompletionDefaultMaxTokens int           `env:"COMPLETION_DEFAULT_MAX_TOKENS" envDefault:"400"`
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.MemoryStoreDriver = strings.ToLower(strings.TrimSpace(c.MemoryStoreDriver))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.MemorySQLitePath = strings.TrimSpace(c.MemorySQLitePath)
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))

	backends := make([]string, 0, len(c.CompletionBackends))
	for _, b := range c.CompletionBackends {
		b = strings.ToLower(strings.TrimSpace(b))
		if b != "" {
			backends = append(backends, b)
		}
	}
	c.CompletionBackends = backends
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch c.MemoryStoreDriver {
	case "auto", "memory":
	case "sqlite":
		if c.MemorySQLitePath == "" {
			return fmt.Errorf("MEMORY_SQLITE_PATH is required for the sqlite memory store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres memory store")
		}
	default:
		return fmt.Errorf("MEMORY_STORE_DRIVER %q is invalid (expected auto|memory|sqlite|postgres)", c.MemoryStoreDriver)
	}
	switch c.LogFormat {
	case "text", "json", "pretty":
	default:
		return fmt.Errorf("LOG_FORMAT %q is invalid (expected text|json|pretty)", c.LogFormat)
	}
	if len(c.CompletionBackends) == 0 {
		return fmt.Errorf("COMPLETION_BACKENDS must list at least one backend")
	}
	for _, b := range c.CompletionBackends {
		switch b {
		case "local", "anthropic", "mock":
		default:
			return fmt.Errorf("COMPLETION_BACKENDS contains unsupported backend %q", b)
		}
	}
	if c.CompletionMaxRetries < 0 {
		return fmt.Errorf("COMPLETION_MAX_RETRIES must be >= 0")
	}
	if c.CompletionDefaultMaxTokens <= 0 {
		return fmt.Errorf("COMPLETION_DEFAULT_MAX_TOKENS must be positive")
	}
	return nil
}
