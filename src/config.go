package src

import (
	"fmt"
	"fuelbot/src/model"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LogConfig         model.LogConfig         `envconfig:"LOG"`
	RedisConfig       model.RedisConfig       `envconfig:"REDIS"`
	DatabaseConfig    model.DatabaseConfig    `envconfig:"DATABASE"`
	SessionConfig     model.SessionConfig     `envconfig:"SESSION"`
	BreakerConfig     model.BreakerConfig     `envconfig:"BREAKER"`
	TimeoutConfig     model.TimeoutConfig     `envconfig:"TIMEOUT"`
	ConcurrencyConfig model.ConcurrencyConfig `envconfig:"CONCURRENCY"`
	DegradationConfig model.DegradationConfig `envconfig:"DEGRADATION"`
	NLPConfig         model.NLPConfig         `envconfig:"NLP"`
	LLMConfig         model.LLMConfig         `envconfig:"LLM"`
	TelegramConfig    model.TelegramConfig    `envconfig:"TELEGRAM"`
	HTTPConfig        model.HTTPConfig        `envconfig:"HTTP"`
}

func LoadConfig() (*Config, error) {
	var config Config
	err := envconfig.Process("", &config)
	if err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks the values envconfig cannot check on its own.
func (c *Config) Validate() error {
	if c.SessionConfig.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SessionConfig.ContextTTL <= 0 || c.SessionConfig.ContextTTL > c.SessionConfig.TTL {
		return fmt.Errorf("SESSION_CONTEXT_TTL must be > 0 and <= SESSION_TTL")
	}
	if c.BreakerConfig.FailureThreshold <= 0 || c.BreakerConfig.SuccessThreshold <= 0 {
		return fmt.Errorf("BREAKER thresholds must be > 0")
	}
	if c.TimeoutConfig.MaxRetries <= 0 {
		return fmt.Errorf("TIMEOUT_MAX_RETRIES must be > 0")
	}
	if len(c.TimeoutConfig.Multipliers) == 0 {
		return fmt.Errorf("TIMEOUT_MULTIPLIERS cannot be empty")
	}
	if c.ConcurrencyConfig.MaxConversations <= 0 {
		return fmt.Errorf("CONCURRENCY_MAX_CONVERSATIONS must be > 0")
	}
	if c.ConcurrencyConfig.BackpressureRatio <= 0 || c.ConcurrencyConfig.BackpressureRatio > 1 {
		return fmt.Errorf("CONCURRENCY_BACKPRESSURE_RATIO must be in (0,1]")
	}
	if c.DegradationConfig.MemoryDegraded >= c.DegradationConfig.MemoryUnhealthy {
		return fmt.Errorf("DEGRADATION_MEMORY_DEGRADED must be below DEGRADATION_MEMORY_UNHEALTHY")
	}
	if c.NLPConfig.ConfidenceThreshold < 0 || c.NLPConfig.ConfidenceThreshold > 1 {
		return fmt.Errorf("NLP_CONFIDENCE_THRESHOLD must be in [0,1]")
	}
	switch c.DatabaseConfig.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseConfig.Driver)
	}
	if c.TelegramConfig.UseWebhook && c.TelegramConfig.WebhookSecret == "" {
		return fmt.Errorf("TELEGRAM_WEBHOOK_SECRET is required when TELEGRAM_USE_WEBHOOK is set")
	}
	return nil
}
