package model

import "time"

// ----------------------------------------------------
// ================ Logging ================
type LogConfig struct {
	Level      string `envconfig:"LEVEL" default:"info"`
	Format     string `envconfig:"FORMAT" default:"json"` // json, console
	Output     string `envconfig:"OUTPUT" default:"stdout"`
	FilePath   string `envconfig:"FILE_PATH" default:"logs/fuelbot.log"`
	TimeFormat string `envconfig:"TIME_FORMAT" default:"rfc3339"`
}

// ----------------------------------------------------
// ================ Storage ================
type RedisConfig struct {
	URL string `envconfig:"URL" default:"redis://localhost:6379/0"`
	// Memory switches to the in-process store (single instance, development only)
	Memory bool `envconfig:"MEMORY" default:"false"`
}

type DatabaseConfig struct {
	Driver          string        `envconfig:"DRIVER" default:"sqlite"` // sqlite, postgres
	DSN             string        `envconfig:"DSN" default:"data/fuelbot.db"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"5m"`
}

type SessionConfig struct {
	TTL               time.Duration `envconfig:"TTL" default:"30m"`
	ContextTTL        time.Duration `envconfig:"CONTEXT_TTL" default:"5m"`
	Compress          bool          `envconfig:"COMPRESS" default:"true"`
	CompressThreshold int           `envconfig:"COMPRESS_THRESHOLD" default:"1024"`
	Backup            bool          `envconfig:"BACKUP" default:"true"`
}

// ----------------------------------------------------
// ================ Resilience ================
type BreakerConfig struct {
	FailureThreshold int           `envconfig:"FAILURE_THRESHOLD" default:"5"`
	CooldownPeriod   time.Duration `envconfig:"COOLDOWN_PERIOD" default:"60s"`
	SuccessThreshold int           `envconfig:"SUCCESS_THRESHOLD" default:"2"`
}

type TimeoutConfig struct {
	ExternalAI  time.Duration `envconfig:"EXTERNAL_AI" default:"10s"`
	PriceQuery  time.Duration `envconfig:"PRICE_QUERY" default:"5s"`
	Analytics   time.Duration `envconfig:"ANALYTICS" default:"3s"`
	Webhook     time.Duration `envconfig:"WEBHOOK" default:"25s"`
	Default     time.Duration `envconfig:"DEFAULT" default:"8s"`
	BaseDelay   time.Duration `envconfig:"BASE_DELAY" default:"500ms"`
	MaxRetries  int           `envconfig:"MAX_RETRIES" default:"3"`
	Multipliers []float64     `envconfig:"MULTIPLIERS" default:"1,2,4"`
}

type ConcurrencyConfig struct {
	MaxConversations  int           `envconfig:"MAX_CONVERSATIONS" default:"100"`
	ConversationTTL   time.Duration `envconfig:"CONVERSATION_TTL" default:"2m"`
	QueueTTL          time.Duration `envconfig:"QUEUE_TTL" default:"5m"`
	DrainInterval     time.Duration `envconfig:"DRAIN_INTERVAL" default:"5s"`
	BackpressureRatio float64       `envconfig:"BACKPRESSURE_RATIO" default:"0.8"`
}

type DegradationConfig struct {
	CheckInterval   time.Duration `envconfig:"CHECK_INTERVAL" default:"30s"`
	MemoryDegraded  float64       `envconfig:"MEMORY_DEGRADED" default:"0.85"`
	MemoryUnhealthy float64       `envconfig:"MEMORY_UNHEALTHY" default:"0.95"`
	RedisSlow       time.Duration `envconfig:"REDIS_SLOW" default:"100ms"`
	DatabaseSlow    time.Duration `envconfig:"DATABASE_SLOW" default:"500ms"`
	PingTimeout     time.Duration `envconfig:"PING_TIMEOUT" default:"2s"`
}

// ----------------------------------------------------
// ================ NLP / LLM ================
type NLPConfig struct {
	ConfidenceThreshold float64 `envconfig:"CONFIDENCE_THRESHOLD" default:"0.7"`
	FuzzyThreshold      float64 `envconfig:"FUZZY_THRESHOLD" default:"0.8"`
	LexiconPath         string  `envconfig:"LEXICON_PATH"`
}

type LLMConfig struct {
	Provider    string  `envconfig:"PROVIDER" default:"openai"` // openai, deepseek, ark, ollama
	Model       string  `envconfig:"MODEL" default:"openai/gpt-4o-mini"`
	APIKey      string  `envconfig:"API_KEY"`
	BaseURL     string  `envconfig:"BASE_URL"` // provider default when empty
	MaxTokens   int     `envconfig:"MAX_TOKENS" default:"300"`
	Temperature float64 `envconfig:"TEMPERATURE" default:"0.1"`
}

// ----------------------------------------------------
// ================ Transport ================
type TelegramConfig struct {
	Token         string        `envconfig:"TOKEN"`
	BotName       string        `envconfig:"BOT_NAME"` // commands addressed to other bots are ignored
	BaseURL       string        `envconfig:"BASE_URL" default:"https://api.telegram.org"`
	PollTimeout   time.Duration `envconfig:"POLL_TIMEOUT" default:"30s"`
	UseWebhook    bool          `envconfig:"USE_WEBHOOK" default:"false"`
	WebhookSecret string        `envconfig:"WEBHOOK_SECRET"`
}

type HTTPConfig struct {
	Addr string `envconfig:"ADDR" default:":8080"`
}
