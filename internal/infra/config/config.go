package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервиса суммаризации.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Mattermost struct {
		BaseURL           string        `envconfig:"MM_BASE_URL"`
		Token             string        `envconfig:"MM_TOKEN"`
		Timeout           time.Duration `envconfig:"MM_TIMEOUT" default:"30s"`
		PollInterval      time.Duration `envconfig:"MM_POLL_INTERVAL" default:"60s"`
		InitialFetchLimit int           `envconfig:"MM_INITIAL_FETCH_LIMIT" default:"50"`
	} `envconfig:""`

	OpenAI struct {
		APIKey          string        `envconfig:"OPENAI_API_KEY"`
		BaseURL         string        `envconfig:"OPENAI_BASE_URL"`
		Model           string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout         time.Duration `envconfig:"OPENAI_TIMEOUT" default:"120s"`
		Temperature     float64       `envconfig:"OPENAI_TEMPERATURE" default:"0.2"`
		MaxAttempts     int           `envconfig:"OPENAI_MAX_ATTEMPTS" default:"4"`
		RateLimitDelay  time.Duration `envconfig:"OPENAI_RATE_LIMIT_DELAY" default:"0"`
		ThrottleBackoff time.Duration `envconfig:"OPENAI_THROTTLE_BACKOFF" default:"30s"`
	} `envconfig:""`

	LLM struct {
		ContextWindow   int `envconfig:"LLM_CONTEXT_WINDOW" default:"8192"`
		MaxOutputTokens int `envconfig:"LLM_MAX_OUTPUT_TOKENS" default:"512"`
	} `envconfig:""`

	Batch struct {
		MaxChannels int `envconfig:"BATCH_MAX_CHANNELS" default:"3"`
		MaxChars    int `envconfig:"BATCH_MAX_CHARS" default:"60000"`
	} `envconfig:""`

	StorageDir string `envconfig:"STORAGE_DIR" default:"data"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQPURL string `envconfig:"AMQP_URL"`

	Queues struct {
		Summaries string `envconfig:"SUMMARY_QUEUE_KEY" default:"channel_summaries"`
	} `envconfig:""`

	NameCacheTTL time.Duration `envconfig:"NAME_CACHE_TTL" default:"12h"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
