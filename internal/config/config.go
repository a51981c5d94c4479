package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Database  DatabaseConfig
	LLM       LLMConfig
	Groq      ProviderConfig
	OpenAI    ProviderConfig
	Gemini    ProviderConfig
	Images    ImagesConfig
	R2        R2Config
	Queue     QueueConfig
	Otel      OtelConfig
	Prompts   PromptsConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	GeneratePerHour int
	PreviewPerMin   int
}

type DatabaseConfig struct {
	DSN         string
	AutoMigrate bool
}

// IsPostgres reports whether the DSN selects the Postgres driver.
func (d DatabaseConfig) IsPostgres() bool {
	return strings.HasPrefix(d.DSN, "postgres://") || strings.HasPrefix(d.DSN, "postgresql://")
}

type LLMConfig struct {
	DefaultProvider string
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
}

// ProviderConfig holds the credentials and model of one model provider.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type ImagesConfig struct {
	Enabled bool
	Model   string
	Size    string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type QueueConfig struct {
	StuckThreshold time.Duration
	MaxAutoRetries int
	SweepSpec      string
	Concurrency    int
}

type OtelConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
	ServiceName string
}

type PromptsConfig struct {
	File string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("DATABASE_DSN")
	readSecret("GROQ_API_KEY")
	readSecret("OPENAI_API_KEY")
	readSecret("GEMINI_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	binds := map[string]string{
		"server.port":             "SERVER_PORT",
		"server.env":              "SERVER_ENV",
		"server.log_level":        "LOG_LEVEL",
		"redis.addr":              "REDIS_ADDR",
		"redis.password":          "REDIS_PASSWORD",
		"redis.db":                "REDIS_DB",
		"jwt.secret":              "JWT_SECRET",
		"database.dsn":            "DATABASE_DSN",
		"database.auto_migrate":   "DATABASE_AUTO_MIGRATE",
		"llm.default_provider":    "LLM_DEFAULT_PROVIDER",
		"llm.max_retries":         "LLM_MAX_RETRIES",
		"groq.api_key":            "GROQ_API_KEY",
		"groq.base_url":           "GROQ_BASE_URL",
		"groq.model":              "GROQ_MODEL",
		"openai.api_key":          "OPENAI_API_KEY",
		"openai.base_url":         "OPENAI_BASE_URL",
		"openai.model":            "OPENAI_MODEL",
		"gemini.api_key":          "GEMINI_API_KEY",
		"gemini.model":            "GEMINI_MODEL",
		"images.enabled":          "IMAGES_ENABLED",
		"images.model":            "IMAGES_MODEL",
		"r2.account_id":           "R2_ACCOUNT_ID",
		"r2.access_key_id":        "R2_ACCESS_KEY_ID",
		"r2.secret_access_key":    "R2_SECRET_ACCESS_KEY",
		"r2.bucket_name":          "R2_BUCKET_NAME",
		"r2.public_url":           "R2_PUBLIC_URL",
		"queue.stuck_threshold":   "QUEUE_STUCK_THRESHOLD",
		"queue.max_auto_retries":  "QUEUE_MAX_AUTO_RETRIES",
		"queue.sweep_spec":        "QUEUE_SWEEP_SPEC",
		"queue.concurrency":       "QUEUE_CONCURRENCY",
		"otel.enabled":            "OTEL_ENABLED",
		"otel.endpoint":           "OTEL_EXPORTER_OTLP_ENDPOINT",
		"otel.insecure":           "OTEL_EXPORTER_OTLP_INSECURE",
		"otel.sample_ratio":       "OTEL_SAMPLER_RATIO",
		"prompts.file":            "PROMPTS_FILE",
	}
	for key, env := range binds {
		_ = v.BindEnv(key, env)
	}

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("ratelimit.generate_per_hour", 20)
	v.SetDefault("ratelimit.preview_per_min", 10)
	v.SetDefault("database.dsn", "rankforge.db")
	v.SetDefault("database.auto_migrate", true)

	// Model defaults
	v.SetDefault("llm.default_provider", "groq")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.backoff_base", "1s")
	v.SetDefault("llm.backoff_cap", "8s")
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("gemini.model", "gemini-2.0-flash")

	v.SetDefault("images.enabled", false)
	v.SetDefault("images.model", "gpt-image-1")
	v.SetDefault("images.size", "1536x1024")

	// Queue defaults
	v.SetDefault("queue.stuck_threshold", "10m")
	v.SetDefault("queue.max_auto_retries", 2)
	v.SetDefault("queue.sweep_spec", "@every 1m")
	v.SetDefault("queue.concurrency", 4)

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.sample_ratio", 0.1)
	v.SetDefault("otel.service_name", "rankforge")

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: v.GetInt("ratelimit.generate_per_hour"),
			PreviewPerMin:   v.GetInt("ratelimit.preview_per_min"),
		},
		Database: DatabaseConfig{
			DSN:         v.GetString("database.dsn"),
			AutoMigrate: v.GetBool("database.auto_migrate"),
		},
		LLM: LLMConfig{
			DefaultProvider: v.GetString("llm.default_provider"),
			MaxRetries:      v.GetInt("llm.max_retries"),
			BackoffBase:     v.GetDuration("llm.backoff_base"),
			BackoffCap:      v.GetDuration("llm.backoff_cap"),
		},
		Groq: ProviderConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
		},
		OpenAI: ProviderConfig{
			APIKey:  v.GetString("openai.api_key"),
			BaseURL: v.GetString("openai.base_url"),
			Model:   v.GetString("openai.model"),
		},
		Gemini: ProviderConfig{
			APIKey: v.GetString("gemini.api_key"),
			Model:  v.GetString("gemini.model"),
		},
		Images: ImagesConfig{
			Enabled: v.GetBool("images.enabled"),
			Model:   v.GetString("images.model"),
			Size:    v.GetString("images.size"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Queue: QueueConfig{
			StuckThreshold: v.GetDuration("queue.stuck_threshold"),
			MaxAutoRetries: v.GetInt("queue.max_auto_retries"),
			SweepSpec:      v.GetString("queue.sweep_spec"),
			Concurrency:    v.GetInt("queue.concurrency"),
		},
		Otel: OtelConfig{
			Enabled:     v.GetBool("otel.enabled"),
			Endpoint:    v.GetString("otel.endpoint"),
			Insecure:    v.GetBool("otel.insecure"),
			SampleRatio: v.GetFloat64("otel.sample_ratio"),
			ServiceName: v.GetString("otel.service_name"),
		},
		Prompts: PromptsConfig{
			File: v.GetString("prompts.file"),
		},
	}

	return cfg, nil
}
