package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config centralizes runtime settings for the API, the queue processor and
// the optimizer subprocess.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	LogLevel       string `env:"LOG_LEVEL"       envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`

	// AuthTokens maps bearer tokens to owner ids, formatted as token:owner pairs.
	AuthTokens         map[string]string `env:"API_AUTH_TOKENS"      envSeparator:"," envKeyValSeparator:":"`
	CORSAllowedOrigins []string          `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	RateLimitRPS       float64           `env:"RATE_LIMIT_RPS"       envDefault:"20"`
	RateLimitBurst     int               `env:"RATE_LIMIT_BURST"     envDefault:"40"`
	UploadMaxBytes     int64             `env:"UPLOAD_MAX_BYTES"     envDefault:"10485760"`

	DatabaseURL string `env:"DATABASE_URL"`

	Redis RedisConfig `envPrefix:"REDIS_"`
	Queue QueueConfig `envPrefix:"QUEUE_"`

	Optimizer OptimizerConfig `envPrefix:"OPTIMIZER_"`

	JobIDMaxAttempts int           `env:"JOB_ID_MAX_ATTEMPTS" envDefault:"5"`
	JobIDRetryBase   time.Duration `env:"JOB_ID_RETRY_BASE"   envDefault:"20ms"`

	IdempotencyTTL        time.Duration `env:"IDEMPOTENCY_TTL"         envDefault:"15m"`
	IdempotencyMaxEntries int           `env:"IDEMPOTENCY_MAX_ENTRIES" envDefault:"2000"`

	WorkerEnabled bool `env:"WORKER_ENABLED" envDefault:"true"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"         envDefault:"0"`
	Stream   string `env:"STREAM"     envDefault:"route_jobs"`
	DLQ      string `env:"DLQ_STREAM" envDefault:"route_jobs_dlq"`
	Group    string `env:"GROUP"      envDefault:"route_workers"`
	Consumer string `env:"CONSUMER"   envDefault:"api-1"`
}

type QueueConfig struct {
	MaxAttempts       int           `env:"MAX_ATTEMPTS"         envDefault:"3"`
	BufferSize        int           `env:"BUFFER_SIZE"          envDefault:"512"`
	BatchingEnabled   bool          `env:"BATCHING_ENABLED"     envDefault:"true"`
	BatchSize         int           `env:"BATCH_SIZE"           envDefault:"32"`
	BatchFlush        time.Duration `env:"BATCH_FLUSH"          envDefault:"25ms"`
	BatchFlushTimeout time.Duration `env:"BATCH_FLUSH_TIMEOUT"  envDefault:"3s"`
	BatchCapacity     int           `env:"BATCH_QUEUE_CAPACITY" envDefault:"2048"`
	BatchMaxInFlight  int           `env:"BATCH_MAX_IN_FLIGHT"  envDefault:"4"`
}

// OptimizerConfig describes how the external optimization process is launched.
type OptimizerConfig struct {
	Command           string        `env:"COMMAND"            envDefault:"python"`
	Args              []string      `env:"ARGS"               envDefault:"python_scripts/app.py" envSeparator:" "`
	WorkDir           string        `env:"WORKDIR"`
	TempDir           string        `env:"TEMP_DIR"`
	Timeout           time.Duration `env:"TIMEOUT"            envDefault:"5m"`
	StructuredChannel bool          `env:"STRUCTURED_CHANNEL" envDefault:"true"`
}

// Load reads .env files (process variables keep precedence) and parses the
// environment into a sanitized Config.
func Load(dotenvPaths ...string) (Config, error) {
	for _, path := range dotenvPaths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		// godotenv.Load never overrides variables that are already set.
		_ = godotenv.Load(path)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// Sanitize applies guardrails to values loaded from the environment.
func (c *Config) Sanitize() {
	if strings.TrimSpace(c.Port) == "" {
		c.Port = "8080"
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 20
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 40
	}
	if c.UploadMaxBytes <= 0 {
		c.UploadMaxBytes = 10 << 20
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.BufferSize <= 0 {
		c.Queue.BufferSize = 512
	}
	if c.Optimizer.Timeout <= 0 {
		c.Optimizer.Timeout = 5 * time.Minute
	}
	if strings.TrimSpace(c.Optimizer.Command) == "" {
		c.Optimizer.Command = "python"
	}
	if c.JobIDMaxAttempts <= 0 {
		c.JobIDMaxAttempts = 5
	}
	if c.JobIDRetryBase <= 0 {
		c.JobIDRetryBase = 20 * time.Millisecond
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 15 * time.Minute
	}
	if c.IdempotencyMaxEntries <= 0 {
		c.IdempotencyMaxEntries = 2000
	}

	tokens := make(map[string]string, len(c.AuthTokens))
	for token, owner := range c.AuthTokens {
		token = strings.TrimSpace(token)
		owner = strings.TrimSpace(owner)
		if token == "" || owner == "" {
			continue
		}
		tokens[token] = owner
	}
	c.AuthTokens = tokens
}
