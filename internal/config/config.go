package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendSQLite   = "sqlite"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	GeminiAPIKey     string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel      string        `mapstructure:"GEMINI_MODEL"`
	GeminiImageModel string        `mapstructure:"GEMINI_IMAGE_MODEL"`
	GeminiBaseURL    string        `mapstructure:"GEMINI_BASE_URL"`
	AITimeout        time.Duration `mapstructure:"AI_TIMEOUT"`

	StoreBackend  string `mapstructure:"STORE_BACKEND"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`
	SQLitePath    string `mapstructure:"SQLITE_PATH"`
	RedisURL      string `mapstructure:"REDIS_URL"`

	AnalyzeRateLimit  int           `mapstructure:"ANALYZE_RATE_LIMIT"`
	AnalyzeRateWindow time.Duration `mapstructure:"ANALYZE_RATE_WINDOW"`
	APIRateLimit      int           `mapstructure:"API_RATE_LIMIT"`
	APIRateWindow     time.Duration `mapstructure:"API_RATE_WINDOW"`
	RateLimitCleanup  time.Duration `mapstructure:"RATE_LIMIT_CLEANUP"`
	IdempotencyTTL    time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_IMAGE_MODEL", "GEMINI_BASE_URL", "AI_TIMEOUT",
	"STORE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MONGO_URI", "MONGO_DATABASE", "SQLITE_PATH", "REDIS_URL",
	"ANALYZE_RATE_LIMIT", "ANALYZE_RATE_WINDOW", "API_RATE_LIMIT", "API_RATE_WINDOW",
	"RATE_LIMIT_CLEANUP", "IDEMPOTENCY_TTL",
	"CORS_ORIGINS", "BODY_LIMIT", "AUTH_SIGNING_KEY", "AUTH_ISSUER",
}

// Load reads the environment, after loading a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GEMINI_MODEL", "gemini-2.0-flash")
	v.SetDefault("GEMINI_IMAGE_MODEL", "gemini-2.0-flash-preview-image-generation")
	v.SetDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")
	v.SetDefault("AI_TIMEOUT", "0s")
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MONGO_DATABASE", "cdss")
	v.SetDefault("SQLITE_PATH", "cdss.db")
	v.SetDefault("ANALYZE_RATE_LIMIT", 10)
	v.SetDefault("ANALYZE_RATE_WINDOW", "60s")
	v.SetDefault("API_RATE_LIMIT", 300)
	v.SetDefault("API_RATE_WINDOW", "1m")
	v.SetDefault("RATE_LIMIT_CLEANUP", "5m")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("BODY_LIMIT", "2M")

	// AutomaticEnv alone is invisible to Unmarshal.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration can start a server. All problems
// are reported together.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND is postgres"))
		}
	case BackendMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required when STORE_BACKEND is mongo"))
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when STORE_BACKEND is sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be memory, postgres, mongo or sqlite, got %q", c.StoreBackend))
	}

	if c.AnalyzeRateLimit <= 0 || c.AnalyzeRateWindow <= 0 {
		errs = append(errs, errors.New("ANALYZE_RATE_LIMIT and ANALYZE_RATE_WINDOW must be positive"))
	}
	if c.APIRateLimit <= 0 || c.APIRateWindow <= 0 {
		errs = append(errs, errors.New("API_RATE_LIMIT and API_RATE_WINDOW must be positive"))
	}
	if c.RateLimitCleanup <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_CLEANUP must be positive"))
	}
	if c.AITimeout < 0 {
		errs = append(errs, errors.New("AI_TIMEOUT must not be negative"))
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		errs = append(errs, fmt.Errorf("AUTH_SIGNING_KEY must be set outside development (ENV=%q)", c.Env))
	}
	return errors.Join(errs...)
}
