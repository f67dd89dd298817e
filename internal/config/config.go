// Package config provides environment-based configuration management.
// The Config is built once in main and passed by reference; request code
// never reads the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Storage drivers
const (
	StorageMariaDB = "mariadb"
	StorageMemory  = "memory"
)

// DBConfig holds database connection parameters
type DBConfig struct {
	Driver       string        `env:"STORAGE_DRIVER" envDefault:"mariadb"`
	Host         string        `env:"DB_HOST" envDefault:"bewo_db"`
	Port         int           `env:"DB_PORT" envDefault:"3306"`
	User         string        `env:"DB_USER" envDefault:"root"`
	Password     string        `env:"DB_PASS"`
	Database     string        `env:"DB_NAME" envDefault:"bewo_chat"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	AutoMigrate  bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// RedisConfig holds Redis connection parameters.
// Empty Addr switches dedup and locking to in-process implementations.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"` // Format: host:port
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port            int           `env:"APP_PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	AdminKey        string        `env:"ADMIN_KEY"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"45s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MirrorLogs      bool          `env:"MIRROR_LOGS_TO_WS" envDefault:"false"`
}

// LLMConfig configures the OpenAI-compatible providers and the reply policy
type LLMConfig struct {
	Providers         []string      `env:"LLM_PROVIDERS" envSeparator:"," envDefault:"openrouter,openai"`
	OpenRouterAPIKey  string        `env:"OPENROUTER_API_KEY"`
	OpenRouterBaseURL string        `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	Model             string        `env:"LLM_MODEL" envDefault:"openai/gpt-4o-mini"`
	Timeout           time.Duration `env:"LLM_TIMEOUT" envDefault:"15s"`
	MaxTokens         int           `env:"LLM_MAX_TOKENS" envDefault:"2048"`
	Temperature       float32       `env:"LLM_TEMPERATURE" envDefault:"0.7"`
	HistoryLimit      int           `env:"LLM_HISTORY_LIMIT" envDefault:"10"`
	InputCostPer1K    float64       `env:"LLM_INPUT_COST_PER_1K" envDefault:"0.00015"` // USD
	OutputCostPer1K   float64       `env:"LLM_OUTPUT_COST_PER_1K" envDefault:"0.0006"` // USD
	GeneralPrompt     string        `env:"LLM_GENERAL_PROMPT"`
	FallbackText      string        `env:"FALLBACK_TEXT"`
	BreakerFailures   uint32        `env:"LLM_BREAKER_FAILURES" envDefault:"5"`
	BreakerCooldown   time.Duration `env:"LLM_BREAKER_COOLDOWN" envDefault:"30s"`
	Enabled           bool          `env:"LLM_ENABLED" envDefault:"true"`
}

// FacebookConfig holds Facebook webhook and Send API configuration
type FacebookConfig struct {
	Enabled         bool   `env:"FB_ENABLED" envDefault:"true"`
	AppSecret       string `env:"FB_APP_SECRET"`   // For HMAC SHA256 signature validation
	VerifyToken     string `env:"FB_VERIFY_TOKEN"` // For webhook verification handshake
	PageAccessToken string `env:"FB_PAGE_ACCESS_TOKEN"`
	GraphVersion    string `env:"FB_GRAPH_VERSION" envDefault:"v19.0"`
}

// ZaloConfig holds Zalo OA credentials
type ZaloConfig struct {
	Enabled      bool   `env:"ZALO_ENABLED" envDefault:"false"`
	AppID        string `env:"ZALO_APP_ID"`
	SecretKey    string `env:"ZALO_SECRET_KEY"`
	RefreshToken string `env:"ZALO_REFRESH_TOKEN"`
	OAID         string `env:"ZALO_OA_ID"`
}

// WebConfig configures the chat widget endpoint
type WebConfig struct {
	AllowedOrigins []string `env:"WEB_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// DeliveryConfig bounds outbound channel retries
type DeliveryConfig struct {
	MaxAttempts     int           `env:"DELIVERY_MAX_ATTEMPTS" envDefault:"3"`
	InitialInterval time.Duration `env:"DELIVERY_INITIAL_INTERVAL" envDefault:"500ms"`
	MaxInterval     time.Duration `env:"DELIVERY_MAX_INTERVAL" envDefault:"5s"`
	MaxElapsed      time.Duration `env:"DELIVERY_MAX_ELAPSED" envDefault:"30s"`
}

// WatchdogConfig drives the webhook log purge
type WatchdogConfig struct {
	Interval      time.Duration `env:"WATCHDOG_INTERVAL" envDefault:"1h"`
	DiskThreshold float64       `env:"WATCHDOG_DISK_THRESHOLD" envDefault:"80"`
	DiskPath      string        `env:"WATCHDOG_DISK_PATH" envDefault:"/"`
	RetentionDays int           `env:"WATCHDOG_RETENTION_DAYS" envDefault:"7"`
}

// Config aggregates all configuration sections
type Config struct {
	DB       DBConfig
	Redis    RedisConfig
	App      AppConfig
	LLM      LLMConfig
	Facebook FacebookConfig
	Zalo     ZaloConfig
	Web      WebConfig
	Delivery DeliveryConfig
	Watchdog WatchdogConfig

	ScenarioCacheTTL time.Duration `env:"SCENARIO_CACHE_TTL" envDefault:"5s"`
	DedupTTL         time.Duration `env:"DEDUP_TTL" envDefault:"24h"`
}

// LoadConfig reads an optional .env file, then the process environment.
// Returns error if critical variables are missing.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the process environment only
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	cfg.LLM.OpenRouterAPIKey = strings.TrimSpace(cfg.LLM.OpenRouterAPIKey)
	cfg.LLM.OpenAIAPIKey = strings.TrimSpace(cfg.LLM.OpenAIAPIKey)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on values the process cannot run without.
// A missing LLM key is not fatal: the gateway reports it per call.
func (c *Config) Validate() error {
	var errs []error

	switch c.DB.Driver {
	case StorageMariaDB:
		if c.DB.Password == "" {
			errs = append(errs, errors.New("DB_PASS environment variable is required"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageMariaDB, StorageMemory, c.DB.Driver))
	}

	if c.Facebook.Enabled {
		if c.Facebook.AppSecret == "" {
			errs = append(errs, errors.New("FB_APP_SECRET environment variable is required"))
		}
		if c.Facebook.VerifyToken == "" {
			errs = append(errs, errors.New("FB_VERIFY_TOKEN environment variable is required"))
		}
	}
	if c.Zalo.Enabled && (c.Zalo.AppID == "" || c.Zalo.SecretKey == "") {
		errs = append(errs, errors.New("ZALO_APP_ID and ZALO_SECRET_KEY are required when ZALO_ENABLED"))
	}
	if c.App.AdminKey == "" {
		errs = append(errs, errors.New("ADMIN_KEY environment variable is required"))
	}
	if c.Delivery.MaxAttempts < 1 {
		errs = append(errs, errors.New("DELIVERY_MAX_ATTEMPTS must be at least 1"))
	}
	if _, err := ParseLogLevel(c.App.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// GetDSN returns MariaDB connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// HasLLMKey reports whether any provider has credentials
func (c *LLMConfig) HasLLMKey() bool {
	return c.OpenRouterAPIKey != "" || c.OpenAIAPIKey != ""
}

// ParseLogLevel maps LOG_LEVEL onto slog levels
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be debug|info|warn|error, got %q", level)
	}
}
