package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the dispatch engine.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Profile      ProfileConfig
	Sweeper      SweeperConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines token verification parameters. Tokens are issued by
// the identity service; the engine only verifies them.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// ProfileConfig points at the external profile/eligibility service.
type ProfileConfig struct {
	BaseURL            string
	TimeoutSeconds     int
	CacheTTLSeconds    int
	EligibilityCaching bool
}

// SweeperConfig drives the expiration sweeper thresholds and cadence.
type SweeperConfig struct {
	IntervalSeconds          int
	PendingUnattendedMinutes int // T1: pending older than this becomes unattended
	PendingExpireMinutes     int // T2: pending older than this becomes expired
	SessionStaleMinutes      int // T3: waiting/live older than this is force-closed
	BatchSize                int
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	WebhookURL    string
	SettlementURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "dispatch-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Profile: ProfileConfig{
			BaseURL:            getEnv("PROFILE_SERVICE_URL", "http://127.0.0.1:8090"),
			TimeoutSeconds:     getEnvAsInt("PROFILE_SERVICE_TIMEOUT_SECONDS", 5),
			CacheTTLSeconds:    getEnvAsInt("ELIGIBILITY_CACHE_TTL_SECONDS", 30),
			EligibilityCaching: getEnvAsBool("ELIGIBILITY_CACHE_ENABLED", true),
		},
		Sweeper: SweeperConfig{
			IntervalSeconds:          getEnvAsInt("SWEEP_INTERVAL_SECONDS", 60),
			PendingUnattendedMinutes: getEnvAsInt("SWEEP_PENDING_UNATTENDED_MINUTES", 15),
			PendingExpireMinutes:     getEnvAsInt("SWEEP_PENDING_EXPIRE_MINUTES", 240),
			SessionStaleMinutes:      getEnvAsInt("SWEEP_SESSION_STALE_MINUTES", 120),
			BatchSize:                getEnvAsInt("SWEEP_BATCH_SIZE", 200),
		},
		Notification: NotificationConfig{
			WebhookURL:    getEnv("NOTIFY_WEBHOOK_URL", ""),
			SettlementURL: getEnv("SETTLEMENT_WEBHOOK_URL", ""),
		},
	}

	if cfg.Sweeper.PendingExpireMinutes <= cfg.Sweeper.PendingUnattendedMinutes {
		return nil, fmt.Errorf("SWEEP_PENDING_EXPIRE_MINUTES must exceed SWEEP_PENDING_UNATTENDED_MINUTES")
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Interval returns the sweep cadence.
func (s SweeperConfig) Interval() time.Duration {
	if s.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}

// UnattendedAfter returns T1.
func (s SweeperConfig) UnattendedAfter() time.Duration {
	return time.Duration(s.PendingUnattendedMinutes) * time.Minute
}

// ExpireAfter returns T2.
func (s SweeperConfig) ExpireAfter() time.Duration {
	return time.Duration(s.PendingExpireMinutes) * time.Minute
}

// SessionStaleAfter returns T3.
func (s SweeperConfig) SessionStaleAfter() time.Duration {
	return time.Duration(s.SessionStaleMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
