package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Grading  GradingConfig
	Sync     SyncConfig
	Reports  ReportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GradingConfig selects the grading dialect and scale used for every recompute.
type GradingConfig struct {
	Dialect       string
	Scale         string
	PassThreshold float64
	StrictPass    bool
}

// SyncConfig tunes summary recomputation.
type SyncConfig struct {
	MaxAttempts  int
	RetryWorkers int
	RetryDelay   time.Duration
}

// ReportsConfig controls report card and dashboard caching.
type ReportsConfig struct {
	CacheEnabled      bool
	CacheTTL          time.Duration
	DashboardCacheTTL time.Duration
	SchoolName        string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Grading = GradingConfig{
		Dialect:       strings.ToLower(v.GetString("GRADING_DIALECT")),
		Scale:         strings.ToLower(v.GetString("GRADING_SCALE")),
		PassThreshold: v.GetFloat64("GRADING_PASS_THRESHOLD"),
		StrictPass:    v.GetBool("GRADING_STRICT_PASS"),
	}

	maxAttempts := v.GetInt("SUMMARY_RECOMPUTE_ATTEMPTS")
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	cfg.Sync = SyncConfig{
		MaxAttempts:  maxAttempts,
		RetryWorkers: v.GetInt("SUMMARY_RETRY_WORKERS"),
		RetryDelay:   parseDuration(v.GetString("SUMMARY_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Reports = ReportsConfig{
		CacheEnabled:      v.GetBool("ENABLE_REPORT_CACHE"),
		CacheTTL:          parseDuration(v.GetString("REPORTS_CACHE_TTL"), 10*time.Minute),
		DashboardCacheTTL: parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), time.Minute),
		SchoolName:        v.GetString("REPORTS_SCHOOL_NAME"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "student_results")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GRADING_DIALECT", "percentage")
	v.SetDefault("GRADING_SCALE", "")
	v.SetDefault("GRADING_PASS_THRESHOLD", 40)
	v.SetDefault("GRADING_STRICT_PASS", false)
	v.SetDefault("SUMMARY_RECOMPUTE_ATTEMPTS", 3)
	v.SetDefault("SUMMARY_RETRY_WORKERS", 2)
	v.SetDefault("SUMMARY_RETRY_DELAY", "5s")

	v.SetDefault("ENABLE_REPORT_CACHE", true)
	v.SetDefault("REPORTS_CACHE_TTL", "10m")
	v.SetDefault("DASHBOARD_CACHE_TTL", "1m")
	v.SetDefault("REPORTS_SCHOOL_NAME", "Student Results")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
