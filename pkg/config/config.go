package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcclellann/carloan/pkg/penalty"
	"github.com/mcclellann/carloan/pkg/rates"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application
type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel zerolog.Level

	// Storage
	DatabasePath string

	// Estimate cache. An empty RedisAddr selects the in-memory cache.
	RedisAddr        string
	EstimateCacheTTL time.Duration

	// Rate limiting, per client IP. X-Forwarded-For is honored only when
	// TrustProxyHeaders is set.
	RateLimitPerMinute int
	RateLimitBurst     int
	TrustProxyHeaders  bool

	OverdueSweepInterval time.Duration

	// Loan terms applied when a request leaves them out
	Defaults LoanDefaults
}

// LoanDefaults are origination terms used when a request omits them.
type LoanDefaults struct {
	AnnualRatePercent decimal.Decimal
	Compounding       rates.Compounding
	PenaltyType       penalty.Type
	PenaltyRate       decimal.Decimal
	GraceDays         int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	return parse()
}

func parse() (*Config, error) {
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cacheTTL, err := time.ParseDuration(getEnv("ESTIMATE_CACHE_TTL", "10m"))
	if err != nil {
		return nil, fmt.Errorf("ESTIMATE_CACHE_TTL: %w", err)
	}
	sweep, err := time.ParseDuration(getEnv("OVERDUE_SWEEP_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("OVERDUE_SWEEP_INTERVAL: %w", err)
	}
	perMinute, err := strconv.Atoi(getEnv("RATE_LIMIT_PER_MINUTE", "120"))
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE: %w", err)
	}
	burst, err := strconv.Atoi(getEnv("RATE_LIMIT_BURST", "20"))
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_BURST: %w", err)
	}
	trustProxy, err := strconv.ParseBool(getEnv("TRUST_PROXY_HEADERS", "false"))
	if err != nil {
		return nil, fmt.Errorf("TRUST_PROXY_HEADERS: %w", err)
	}
	apr, err := decimal.NewFromString(getEnv("DEFAULT_APR", "6"))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_APR: %w", err)
	}
	penaltyRate, err := decimal.NewFromString(getEnv("DEFAULT_PENALTY_RATE", "5"))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_PENALTY_RATE: %w", err)
	}
	graceDays, err := strconv.Atoi(getEnv("DEFAULT_GRACE_DAYS", "5"))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_GRACE_DAYS: %w", err)
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		Env:                  getEnv("ENV", "development"),
		LogLevel:             level,
		DatabasePath:         getEnv("DATABASE_PATH", "carloan.db"),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		EstimateCacheTTL:     cacheTTL,
		RateLimitPerMinute:   perMinute,
		RateLimitBurst:       burst,
		TrustProxyHeaders:    trustProxy,
		OverdueSweepInterval: sweep,
		Defaults: LoanDefaults{
			AnnualRatePercent: apr,
			Compounding:       rates.ParseCompounding(getEnv("DEFAULT_COMPOUNDING", "monthly")),
			PenaltyType:       penalty.ParseType(getEnv("DEFAULT_PENALTY_TYPE", "percent_per_month")),
			PenaltyRate:       penaltyRate,
			GraceDays:         graceDays,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.RateLimitPerMinute <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must be positive")
	}
	if c.OverdueSweepInterval <= 0 {
		return fmt.Errorf("OVERDUE_SWEEP_INTERVAL must be positive")
	}
	if c.Defaults.AnnualRatePercent.IsNegative() {
		return fmt.Errorf("DEFAULT_APR must not be negative")
	}
	if c.Defaults.PenaltyRate.IsNegative() {
		return fmt.Errorf("DEFAULT_PENALTY_RATE must not be negative")
	}
	if c.Defaults.GraceDays < 0 {
		return fmt.Errorf("DEFAULT_GRACE_DAYS must not be negative")
	}
	return nil
}

// IsProduction reports whether logs should be JSON rather than console output.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
