// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// CepSMS gateway
	CepSMSBaseURL  string
	CepSMSUsername string // default credential, privileged-sender fallback only
	CepSMSPassword string
	CepSMSFrom     string
	CepSMSAccounts string // JSON array of gateway accounts (optional)
	// CepSMSInsecureTLS skips certificate verification. Some gateway hosts
	// serve an incomplete chain; only enable when that bites.
	CepSMSInsecureTLS bool

	// Dispatch settings
	ConcurrentLimit int           // max sends in flight per wave
	WaveDelay       time.Duration // pause between waves
	SendTimeout     time.Duration // per-recipient gateway timeout

	// Reconciler settings
	StatusGrace    time.Duration // don't poll messages younger than this
	StatusInterval time.Duration // status sweep cadence
	StatusMaxAge   time.Duration // force-settle unsettled messages older than this
	RefundDelay    time.Duration // refund maturation window
	RefundInterval time.Duration // refund sweep cadence

	// Security
	AdminSecret  string // X-Admin-Secret for admin/cron endpoints
	RateLimitRPM int

	// Observability
	OTLPEndpoint string
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultCepSMSBaseURL   = "https://panel4.cepsms.com/smsapi"
	DefaultConcurrentLimit = 500
	DefaultRateLimit       = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		CepSMSBaseURL:     getEnv("CEPSMS_API_URL", DefaultCepSMSBaseURL),
		CepSMSUsername:    os.Getenv("CEPSMS_USERNAME"),
		CepSMSPassword:    os.Getenv("CEPSMS_PASSWORD"),
		CepSMSFrom:        os.Getenv("CEPSMS_FROM"),
		CepSMSAccounts:    os.Getenv("CEPSMS_ACCOUNTS"),
		CepSMSInsecureTLS: getEnvBool("CEPSMS_INSECURE_TLS", false),
		ConcurrentLimit:   getEnvInt("CONCURRENT_LIMIT", DefaultConcurrentLimit),
		WaveDelay:         getEnvDuration("WAVE_DELAY", 2*time.Second),
		SendTimeout:       getEnvDuration("SEND_TIMEOUT", 30*time.Second),
		StatusGrace:       getEnvDuration("STATUS_GRACE", 5*time.Minute),
		StatusInterval:    getEnvDuration("STATUS_INTERVAL", 5*time.Minute),
		StatusMaxAge:      getEnvDuration("STATUS_MAX_AGE", 48*time.Hour),
		RefundDelay:       getEnvDuration("REFUND_DELAY", 48*time.Hour),
		RefundInterval:    getEnvDuration("REFUND_INTERVAL", time.Hour),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:      getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.CepSMSBaseURL == "" {
		return fmt.Errorf("CEPSMS_API_URL is required")
	}
	if c.ConcurrentLimit <= 0 {
		return fmt.Errorf("CONCURRENT_LIMIT must be positive")
	}
	if c.RefundDelay <= 0 {
		return fmt.Errorf("REFUND_DELAY must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
