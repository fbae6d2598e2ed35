package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Backend API
	BackendAPIURL   string
	UpstreamTimeout time.Duration

	// Stripe configs
	StripeSecretKey         string
	StripePublishableKey    string
	StripeWebhookSecret     string
	StripeCaptureMethod     string
	CancelSupersededIntents bool

	// Server configs
	Port        string
	Environment string

	// Payments
	DefaultCurrency string
	QClubCurrency   string

	// Storage
	DatabaseURL string
	RedisURL    string

	// New Relic
	NewRelicAppName    string
	NewRelicLicenseKey string

	// Receipts
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string

	// Additional configs
	CorsAllowedOrigins []string
	LogLevel           string
	ApplePayDomainFile string
}

// Load initializes configuration from environment variables and .env file
func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	config := FromEnv()
	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return config
}

// FromEnv reads the environment without validating it.
func FromEnv() *Config {
	config := &Config{
		BackendAPIURL:   strings.TrimRight(getEnv("BACKEND_API_URL", ""), "/"),
		UpstreamTimeout: getDurationEnv("UPSTREAM_TIMEOUT", 15*time.Second),

		StripeSecretKey:         getEnv("STRIPE_SECRET_KEY", ""),
		StripePublishableKey:    getEnv("STRIPE_PUBLISHABLE_KEY", ""),
		StripeWebhookSecret:     getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeCaptureMethod:     strings.ToLower(getEnv("STRIPE_CAPTURE_METHOD", "automatic")),
		CancelSupersededIntents: getBoolEnv("CANCEL_SUPERSEDED_INTENTS", true),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DefaultCurrency: strings.ToLower(getEnv("DEFAULT_CURRENCY", "usd")),
		QClubCurrency:   strings.ToUpper(getEnv("QCLUB_CURRENCY", "IQD")),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		NewRelicAppName:    getEnv("NEW_RELIC_APP_NAME", "cafe-checkout"),
		NewRelicLicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("FROM_EMAIL", ""),
		FromName:     getEnv("FROM_NAME", "Taken Cafe"),

		ApplePayDomainFile: getEnv("APPLE_PAY_DOMAIN_FILE", ""),
	}

	// Parse CORS allowed origins
	corsOrigins := getEnv("CORS_ALLOWED_ORIGINS", "")
	if corsOrigins != "" {
		for _, origin := range strings.Split(corsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				config.CorsAllowedOrigins = append(config.CorsAllowedOrigins, origin)
			}
		}
	} else {
		config.CorsAllowedOrigins = []string{"*"}
	}

	return config
}

// Validate checks required keys and enumerated values.
func (c *Config) Validate() error {
	if c.BackendAPIURL == "" {
		return fmt.Errorf("required environment variable not set: BACKEND_API_URL")
	}
	if c.StripeSecretKey == "" {
		return fmt.Errorf("required environment variable not set: STRIPE_SECRET_KEY")
	}
	if c.StripeCaptureMethod != "automatic" && c.StripeCaptureMethod != "manual" {
		return fmt.Errorf("STRIPE_CAPTURE_METHOD must be automatic or manual, got %q", c.StripeCaptureMethod)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) ReceiptsEnabled() bool {
	return c.SMTPHost != "" && c.FromEmail != ""
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
