package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	// NotifyChannel is the Redis pub/sub channel used to fan push events out
	// to every API instance.
	NotifyChannel string

	JWTSecret          string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	StripeSecretKey   string
	StripeBaseURL     string
	StripeDryRun      bool
	PaymentSuccessURL string
	PaymentCancelURL  string

	SweepInterval      time.Duration
	PaymentGracePeriod time.Duration
	// DisplayTimezone renders slot times inside notification text.
	DisplayTimezone string

	// Email mirror for notifications: sendgrid, ses or none.
	EmailProvider  string
	SendGridAPIKey string
	EmailFrom      string
	EmailFromName  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		NotifyChannel: getEnv("NOTIFY_CHANNEL", "clinic:notifications"),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:3001"}),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		StripeSecretKey:   getEnv("STRIPE_SECRET_KEY", ""),
		StripeBaseURL:     getEnv("STRIPE_BASE_URL", ""),
		StripeDryRun:      getEnvAsBool("STRIPE_DRY_RUN", false),
		PaymentSuccessURL: getEnv("PAYMENT_SUCCESS_URL", "http://localhost:3000/success"),
		PaymentCancelURL:  getEnv("PAYMENT_CANCEL_URL", "http://localhost:3000/dashboard"),

		SweepInterval:      getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		PaymentGracePeriod: getEnvAsDuration("PAYMENT_GRACE_PERIOD", 30*time.Minute),
		DisplayTimezone:    getEnv("DISPLAY_TIMEZONE", "UTC"),

		EmailProvider:  normalizeProvider(getEnv("EMAIL_PROVIDER", "none")),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:      getEnv("EMAIL_FROM", ""),
		EmailFromName:  getEnv("EMAIL_FROM_NAME", "Clinic Booking"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// Provider returns EmailProvider lower-cased and trimmed, so configs built
// by hand compare the same way as loaded ones.
func (c *Config) Provider() string {
	if c == nil {
		return ""
	}
	return normalizeProvider(c.EmailProvider)
}

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return defaultValue
}

// getEnvAsSlice splits a comma separated variable, dropping blanks.
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
