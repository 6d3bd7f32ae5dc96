package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries process-wide settings. Values come from the environment with
// an optional .env file for local development.
type Config struct {
	// HTTP
	Addr   string
	AppURL string
	Env    string

	// Database
	DatabaseDSN string

	// Auth
	AuthSecret string

	// Payment provider
	StripeAPIKey        string
	StripeWebhookSecret string

	// Text generation provider
	OpenAIAPIKey  string
	OpenAIBaseURL string
	DefaultModel  string

	// Mail
	ResendAPIKey string

	// Rate limiting
	RateBurst  int
	RatePerSec int
}

// Load reads configuration from the environment. A missing .env file is not
// an error.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Addr:                getEnv("NAMEGEN_ADDR", ":8080"),
		AppURL:              getEnv("APP_URL", "http://localhost:3000"),
		Env:                 getEnv("ENV", "development"),
		DatabaseDSN:         getEnv("NAMEGEN_PG_DSN", ""),
		AuthSecret:          getEnv("NAMEGEN_AUTH_SECRET", ""),
		StripeAPIKey:        getEnv("STRIPE_API_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		DefaultModel:        getEnv("NAMEGEN_DEFAULT_MODEL", "gpt-4o-mini"),
		ResendAPIKey:        getEnv("RESEND_API_KEY", ""),
		RateBurst:           getEnvAsInt("NAMEGEN_RATE_BURST", 20),
		RatePerSec:          getEnvAsInt("NAMEGEN_RATE_PER_SEC", 10),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
