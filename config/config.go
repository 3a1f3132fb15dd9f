package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Provider
	OpenAIAPIKey string
	OpenAIModel  string // default model for metered completions

	// Metering
	MonthlyLimitUSD float64 // per-user monthly spending cap, default: 10.0

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitTPM int64 // tokens per minute, default: 100000
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-5-nano"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	// Monthly spending cap
	limitStr := getEnv("AI_MONTHLY_LIMIT_USD", "10.0")
	limit, err := strconv.ParseFloat(limitStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid AI_MONTHLY_LIMIT_USD: %w", err)
	}
	if limit < 0 {
		return nil, fmt.Errorf("AI_MONTHLY_LIMIT_USD must be non-negative, got %v", limit)
	}
	cfg.MonthlyLimitUSD = limit

	// Rate Limiting Default
	tpmStr := getEnv("DEFAULT_RATE_LIMIT_TPM", "100000")
	tpm, err := strconv.ParseInt(tpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_TPM: %w", err)
	}
	cfg.DefaultRateLimitTPM = tpm

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
