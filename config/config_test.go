package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/ai_meter")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.OpenAIModel != "gpt-5-nano" {
		t.Errorf("Expected default model gpt-5-nano, got %s", cfg.OpenAIModel)
	}
	if cfg.MonthlyLimitUSD != 10.0 {
		t.Errorf("Expected default cap 10.0, got %v", cfg.MonthlyLimitUSD)
	}
	if cfg.DefaultRateLimitTPM != 100000 {
		t.Errorf("Expected default TPM 100000, got %d", cfg.DefaultRateLimitTPM)
	}
}

func TestLoad_MissingDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error when POSTGRES_DSN is missing")
	}
}

func TestLoad_InvalidCap(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/ai_meter")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("AI_MONTHLY_LIMIT_USD", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for invalid AI_MONTHLY_LIMIT_USD")
	}
}

func TestLoad_CapOverride(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/ai_meter")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("AI_MONTHLY_LIMIT_USD", "25.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MonthlyLimitUSD != 25.5 {
		t.Errorf("Expected cap 25.5, got %v", cfg.MonthlyLimitUSD)
	}
}
