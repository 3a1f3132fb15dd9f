package seeder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/thronix/ai-meter/internal/auth"
)

const (
	TestAPIKey = "test-api-key-12345"
	TestUserID = "00000000-0000-0000-0000-000000000001"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ai_usage (
		user_id TEXT PRIMARY KEY,
		token_count BIGINT NOT NULL DEFAULT 0,
		monthly_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
		reset_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS usage_logs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id TEXT NOT NULL,
		request_id TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_user_created ON usage_logs (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id TEXT NOT NULL,
		key_hash TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the tables the service needs. Every statement is
// IF NOT EXISTS, so running it on every boot is safe.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func SeedTestAPIKey(ctx context.Context, store auth.Store) {
	h := sha256.New()
	h.Write([]byte(TestAPIKey))
	keyHash := hex.EncodeToString(h.Sum(nil))

	apiKey := &auth.APIKey{
		UserID:  TestUserID,
		KeyHash: keyHash,
		Active:  true,
	}

	err := store.Create(ctx, apiKey)
	if err != nil {
		log.Printf("[Seeder] API key may already exist, skipping: %v", err)
		return
	}
	log.Printf("[Seeder] Test API key created successfully")
	log.Printf("[Seeder] Key: %s", TestAPIKey)
	log.Printf("[Seeder] UserID: %s", TestUserID)
}
