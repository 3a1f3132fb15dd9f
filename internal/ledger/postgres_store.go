package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db  DB
	now func() time.Time
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// NewPostgresStoreWithClock injects the clock used for window math.
func NewPostgresStoreWithClock(db DB, now func() time.Time) *PostgresStore {
	return &PostgresStore{db: db, now: now}
}

func (s *PostgresStore) EnsureUser(ctx context.Context, userID string) error {
	query := `
		INSERT INTO ai_usage (user_id, token_count, monthly_cost, reset_at)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := s.db.Exec(ctx, query, userID, s.now().UTC().Add(Window))
	if err != nil {
		return fmt.Errorf("failed to ensure usage record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Usage(ctx context.Context, userID string) (*UsageRecord, error) {
	now := s.now().UTC()

	// Roll the window first so a stale record never feeds the budget check.
	// The WHERE clause makes the reset a no-op unless the window has elapsed,
	// and the new reset_at is anchored at the access time, not the old one.
	rollover := `
		UPDATE ai_usage
		SET token_count = 0, monthly_cost = 0, reset_at = $2
		WHERE user_id = $1 AND reset_at <= $3
	`
	if _, err := s.db.Exec(ctx, rollover, userID, now.Add(Window), now); err != nil {
		return nil, fmt.Errorf("failed to roll usage window: %w", err)
	}

	query := `
		SELECT user_id, token_count, monthly_cost, reset_at
		FROM ai_usage
		WHERE user_id = $1
	`
	var rec UsageRecord
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&rec.UserID, &rec.TokenCount, &rec.MonthlyCost, &rec.ResetAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}

	return &rec, nil
}

func (s *PostgresStore) RecordUsage(ctx context.Context, userID string, tokens int64, cost float64) error {
	query := `
		UPDATE ai_usage
		SET token_count = token_count + $2, monthly_cost = monthly_cost + $3
		WHERE user_id = $1
	`
	tag, err := s.db.Exec(ctx, query, userID, tokens, cost)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LogEntry(ctx context.Context, e *Entry) error {
	query := `
		INSERT INTO usage_logs (user_id, request_id, model, input_tokens, output_tokens, cost_usd, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		e.UserID, e.RequestID, e.Model,
		e.InputTokens, e.OutputTokens, e.CostUSD, e.LatencyMs,
	).Scan(&e.ID, &e.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to log usage entry: %w", err)
	}

	return nil
}

func (s *PostgresStore) EntriesByUser(ctx context.Context, userID string, from, to time.Time) ([]*Entry, error) {
	query := `
		SELECT id, user_id, request_id, model, input_tokens, output_tokens, cost_usd, latency_ms, created_at
		FROM usage_logs
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		err := rows.Scan(
			&e.ID, &e.UserID, &e.RequestID, &e.Model,
			&e.InputTokens, &e.OutputTokens, &e.CostUSD, &e.LatencyMs, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage entries: %w", err)
	}

	return entries, nil
}

func (s *PostgresStore) TotalCostByUser(ctx context.Context, userID string, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_logs
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
	`
	var total float64
	err := s.db.QueryRow(ctx, query, userID, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get total cost: %w", err)
	}

	return total, nil
}
