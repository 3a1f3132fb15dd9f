package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records executed statements and serves canned rows.
type fakeDB struct {
	execs    []execCall
	execTag  pgconn.CommandTag
	execErr  error
	row      *fakeRow
	queryErr error
}

type execCall struct {
	sql  string
	args []any
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, execCall{sql: sql, args: args})
	return db.execTag, db.execErr
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if db.row != nil {
		return db.row
	}
	return &fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, db.queryErr
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEnsureUser_ConditionalInsert(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeDB{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	store := NewPostgresStoreWithClock(db, fixedClock(now))

	if err := store.EnsureUser(context.Background(), "alice"); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}

	if len(db.execs) != 1 {
		t.Fatalf("expected 1 exec, got %d", len(db.execs))
	}
	call := db.execs[0]
	if !strings.Contains(call.sql, "ON CONFLICT (user_id) DO NOTHING") {
		t.Errorf("insert is not conditional: %s", call.sql)
	}
	if call.args[0] != "alice" {
		t.Errorf("expected user_id alice, got %v", call.args[0])
	}
	if resetAt := call.args[1].(time.Time); !resetAt.Equal(now.Add(Window)) {
		t.Errorf("expected reset_at %v, got %v", now.Add(Window), resetAt)
	}
}

func TestUsage_RollsElapsedWindowBeforeRead(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeDB{
		execTag: pgconn.NewCommandTag("UPDATE 1"),
		row: &fakeRow{scan: func(dest ...any) error {
			*(dest[0].(*string)) = "carol"
			*(dest[1].(*int64)) = 0
			*(dest[2].(*float64)) = 0
			*(dest[3].(*time.Time)) = now.Add(Window)
			return nil
		}},
	}
	store := NewPostgresStoreWithClock(db, fixedClock(now))

	rec, err := store.Usage(context.Background(), "carol")
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}

	// The rollover statement must run before the select, be conditional on
	// reset_at having elapsed, and anchor the new window at the access time.
	if len(db.execs) != 1 {
		t.Fatalf("expected rollover exec, got %d execs", len(db.execs))
	}
	roll := db.execs[0]
	if !strings.Contains(roll.sql, "reset_at <= $3") {
		t.Errorf("rollover is not conditional on elapsed window: %s", roll.sql)
	}
	if newReset := roll.args[1].(time.Time); !newReset.Equal(now.Add(Window)) {
		t.Errorf("expected new reset_at %v, got %v", now.Add(Window), newReset)
	}
	if asOf := roll.args[2].(time.Time); !asOf.Equal(now) {
		t.Errorf("expected rollover cutoff %v, got %v", now, asOf)
	}

	if rec.TokenCount != 0 || rec.MonthlyCost != 0 {
		t.Errorf("expected zeroed counters after rollover, got tokens=%d cost=%v", rec.TokenCount, rec.MonthlyCost)
	}
	if !rec.ResetAt.Equal(now.Add(Window)) {
		t.Errorf("expected reset_at %v, got %v", now.Add(Window), rec.ResetAt)
	}
}

func TestUsage_NotFound(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
	store := NewPostgresStore(db)

	_, err := store.Usage(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordUsage_AtomicIncrement(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 1")}
	store := NewPostgresStore(db)

	if err := store.RecordUsage(context.Background(), "alice", 1000, 0.002); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	call := db.execs[0]
	if !strings.Contains(call.sql, "token_count = token_count + $2") ||
		!strings.Contains(call.sql, "monthly_cost = monthly_cost + $3") {
		t.Errorf("update is not an in-place increment: %s", call.sql)
	}
	if call.args[1].(int64) != 1000 {
		t.Errorf("expected 1000 tokens, got %v", call.args[1])
	}
	if call.args[2].(float64) != 0.002 {
		t.Errorf("expected cost 0.002, got %v", call.args[2])
	}
}

func TestRecordUsage_MissingRecord(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
	store := NewPostgresStore(db)

	err := store.RecordUsage(context.Background(), "nobody", 10, 0.001)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
