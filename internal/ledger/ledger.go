package ledger

import (
	"context"
	"errors"
	"time"
)

// Window is the length of one accounting period. Counters accumulate within
// a window and are zeroed when it elapses; the rollover is applied lazily on
// the next read, not by a background timer.
const Window = 30 * 24 * time.Hour

var (
	ErrNotFound       = errors.New("usage record not found")
	ErrBudgetExceeded = errors.New("monthly usage limit reached")
)

// UsageRecord is the per-user aggregate for the current window.
type UsageRecord struct {
	UserID      string
	TokenCount  int64
	MonthlyCost float64
	ResetAt     time.Time
}

// Entry is one audit row per metered call.
type Entry struct {
	ID           string
	UserID       string
	RequestID    string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMs    int64
	CreatedAt    time.Time
}

type Store interface {
	// EnsureUser creates the user's record with zeroed counters if it does
	// not exist. Concurrent calls for the same user are safe: the insert is
	// conditional at the store, never read-then-write.
	EnsureUser(ctx context.Context, userID string) error

	// Usage returns the user's current record, applying the window rollover
	// first if reset_at has passed. Returns ErrNotFound if EnsureUser was
	// never called for this user.
	Usage(ctx context.Context, userID string) (*UsageRecord, error)

	// RecordUsage adds tokens and cost to the user's running totals as a
	// single atomic increment.
	RecordUsage(ctx context.Context, userID string, tokens int64, cost float64) error

	LogEntry(ctx context.Context, e *Entry) error
	EntriesByUser(ctx context.Context, userID string, from, to time.Time) ([]*Entry, error)
	TotalCostByUser(ctx context.Context, userID string, from, to time.Time) (float64, error)
}

// UnderBudget reports whether rec may be charged for another request.
// False exactly when MonthlyCost >= cap. The gate runs before the paid call,
// so one in-flight request may still push the total past the cap.
func UnderBudget(rec *UsageRecord, cap float64) bool {
	return rec.MonthlyCost < cap
}
