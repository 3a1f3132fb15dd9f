package meter

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/thronix/ai-meter/internal/auth"
	"github.com/thronix/ai-meter/internal/ledger"
	"github.com/thronix/ai-meter/internal/metrics"
	"github.com/thronix/ai-meter/internal/pricing"
	"github.com/thronix/ai-meter/internal/provider"
	"github.com/thronix/ai-meter/pkg/ratelimit"
)

// Stable error codes so clients can tell "come back next month" apart from
// "try again shortly".
const (
	codeBudgetExceeded   = "budget_exceeded"
	codeStoreUnavailable = "store_unavailable"
	codeUpstreamFailed   = "upstream_failed"
)

type Handler struct {
	caller       *Caller
	store        ledger.Store
	table        pricing.Table
	limiter      *ratelimit.Limiter
	capUSD       float64
	defaultModel string
	tracer       trace.Tracer
}

func NewHandler(caller *Caller, store ledger.Store, table pricing.Table, limiter *ratelimit.Limiter, capUSD float64, defaultModel string, tracer trace.Tracer) *Handler {
	return &Handler{
		caller:       caller,
		store:        store,
		table:        table,
		limiter:      limiter,
		capUSD:       capUSD,
		defaultModel: defaultModel,
		tracer:       tracer,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	body := map[string]string{"error": msg}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

// writeLedgerError maps ledger errors to their stable client-facing codes:
// an exhausted budget is recoverable next month, a store failure is
// recoverable shortly, and the two must never look alike.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrBudgetExceeded):
		writeError(w, http.StatusForbidden, "Monthly AI usage limit reached. Try again next month.", codeBudgetExceeded)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "usage record not found", "")
	default:
		writeError(w, http.StatusServiceUnavailable, "usage store unavailable", codeStoreUnavailable)
	}
}

// round4 is display rounding only; the stored cost keeps full precision.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// HandleComplete runs one metered completion: ensure the user's record, roll
// the window, gate on budget, call the provider, then accrue actual usage.
// A failed provider call is never charged.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	requestID := auth.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var req provider.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.Model == "" {
		req.Model = h.defaultModel
	}

	_, span := h.tracer.Start(ctx, "meter.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("request_id", requestID),
		attribute.String("model", req.Model),
	)

	if !h.caller.Supports(req.Model) {
		writeError(w, http.StatusBadRequest, "unsupported model: "+req.Model, "")
		return
	}

	estimatedTokens := req.MaxTokens
	if estimatedTokens <= 0 {
		estimatedTokens = 1000
	}

	allowed, err := h.limiter.Allow(ctx, userID, estimatedTokens)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60s")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return
	}

	if err := h.store.EnsureUser(ctx, userID); err != nil {
		writeLedgerError(w, err)
		return
	}

	rec, err := h.store.Usage(ctx, userID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	if !ledger.UnderBudget(rec, h.capUSD) {
		metrics.ObserveBudgetRejection()
		writeLedgerError(w, ledger.ErrBudgetExceeded)
		return
	}

	resp, err := h.caller.Execute(ctx, &req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error(), codeUpstreamFailed)
		return
	}

	totalTokens := int64(resp.InputTokens + resp.OutputTokens)
	cost := h.table.Cost(resp.InputTokens, resp.OutputTokens, req.Model)

	if err := h.store.RecordUsage(ctx, userID, totalTokens, cost); err != nil {
		// The upstream call succeeded but accounting did not. Fail the
		// request rather than hand out unmetered usage.
		log.Printf("meter: failed to record usage for %s: %v", userID, err)
		writeLedgerError(w, err)
		return
	}

	metrics.ObserveAccrual(req.Model, totalTokens, cost)

	// Audit trail is best-effort, off the request path.
	go func() {
		_ = h.store.LogEntry(context.Background(), &ledger.Entry{
			UserID:       userID,
			RequestID:    requestID,
			Model:        req.Model,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			CostUSD:      cost,
			LatencyMs:    resp.LatencyMs,
		})
	}()

	respID := resp.ID
	if respID == "" {
		respID = uuid.New().String()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       respID,
		"object":   "chat.completion",
		"model":    resp.Model,
		"provider": resp.Provider,
		"choices": []interface{}{
			map[string]interface{}{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": resp.Content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]interface{}{
			"prompt_tokens":     resp.InputTokens,
			"completion_tokens": resp.OutputTokens,
			"total_tokens":      resp.InputTokens + resp.OutputTokens,
			"tokens_used":       rec.TokenCount + totalTokens,
			"cost_so_far":       round4(rec.MonthlyCost + cost),
			"reset_on":          rec.ResetAt.Format("2006-01-02"),
		},
	})
}

// HandleUsage returns the caller's current window totals plus the audit
// entries for an optional RFC3339 from/to range (default: last 30 days).
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)", "")
			return
		}
	}

	if toStr := r.URL.Query().Get("to"); toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)", "")
			return
		}
	}

	if err := h.store.EnsureUser(ctx, userID); err != nil {
		writeLedgerError(w, err)
		return
	}

	rec, err := h.store.Usage(ctx, userID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	entries, err := h.store.EntriesByUser(ctx, userID, from, to)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	totalCost, err := h.store.TotalCostByUser(ctx, userID, from, to)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":        userID,
		"token_count":    rec.TokenCount,
		"monthly_cost":   round4(rec.MonthlyCost),
		"reset_at":       rec.ResetAt,
		"total_requests": len(entries),
		"total_cost_usd": totalCost,
		"entries":        entries,
		"from":           from,
		"to":             to,
	})
}
