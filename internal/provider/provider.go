package provider

import (
	"context"
)

type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Response carries the completion plus the actual token counts reported by
// the upstream API. Token counts feed the ledger; they are never estimated.
type Response struct {
	ID           string
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	LatencyMs    int64
}

// Provider is the external paid collaborator. The ledger never calls it;
// the metering handler does, after the budget gate passes.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Name() string
	SupportedModels() []string
}
