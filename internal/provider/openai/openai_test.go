package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/thronix/ai-meter/internal/provider"
)

func TestComplete_Mock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := goopenai.ChatCompletionResponse{
			ID:    "test-id",
			Model: "gpt-5-nano",
			Choices: []goopenai.ChatCompletionChoice{
				{
					Message: goopenai.ChatCompletionMessage{Role: "assistant", Content: "Hello from OpenAI mock!"},
				},
			},
			Usage: goopenai.Usage{
				PromptTokens:     15,
				CompletionTokens: 25,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewWithBaseURL("test-key", server.URL, []string{"gpt-5-nano"})

	req := &provider.Request{
		Model: "gpt-5-nano",
		Messages: []provider.Message{
			{Role: "user", Content: "hi"},
		},
	}

	resp, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Content != "Hello from OpenAI mock!" {
		t.Errorf("Expected 'Hello from OpenAI mock!', got %s", resp.Content)
	}
	if resp.InputTokens != 15 {
		t.Errorf("Expected 15 input tokens, got %d", resp.InputTokens)
	}
	if resp.OutputTokens != 25 {
		t.Errorf("Expected 25 output tokens, got %d", resp.OutputTokens)
	}
}

func TestComplete_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded"}}`))
	}))
	defer server.Close()

	p := NewWithBaseURL("test-key", server.URL, []string{"gpt-5-nano"})

	_, err := p.Complete(context.Background(), &provider.Request{
		Model:    "gpt-5-nano",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Expected error from upstream failure")
	}
}

func TestName(t *testing.T) {
	p := New("key", nil)
	if p.Name() != "openai" {
		t.Errorf("Expected 'openai', got %s", p.Name())
	}
}

func TestSupportedModels(t *testing.T) {
	p := New("key", []string{"gpt-5-nano", "gpt-5-mini"})
	models := p.SupportedModels()
	found := false
	for _, m := range models {
		if m == "gpt-5-nano" {
			found = true
			break
		}
	}
	if !found {
		t.Error("gpt-5-nano should be in supported models")
	}
}
