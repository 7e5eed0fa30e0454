package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jkaninda/soga/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendMessage_TextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify bearer auth.
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Authorization Bearer test-key, got %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}

		// System prompt becomes the first message.
		if len(req.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(req.Messages))
		}
		if req.Messages[0].Role != "system" {
			t.Errorf("expected system role first, got %q", req.Messages[0].Role)
		}
		if req.Messages[1].Role != "user" {
			t.Errorf("expected user role, got %q", req.Messages[1].Role)
		}

		resp := apiResponse{
			Choices: []apiChoice{{
				Message:      apiChoiceMessage{Role: "assistant", Content: "Hello!"},
				FinishReason: "stop",
			}},
			Usage: apiUsage{PromptTokens: 10, CompletionTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "gpt-4o", discardLogger(), WithBaseURL(srv.URL))
	resp, err := client.SendMessage(context.Background(), &llm.Request{
		SystemPrompt: "You are helpful.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("expected content Hello!, got %q", resp.Content)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("expected stop reason end_turn, got %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestSendMessage_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", "gpt-4o", discardLogger(), WithBaseURL(srv.URL))
	_, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestSendMessage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid API key"}}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", "gpt-4o", discardLogger(), WithBaseURL(srv.URL))
	_, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, llm.ErrRateLimited) {
		t.Errorf("non-429 error should not classify as rate limited: %v", err)
	}
}

func TestSendMessage_NoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Ollama deployments run without API keys.
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected no Authorization header, got %q", r.Header.Get("Authorization"))
		}
		resp := apiResponse{
			Choices: []apiChoice{{
				Message:      apiChoiceMessage{Role: "assistant", Content: "ok"},
				FinishReason: "stop",
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("", "llama3", discardLogger(), WithBaseURL(srv.URL), WithName("ollama"))
	if client.Name() != "ollama" {
		t.Errorf("expected provider name ollama, got %q", client.Name())
	}
	if _, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeFinishReason(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"stop", "end_turn"},
		{"length", "max_tokens"},
		{"content_filter", "content_filter"},
	}
	for _, tt := range tests {
		if got := normalizeFinishReason(tt.reason); got != tt.want {
			t.Errorf("normalizeFinishReason(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}
