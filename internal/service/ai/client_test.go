package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/skorbantu/advisor/backend/internal/config"
	"github.com/skorbantu/advisor/backend/internal/model/chat"
)

func testAIConfig(baseURL string) config.AIConfig {
	return config.AIConfig{
		APIKey:  "sk-or-test",
		BaseURL: baseURL,
		Model:   "google/gemini-2.0-flash-exp:free",
		Timeout: 5 * time.Second,
	}
}

func completionResponse(text string, tokens int) map[string]any {
	return map[string]any{
		"id":      "cmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "google/gemini-2.0-flash-exp:free",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": text,
				},
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": tokens - 10,
			"total_tokens":      tokens,
		},
	}
}

func TestCompleteMapsRolesAndReturnsFirstChoice(t *testing.T) {
	var gotRequest struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotRequest)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse("Skor Anda 720.", 42))
	}))
	defer srv.Close()

	c := NewOpenRouterClient(testAIConfig(srv.URL))
	got, err := c.Complete(context.Background(), []chat.Turn{
		chat.SystemTurn("preamble"),
		chat.AssistantTurn("Hai!"),
		chat.UserTurn("berapa skor saya?"),
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if got.Text != "Skor Anda 720." {
		t.Fatalf("text = %q", got.Text)
	}
	if got.TokenCount != 42 {
		t.Fatalf("tokens = %d", got.TokenCount)
	}
	if gotRequest.Model != "google/gemini-2.0-flash-exp:free" {
		t.Fatalf("model = %q", gotRequest.Model)
	}
	wantRoles := []string{"system", "assistant", "user"}
	if len(gotRequest.Messages) != len(wantRoles) {
		t.Fatalf("messages = %+v", gotRequest.Messages)
	}
	for i, want := range wantRoles {
		if gotRequest.Messages[i].Role != want {
			t.Fatalf("message %d role = %q, want %q", i, gotRequest.Messages[i].Role, want)
		}
	}
}

func TestCompleteMapsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limit exceeded", "type": "rate_limit_error"},
		})
	}))
	defer srv.Close()

	c := NewOpenRouterClient(testAIConfig(srv.URL))
	_, err := c.Complete(context.Background(), []chat.Turn{chat.UserTurn("halo")})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCompleteOtherStatusIsNotRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "upstream exploded"},
		})
	}))
	defer srv.Close()

	c := NewOpenRouterClient(testAIConfig(srv.URL))
	_, err := c.Complete(context.Background(), []chat.Turn{chat.UserTurn("halo")})
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrRateLimited) {
		t.Fatalf("500 must not map to the rate-limit error: %v", err)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "google/gemini-2.0-flash-exp:free",
			"choices": []any{},
		})
	}))
	defer srv.Close()

	c := NewOpenRouterClient(testAIConfig(srv.URL))
	got, err := c.Complete(context.Background(), []chat.Turn{chat.UserTurn("halo")})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Text != "" || got.TokenCount != 0 {
		t.Fatalf("expected an empty completion, got %+v", got)
	}
}
