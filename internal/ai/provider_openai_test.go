package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func completion(content, model string, in, out int) chatResponse {
	resp := chatResponse{
		Choices: []chatChoice{{Message: Message{Role: "assistant", Content: content}}},
		Model:   model,
	}
	resp.Usage.PromptTokens = in
	resp.Usage.CompletionTokens = out
	return resp
}

func TestOpenAIProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Model != "gpt-4o" {
			t.Errorf("model = %q, want %q", req.Model, "gpt-4o")
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("response_format = %+v, want json_object", req.ResponseFormat)
		}
		if len(req.Messages) != 2 || req.Messages[1].Content != "slides" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		json.NewEncoder(w).Encode(completion(`{"questions":[]}`, "gpt-4o", 10, 5))
	}))
	defer server.Close()

	provider := NewOpenAIProvider("test-key", WithBaseURL(server.URL))

	resp, err := provider.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "system", Content: "make a quiz"}, {Role: "user", Content: "slides"}},
		Model:    "gpt-4o",
		Task:     TaskQuizGeneration,
		JSON:     true,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != `{"questions":[]}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.TotalTokens() != 15 {
		t.Errorf("TotalTokens() = %d, want 15", resp.TotalTokens())
	}
}

func TestOpenAIProvider_Complete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(strings.Repeat("x", 2*maxErrorBody)))
	}))
	defer server.Close()

	_, err := NewDeepSeekProvider("ds-key", WithBaseURL(server.URL)).Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Complete() error = %v, want *APIError", err)
	}
	if apiErr.Provider != "deepseek" || apiErr.StatusCode != http.StatusTooManyRequests || len(apiErr.Body) != maxErrorBody {
		t.Errorf("APIError = %s/%d body %d bytes", apiErr.Provider, apiErr.StatusCode, len(apiErr.Body))
	}
}

func TestOpenAIProvider_Complete_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"api error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": "rate limited"}`))
		}},
		{"no choices", func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(chatResponse{})
		}},
		{"bad json", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`not json`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			provider := NewOpenAIProvider("test-key", WithBaseURL(server.URL))
			_, err := provider.Complete(context.Background(), CompletionRequest{
				Messages: []Message{{Role: "user", Content: "hello"}},
			})
			if err == nil {
				t.Fatal("Complete() should return error")
			}
		})
	}
}

func TestDeepSeekProvider_Defaults(t *testing.T) {
	var receivedModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		receivedModel = req.Model
		json.NewEncoder(w).Encode(completion("deepseek response", req.Model, 1, 1))
	}))
	defer server.Close()

	provider := NewDeepSeekProvider("ds-key", WithBaseURL(server.URL))

	resp, err := provider.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if receivedModel != "deepseek-chat" {
		t.Errorf("model = %q, want deepseek-chat", receivedModel)
	}
	if resp.Content != "deepseek response" {
		t.Errorf("content = %q, want %q", resp.Content, "deepseek response")
	}
}

func TestOpenAIProvider_DefaultModel(t *testing.T) {
	tests := []struct {
		name string
		opts []OpenAIOption
		want string
	}{
		{"builtin", nil, "gpt-4o-mini"},
		{"configured", []OpenAIOption{WithDefaultModel("gpt-4o")}, "gpt-4o"},
		{"blank keeps builtin", []OpenAIOption{WithDefaultModel("")}, "gpt-4o-mini"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var receivedModel string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req chatRequest
				json.NewDecoder(r.Body).Decode(&req)
				receivedModel = req.Model
				json.NewEncoder(w).Encode(completion("ok", req.Model, 1, 1))
			}))
			defer server.Close()

			opts := append([]OpenAIOption{WithBaseURL(server.URL)}, tt.opts...)
			provider := NewOpenAIProvider("test-key", opts...)
			if _, err := provider.Complete(context.Background(), CompletionRequest{
				Messages: []Message{{Role: "user", Content: "hi"}},
			}); err != nil {
				t.Fatalf("Complete() error = %v", err)
			}
			if receivedModel != tt.want {
				t.Errorf("model = %q, want %q", receivedModel, tt.want)
			}
		})
	}
}

func TestOpenAIProvider_HealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{"healthy", http.StatusOK, false},
		{"unhealthy", http.StatusUnauthorized, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/models" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			provider := NewOpenAIProvider("test-key", WithBaseURL(server.URL))
			err := provider.HealthCheck(context.Background())

			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
