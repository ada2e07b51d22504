package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amishk599/leadscout/internal/model"
)

func makeTestServer(t *testing.T, statusCode int, body any) (*httptest.Server, *http.Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, srv.Client()
}

func choice(content string) chatChoice {
	var c chatChoice
	c.Message.Content = content
	return c
}

func TestComplete_Success(t *testing.T) {
	resp := chatResponse{Choices: []chatChoice{choice(`{"analysis":"ok"}`)}}
	srv, client := makeTestServer(t, http.StatusOK, resp)

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", 0, client)
	got, err := provider.Complete(context.Background(), "analyze this")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"analysis":"ok"}` {
		t.Errorf("got %q, want json string", got)
	}
}

func TestComplete_HTTPErrorIsTransient(t *testing.T) {
	srv, client := makeTestServer(t, http.StatusInternalServerError, map[string]string{"error": "server error"})

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", 0, client)
	_, err := provider.Complete(context.Background(), "analyze this")
	if !model.IsTransient(err) {
		t.Fatalf("expected transient error on 5xx response, got %v", err)
	}
}

func TestComplete_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", 0, srv.Client())
	_, err := provider.Complete(context.Background(), "analyze this")
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError on 429 response, got %v", err)
	}
	if httpErr.RetryAfter != 3*time.Second {
		t.Errorf("RetryAfter = %v, want 3s", httpErr.RetryAfter)
	}
}

func TestComplete_BadRequestIsPermanent(t *testing.T) {
	srv, client := makeTestServer(t, http.StatusBadRequest, map[string]string{"error": "bad schema"})

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", 0, client)
	_, err := provider.Complete(context.Background(), "analyze this")
	if err == nil || model.IsTransient(err) {
		t.Fatalf("expected permanent error on 400 response, got %v", err)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv, client := makeTestServer(t, http.StatusOK, chatResponse{})

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", 0, client)
	_, err := provider.Complete(context.Background(), "analyze this")
	if err == nil {
		t.Fatal("expected error when LLM returns no choices")
	}
}

func TestComplete_SetsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{Choices: []chatChoice{choice("ok")}})
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(srv.URL, "my-secret-key", "test-model", 0, srv.Client())
	_, _ = provider.Complete(context.Background(), "hello")

	if gotAuth != "Bearer my-secret-key" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer my-secret-key")
	}
}

func TestComplete_SendsStructuredOutputFormat(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{Choices: []chatChoice{choice("{}")}})
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(srv.URL, "key", "gpt-4o-mini", 800, srv.Client())
	_, _ = provider.Complete(context.Background(), "analyze this")

	if gotReq.ResponseFormat.Type != "json_schema" {
		t.Errorf("response_format.type = %q, want json_schema", gotReq.ResponseFormat.Type)
	}
	if gotReq.ResponseFormat.JSONSchema.Name != "lead_analysis" {
		t.Errorf("response_format.json_schema.name = %q, want lead_analysis", gotReq.ResponseFormat.JSONSchema.Name)
	}
	if !gotReq.ResponseFormat.JSONSchema.Strict {
		t.Error("expected strict schema")
	}
	if gotReq.Temperature != 0 {
		t.Errorf("temperature = %d, want 0", gotReq.Temperature)
	}
	if gotReq.MaxTokens != 800 {
		t.Errorf("max_tokens = %d, want 800", gotReq.MaxTokens)
	}
}
