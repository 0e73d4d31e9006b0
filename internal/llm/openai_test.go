package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func openAIReply(w http.ResponseWriter, content string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 123,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": content,
			},
			"finish_reason": "stop",
		}},
	})
}

func TestOpenAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			ResponseFormat *struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Fatalf("expected model gpt-4o-mini, got %q", req.Model)
		}
		if len(req.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(req.Messages))
		}
		if req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Fatalf("unexpected roles: %#v", req.Messages)
		}
		if req.ResponseFormat != nil {
			t.Fatalf("expected no response_format for plain requests, got %#v", req.ResponseFormat)
		}

		openAIReply(w, "  hello from openai  ")
	}))
	defer server.Close()

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}

	got, err := client.Complete(context.Background(), Request{System: "you are helpful", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "hello from openai" {
		t.Fatalf("expected trimmed response, got %q", got)
	}
}

func TestOpenAICompleteJSONMode(t *testing.T) {
	var format string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); !strings.Contains(auth, "test-key") {
			t.Fatalf("expected auth header to include test-key, got %q", auth)
		}
		var req struct {
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		format = req.ResponseFormat.Type
		openAIReply(w, `{"questions":[]}`)
	}))
	defer server.Close()

	client, err := NewClient("openai", "test-key", "gpt-4o-mini", WithBaseURL(server.URL+"/v1"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Complete(context.Background(), Request{Prompt: "quiz me", JSON: true}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if format != "json_object" {
		t.Fatalf("expected json_object response format, got %q", format)
	}
}

func TestOpenAI_Complete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 123,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{},
		})
	}))
	defer server.Close()

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), Request{Prompt: "hello"})
	if err == nil {
		t.Fatal("expected error for empty choices, got nil")
	}
	if !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("expected 'no choices' in error, got %q", err.Error())
	}
}

func TestOpenAI_Complete_EmptyPrompt(t *testing.T) {
	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: "http://127.0.0.1:0/v1"})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}
	if _, err := client.Complete(context.Background(), Request{Prompt: "  "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}
