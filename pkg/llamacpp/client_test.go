package llamacpp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClient(t *testing.T) {
	c, err := NewClient("")
	if err != nil {
		t.Fatal(err)
	}
	if c.baseURL != DefaultURL {
		t.Errorf("Expected %s, got %s", DefaultURL, c.baseURL)
	}
	c, _ = NewClient("http://gpu-box:8080/")
	if c.baseURL != "http://gpu-box:8080" {
		t.Errorf("Expected trailing slash trimmed, got %s", c.baseURL)
	}
	if _, err := NewClient("gpu-box:8080"); err == nil {
		t.Error("Expected error without scheme")
	}
}

func TestQuery(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: `{"primary":{"label":"cat"}}`}}},
		})
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	reply, err := c.Query(context.Background(), "qwen", "find the subject", "AAAA")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if reply != `{"primary":{"label":"cat"}}` {
		t.Errorf("Unexpected reply %q", reply)
	}

	if got.Model != "qwen" || got.Stream {
		t.Errorf("Unexpected request %+v", got)
	}
	parts, ok := got.Messages[0].Content.([]interface{})
	if !ok || len(parts) != 2 {
		t.Fatalf("Expected text and image parts, got %#v", got.Messages[0].Content)
	}
	image := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})["url"]
	if image != "data:image/jpeg;base64,AAAA" {
		t.Errorf("Unexpected image url %v", image)
	}
}

func TestQueryContentParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"hello"}]}}]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	reply, err := c.Query(context.Background(), "m", "p", "")
	if err != nil || reply != "hello" {
		t.Errorf("Expected hello, got %q (%v)", reply, err)
	}
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusServiceUnavailable, "loading model", "status 503: loading model"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"not json", http.StatusOK, `<html>`, "failed to parse response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := NewClient(srv.URL)
			_, err := c.Query(context.Background(), "m", "p", "")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMessageTextEmpty(t *testing.T) {
	if _, err := messageText(Message{Content: "   "}); !errors.Is(err, ErrNoContent) {
		t.Errorf("Expected ErrNoContent, got %v", err)
	}
	if _, err := messageText(Message{Content: nil}); !errors.Is(err, ErrNoContent) {
		t.Errorf("Expected ErrNoContent, got %v", err)
	}
}

func TestQueryOptionsAndTruncation(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":""},"finish_reason":"length"}]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	c.WithOptions(Options{Temperature: 0.7, MaxTokens: 64, TopP: 0.8})
	_, err := c.Query(context.Background(), "m", "p", "")
	if !errors.Is(err, ErrNoContent) || !strings.Contains(err.Error(), "truncated at 64 tokens") {
		t.Errorf("Expected truncation error, got %v", err)
	}
	if got.Temperature != 0.7 || got.MaxTokens != 64 || got.TopP != 0.8 {
		t.Errorf("Expected custom options sent, got %+v", got)
	}
}
