package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"loremaster/client"
)

func drain(ch <-chan client.StreamChunk) (text string, final bool, errInfo *client.ErrorInfo) {
	var sb strings.Builder
	for chunk := range ch {
		switch {
		case chunk.Err != nil:
			errInfo = chunk.Err
		case chunk.Final:
			final = true
		default:
			sb.WriteString(chunk.Delta)
		}
	}
	return sb.String(), final, errInfo
}

func TestStreamChatCompat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	s := NewCompat("xai", "test-key", srv.URL+"/v1")
	msgs := []client.Message{
		{Role: client.RoleSystem, Content: "be brief"},
		{Role: client.RoleUser, Content: "hi"},
	}
	ch, err := s.StreamChat(context.Background(), "grok-beta", msgs, client.Options{})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	text, final, errInfo := drain(ch)
	if errInfo != nil {
		t.Fatalf("unexpected stream error: %v", errInfo)
	}
	if !final {
		t.Fatal("expected Final chunk")
	}
	if text != "Hello" {
		t.Fatalf("expected %q, got %q", "Hello", text)
	}
}

func TestStreamChatAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	s := NewCompat("openai", "bad-key", srv.URL+"/v1")
	_, err := s.StreamChat(context.Background(), "gpt-4o", nil, client.Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	errInfo, ok := err.(*client.ErrorInfo)
	if !ok {
		t.Fatalf("expected ErrorInfo, got %T: %v", err, err)
	}
	if errInfo.Kind != client.ErrAuth {
		t.Fatalf("expected auth, got %s", errInfo.Kind)
	}
	if errInfo.Retriable {
		t.Fatal("auth errors must not be retriable")
	}
}

func TestStreamChatRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached","type":"tokens"}}`)
	}))
	defer srv.Close()

	s := NewCompat("openai", "test-key", srv.URL+"/v1")
	_, err := s.StreamChat(context.Background(), "gpt-4o", nil, client.Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	errInfo, ok := err.(*client.ErrorInfo)
	if !ok {
		t.Fatalf("expected ErrorInfo, got %T: %v", err, err)
	}
	if errInfo.Kind != client.ErrRateLimited {
		t.Fatalf("expected rate_limited, got %s", errInfo.Kind)
	}
	if !errInfo.Retriable {
		t.Fatal("rate limits are retriable against another provider")
	}
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"id":"gpt-4o","object":"model"}]}`)
	}))
	defer srv.Close()

	s := NewCompat("openai", "test-key", srv.URL+"/v1")
	if err := s.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
}
