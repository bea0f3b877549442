package ollama

import (
	"context"
	"encoding/json"
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

func TestStreamChat(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"content":"Hel"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	msgs := []client.Message{
		{Role: client.RoleSystem, Content: "be brief"},
		{Role: client.RoleUser, Content: "hi"},
	}
	ch, err := c.StreamChat(context.Background(), "llama3.2", msgs, client.Options{})
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
	if !gotReq.Stream {
		t.Fatal("expected stream:true in request")
	}
	if gotReq.Model != "llama3.2" {
		t.Fatalf("expected model llama3.2, got %s", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("request messages mangled: %+v", gotReq.Messages)
	}
}

func TestStreamChatDaemonError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model not loaded"}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	ch, err := c.StreamChat(context.Background(), "llama3.2", nil, client.Options{})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	_, final, errInfo := drain(ch)
	if final {
		t.Fatal("expected failed stream")
	}
	if errInfo == nil || errInfo.Kind != client.ErrBackendUnavailable {
		t.Fatalf("expected backend_unavailable, got %v", errInfo)
	}
}

func TestStreamChatTruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// deltas but never a done marker
		fmt.Fprintln(w, `{"message":{"content":"partial"},"done":false}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	ch, err := c.StreamChat(context.Background(), "llama3.2", nil, client.Options{})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	text, final, errInfo := drain(ch)
	if final {
		t.Fatal("expected failed stream")
	}
	if errInfo == nil || errInfo.Kind != client.ErrMalformedResponse {
		t.Fatalf("expected malformed_response, got %v", errInfo)
	}
	if text != "partial" {
		t.Fatalf("expected partial text preserved, got %q", text)
	}
}

func TestStreamChatHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   client.ErrKind
	}{
		{500, client.ErrBackendUnavailable},
		{404, client.ErrMalformedResponse},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		c := New(srv.URL)
		_, err := c.StreamChat(context.Background(), "llama3.2", nil, client.Options{})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		errInfo, ok := err.(*client.ErrorInfo)
		if !ok {
			t.Fatalf("status %d: expected ErrorInfo, got %T", tc.status, err)
		}
		if errInfo.Kind != tc.want {
			t.Fatalf("status %d: expected %s, got %s", tc.status, tc.want, errInfo.Kind)
		}
	}
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprintln(w, `{"models":[]}`)
	}))
	defer srv.Close()

	if err := New(srv.URL).CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}

	// unreachable daemon
	srv.Close()
	err := New(srv.URL).CheckHealth(context.Background())
	if err == nil {
		t.Fatal("expected error for unreachable daemon")
	}
	if !strings.Contains(err.Error(), "ollama serve") {
		t.Fatalf("expected actionable hint in error, got %v", err)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"models":[{"name":"llama3.2:latest"},{"name":"mistral:7b"}]}`)
	}))
	defer srv.Close()

	names := New(srv.URL).ListModels(context.Background())
	if len(names) != 2 || names[0] != "llama3.2:latest" {
		t.Fatalf("unexpected model list: %v", names)
	}

	// a dead daemon falls back to the common defaults
	srv.Close()
	names = New(srv.URL).ListModels(context.Background())
	if len(names) == 0 {
		t.Fatal("expected fallback model list")
	}
}
