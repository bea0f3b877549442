// Package ollama implements the chat streaming contract against a
// local Ollama daemon.  The daemon speaks JSON over HTTP with
// newline-delimited JSON response framing.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loremaster/client"
)

const (
	defaultTimeout = 120 * time.Second
	maxRetries     = 3
	retryDelay     = time.Second
)

// Client talks to one Ollama daemon.
type Client struct {
	BaseURL string
	hc      *http.Client
}

// New creates an Ollama adapter for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultTimeout},
	}
}

// Name implements client.ChatStreamer.
func (c *Client) Name() string { return "ollama" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

type chatLine struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// StreamChat implements client.ChatStreamer.  Connection failures are
// retried with exponential backoff, but only before the first byte of
// a response has been read; after that a failure is surfaced as-is.
func (c *Client) StreamChat(ctx context.Context, model string, msgs []client.Message, opts client.Options) (<-chan client.StreamChunk, error) {
	payload := chatRequest{Model: model, Stream: true}
	for _, m := range msgs {
		payload.Messages = append(payload.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, client.NewError(client.ErrMalformedResponse, "ollama: encoding request: %v", err)
	}

	var resp *http.Response
	var lastErr *client.ErrorInfo
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay << (attempt - 1)):
			case <-ctx.Done():
				return nil, client.ClassifyTransport("ollama", ctx.Err())
			}
		}
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(body))
		if rerr != nil {
			return nil, client.NewError(client.ErrMalformedResponse, "ollama: %v", rerr)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, rerr = c.hc.Do(req)
		if rerr != nil {
			lastErr = client.ClassifyTransport("ollama", rerr)
			if lastErr.Retriable {
				continue
			}
			return nil, lastErr
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, lastErr
	}

	if resp.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, client.ClassifyStatus("ollama", resp.StatusCode, strings.TrimSpace(string(buf)))
	}

	out := make(chan client.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var parsed chatLine
			if err := json.Unmarshal(line, &parsed); err != nil {
				c.send(ctx, out, client.StreamChunk{Err: client.NewError(client.ErrMalformedResponse, "ollama: bad stream line: %v", err)})
				return
			}
			if parsed.Error != "" {
				c.send(ctx, out, client.StreamChunk{Err: client.NewError(client.ErrBackendUnavailable, "ollama: %s", parsed.Error)})
				return
			}
			if parsed.Message.Content != "" {
				if !c.send(ctx, out, client.StreamChunk{Delta: parsed.Message.Content}) {
					return
				}
			}
			if parsed.Done {
				c.send(ctx, out, client.StreamChunk{Final: true})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.send(ctx, out, client.StreamChunk{Err: client.ClassifyTransport("ollama", err)})
			return
		}
		// stream ended without a done marker
		c.send(ctx, out, client.StreamChunk{Err: client.NewError(client.ErrMalformedResponse, "ollama: stream ended without done marker")})
	}()
	return out, nil
}

// send delivers a chunk unless the consumer has cancelled.
func (c *Client) send(ctx context.Context, out chan<- client.StreamChunk, chunk client.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// CheckHealth implements client.ChatStreamer.  GET /api/tags is cheap
// and does not touch a model.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	// a dedicated client so a probe never shares a connection with an
	// active chat stream
	hc := &http.Client{Timeout: 5 * time.Second}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("cannot connect to ollama at %s (try: ollama serve): %w", c.BaseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama at %s returned status %d", c.BaseURL, resp.StatusCode)
	}
	return nil
}

// ListModels returns the tags the daemon has pulled.  On any failure
// it returns common defaults rather than an error, matching the
// advisory nature of the list.
func (c *Client) ListModels(ctx context.Context) []string {
	fallback := []string{"llama3.2", "llama3.1", "mistral", "codellama"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/tags", nil)
	if err != nil {
		return fallback
	}
	hc := &http.Client{Timeout: 5 * time.Second}
	resp, err := hc.Do(req)
	if err != nil {
		return fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fallback
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fallback
	}
	var names []string
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	if len(names) == 0 {
		return fallback
	}
	return names
}

// compile-time interface check
var _ client.ChatStreamer = (*Client)(nil)
