// Package anthropic implements the chat streaming contract against
// the Anthropic Messages API.  The API frames its streaming response
// as server-sent events; Anthropic takes the system prompt as a
// top-level field rather than a system-role message.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"loremaster/client"
)

const (
	defaultEndpoint  = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Client talks to the Anthropic Messages API.  Probes run on their own
// http.Client so a health check never shares a connection with an
// active chat stream.
type Client struct {
	APIKey   string
	Endpoint string
	hc       *http.Client
	probe    *http.Client
}

// New creates an Anthropic adapter.
func New(apiKey string) *Client {
	return &Client{
		APIKey:   apiKey,
		Endpoint: defaultEndpoint,
		hc:       &http.Client{Timeout: 120 * time.Second},
		probe:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements client.ChatStreamer.
func (c *Client) Name() string { return "anthropic" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Stream    bool      `json:"stream,omitempty"`
}

// sseEvent is the subset of stream event payloads we care about.
type sseEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildRequest splits the outbound context into Anthropic's shape:
// the system prompt is lifted out, and only user/assistant messages
// remain in the list.
func (c *Client) buildRequest(model string, msgs []client.Message, opts client.Options, stream bool) messagesRequest {
	req := messagesRequest{
		Model:     model,
		MaxTokens: opts.MaxTokens,
		Stream:    stream,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}
	for _, m := range msgs {
		if m.Role == client.RoleSystem {
			req.System = m.Content
			continue
		}
		req.Messages = append(req.Messages, message{Role: m.Role, Content: m.Content})
	}
	return req
}

func (c *Client) do(ctx context.Context, req messagesRequest, hc *http.Client) (*http.Response, *client.ErrorInfo) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, client.NewError(client.ErrMalformedResponse, "anthropic: encoding request: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, client.NewError(client.ErrMalformedResponse, "anthropic: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, client.ClassifyTransport("anthropic", err)
	}
	if resp.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, client.ClassifyStatus("anthropic", resp.StatusCode, strings.TrimSpace(string(buf)))
	}
	return resp, nil
}

// StreamChat implements client.ChatStreamer.
func (c *Client) StreamChat(ctx context.Context, model string, msgs []client.Message, opts client.Options) (<-chan client.StreamChunk, error) {
	resp, errInfo := c.do(ctx, c.buildRequest(model, msgs, opts, true), c.hc)
	if errInfo != nil {
		return nil, errInfo
	}

	out := make(chan client.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			var ev sseEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				c.send(ctx, out, client.StreamChunk{Err: client.NewError(client.ErrMalformedResponse, "anthropic: bad stream event: %v", err)})
				return
			}
			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Text == "" {
					continue
				}
				if !c.send(ctx, out, client.StreamChunk{Delta: ev.Delta.Text}) {
					return
				}
			case "message_stop":
				c.send(ctx, out, client.StreamChunk{Final: true})
				return
			case "error":
				c.send(ctx, out, client.StreamChunk{Err: client.NewError(client.ErrBackendUnavailable, "anthropic: %s: %s", ev.Error.Type, ev.Error.Message)})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.send(ctx, out, client.StreamChunk{Err: client.ClassifyTransport("anthropic", err)})
			return
		}
		c.send(ctx, out, client.StreamChunk{Err: client.NewError(client.ErrMalformedResponse, "anthropic: stream ended without message_stop")})
	}()
	return out, nil
}

func (c *Client) send(ctx context.Context, out chan<- client.StreamChunk, chunk client.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// CheckHealth implements client.ChatStreamer.  The API has no free
// liveness endpoint, so the probe is a one-token message call on the
// dedicated probe client.
func (c *Client) CheckHealth(ctx context.Context) error {
	req := messagesRequest{
		Model:     "claude-3-5-haiku-20241022",
		MaxTokens: 1,
		Messages:  []message{{Role: client.RoleUser, Content: "ping"}},
	}
	resp, errInfo := c.do(ctx, req, c.probe)
	if errInfo != nil {
		return errInfo
	}
	resp.Body.Close()
	return nil
}

var _ client.ChatStreamer = (*Client)(nil)
