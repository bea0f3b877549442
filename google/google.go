// Package google implements the chat streaming contract against the
// Gemini API.  Gemini takes the system prompt as a SystemInstruction
// on the generation config rather than as a conversation message.
package google

import (
	"context"
	"errors"
	"strings"
	"sync"

	"google.golang.org/genai"

	"loremaster/client"
)

// Client talks to the Gemini API via the genai SDK.
type Client struct {
	apiKey string

	once sync.Once
	gc   *genai.Client
	err  error
}

// New creates a Gemini adapter.  The underlying SDK client is built
// lazily on first use.
func New(apiKey string) *Client {
	return &Client{apiKey: apiKey}
}

// Name implements client.ChatStreamer.
func (c *Client) Name() string { return "google" }

func (c *Client) init(ctx context.Context) (*genai.Client, error) {
	c.once.Do(func() {
		c.gc, c.err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return c.gc, c.err
}

// buildContents converts the outbound context into Gemini's shape,
// lifting the system prompt out into the config.
func buildContents(msgs []client.Message) (contents []*genai.Content, system string) {
	for _, m := range msgs {
		switch m.Role {
		case client.RoleSystem:
			system = m.Content
		case client.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return
}

// StreamChat implements client.ChatStreamer.
func (c *Client) StreamChat(ctx context.Context, model string, msgs []client.Message, opts client.Options) (<-chan client.StreamChunk, error) {
	gc, err := c.init(ctx)
	if err != nil {
		return nil, client.NewError(client.ErrAuth, "google: creating client: %v", err)
	}

	contents, system := buildContents(msgs)
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		cfg.Temperature = &t
	}

	out := make(chan client.StreamChunk)
	go func() {
		defer close(out)
		for resp, err := range gc.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				c.send(ctx, out, client.StreamChunk{Err: classify(err)})
				return
			}
			delta := resp.Text()
			if delta == "" {
				continue
			}
			if !c.send(ctx, out, client.StreamChunk{Delta: delta}) {
				return
			}
		}
		c.send(ctx, out, client.StreamChunk{Final: true})
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

// classify maps genai errors onto the shared taxonomy.  The SDK wraps
// HTTP failures in APIError with a status code.
func classify(err error) *client.ErrorInfo {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return client.ClassifyStatus("google", apiErr.Code, apiErr.Message)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "API key"):
		return client.NewError(client.ErrAuth, "google: %v", err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "quota"):
		return client.NewError(client.ErrRateLimited, "google: %v", err)
	default:
		return client.ClassifyTransport("google", err)
	}
}

// CheckHealth implements client.ChatStreamer.  CountTokens is free
// and exercises auth plus reachability.
func (c *Client) CheckHealth(ctx context.Context) error {
	gc, err := c.init(ctx)
	if err != nil {
		return err
	}
	contents := []*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)}
	_, err = gc.Models.CountTokens(ctx, "gemini-1.5-flash", contents, nil)
	return err
}

var _ client.ChatStreamer = (*Client)(nil)
