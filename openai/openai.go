// Package openai implements the chat streaming contract against the
// OpenAI chat completions API, and against OpenAI-compatible backends
// via a custom base URL.
package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	oai "github.com/sashabaranov/go-openai"

	"loremaster/client"
)

// Streamer is a streaming chat adapter backed by go-openai.  Health
// probes use a second client with its own connection pool so a probe
// never shares a connection with an active chat stream.
type Streamer struct {
	name  string
	c     *oai.Client
	probe *oai.Client
}

// New creates an adapter for api.openai.com.
func New(apiKey string) *Streamer {
	return &Streamer{
		name:  "openai",
		c:     oai.NewClient(apiKey),
		probe: newProbeClient(apiKey, ""),
	}
}

// NewCompat creates an adapter for an OpenAI-compatible backend such
// as xAI.  The provider name is used in error classification.
func NewCompat(name, apiKey, baseURL string) *Streamer {
	cfg := oai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Streamer{
		name:  name,
		c:     oai.NewClientWithConfig(cfg),
		probe: newProbeClient(apiKey, baseURL),
	}
}

func newProbeClient(apiKey, baseURL string) *oai.Client {
	cfg := oai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	return oai.NewClientWithConfig(cfg)
}

// Name implements client.ChatStreamer.
func (s *Streamer) Name() string { return s.name }

// StreamChat implements client.ChatStreamer.
func (s *Streamer) StreamChat(ctx context.Context, model string, msgs []client.Message, opts client.Options) (<-chan client.StreamChunk, error) {
	var omsgs []oai.ChatCompletionMessage
	for _, m := range msgs {
		var role string
		switch m.Role {
		case client.RoleSystem:
			role = oai.ChatMessageRoleSystem
		case client.RoleAssistant:
			role = oai.ChatMessageRoleAssistant
		default:
			role = oai.ChatMessageRoleUser
		}
		omsgs = append(omsgs, oai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	req := oai.ChatCompletionRequest{
		Model:       model,
		Messages:    omsgs,
		Stream:      true,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	stream, err := s.c.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, s.classify(err)
	}

	out := make(chan client.StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				s.send(ctx, out, client.StreamChunk{Final: true})
				return
			}
			if err != nil {
				s.send(ctx, out, client.StreamChunk{Err: s.classify(err)})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !s.send(ctx, out, client.StreamChunk{Delta: delta}) {
				return
			}
		}
	}()
	return out, nil
}

func (s *Streamer) send(ctx context.Context, out chan<- client.StreamChunk, chunk client.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// classify maps go-openai errors onto the shared error taxonomy.
func (s *Streamer) classify(err error) *client.ErrorInfo {
	var apiErr *oai.APIError
	if errors.As(err, &apiErr) {
		return client.ClassifyStatus(s.name, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *oai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode > 0 {
			return client.ClassifyStatus(s.name, reqErr.HTTPStatusCode, reqErr.Error())
		}
	}
	return client.ClassifyTransport(s.name, err)
}

// CheckHealth implements client.ChatStreamer.  Listing models is the
// cheapest authenticated call the API offers.
func (s *Streamer) CheckHealth(ctx context.Context) error {
	_, err := s.probe.ListModels(ctx)
	if err != nil {
		var apiErr *oai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return errors.New(s.name + ": invalid api key")
		}
		return err
	}
	return nil
}

var _ client.ChatStreamer = (*Streamer)(nil)
