// Package mock provides a scriptable chat streamer for tests.
package mock

import (
	"context"
	"sync"

	"loremaster/client"
)

// Streamer replays a scripted response.  Fields are read at call time,
// so a test may mutate the script between turns.
type Streamer struct {
	mu sync.Mutex

	// ProviderName is returned by Name.
	ProviderName string

	// Chunks are the deltas emitted, in order, before the terminal chunk.
	Chunks []string

	// ErrAfter, when non-negative, injects Err after that many deltas
	// have been emitted instead of finishing the stream.  -1 disables
	// injection.
	ErrAfter int
	Err      *client.ErrorInfo

	// StartErr, when set, is returned from StreamChat itself before
	// any channel is created.
	StartErr error

	// HealthErr is returned from CheckHealth.
	HealthErr error

	// Calls counts StreamChat invocations.  LastModel and LastMsgs
	// record the most recent request.
	Calls     int
	LastModel string
	LastMsgs  []client.Message
}

// New returns a streamer that emits the given deltas then finishes.
func New(name string, chunks ...string) *Streamer {
	return &Streamer{ProviderName: name, Chunks: chunks, ErrAfter: -1}
}

// Failing returns a streamer whose stream fails with info after n deltas.
func Failing(name string, info *client.ErrorInfo, n int, chunks ...string) *Streamer {
	return &Streamer{ProviderName: name, Chunks: chunks, ErrAfter: n, Err: info}
}

// Name implements client.ChatStreamer.
func (s *Streamer) Name() string { return s.ProviderName }

// StreamChat implements client.ChatStreamer.
func (s *Streamer) StreamChat(ctx context.Context, model string, msgs []client.Message, opts client.Options) (<-chan client.StreamChunk, error) {
	s.mu.Lock()
	s.Calls++
	s.LastModel = model
	s.LastMsgs = append([]client.Message(nil), msgs...)
	chunks := append([]string(nil), s.Chunks...)
	errAfter := s.ErrAfter
	errInfo := s.Err
	startErr := s.StartErr
	s.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}

	out := make(chan client.StreamChunk)
	go func() {
		defer close(out)
		for i, delta := range chunks {
			if errAfter >= 0 && i == errAfter {
				s.send(ctx, out, client.StreamChunk{Err: errInfo})
				return
			}
			if !s.send(ctx, out, client.StreamChunk{Delta: delta}) {
				return
			}
		}
		if errAfter >= 0 && errAfter >= len(chunks) {
			s.send(ctx, out, client.StreamChunk{Err: errInfo})
			return
		}
		s.send(ctx, out, client.StreamChunk{Final: true})
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

// CheckHealth implements client.ChatStreamer.
func (s *Streamer) CheckHealth(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.HealthErr
}

var _ client.ChatStreamer = (*Streamer)(nil)
